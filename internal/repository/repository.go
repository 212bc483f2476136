// Пакет repository — слой доступа к данным SQLite.
// Все запросы — чистый SQL через database/sql, без ORM.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *sql.DB, так и *sql.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	db *sql.DB
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(db *sql.DB) *TxRunner {
	return &TxRunner{db: db}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// unixUTC преобразует unix-секунды из БД в time.Time (UTC).
func unixUTC(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности SQLite.
// modernc/sqlite не экспортирует типизированные коды, проверяем текст
// constraint-ошибки (SQLITE_CONSTRAINT_PRIMARYKEY / UNIQUE).
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: users.username")
}
