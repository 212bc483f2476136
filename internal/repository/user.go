package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bigkaa/teamcal/internal/domain/model"
	"github.com/bigkaa/teamcal/internal/domain/perm"
)

// UserRepository — интерфейс CRUD для таблицы users.
type UserRepository interface {
	// Create вставляет нового пользователя.
	Create(ctx context.Context, u *model.User) error
	// GetByUsername возвращает пользователя по имени.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// List возвращает всех пользователей, отсортированных по имени.
	List(ctx context.Context) ([]*model.User, error)
	// UpdatePermissions атомарно заменяет набор прав пользователя.
	UpdatePermissions(ctx context.Context, username string, permissions []string) error
	// UpdateLastLogin фиксирует время последнего входа.
	UpdateLastLogin(ctx context.Context, username string) error
	// Delete удаляет пользователя по имени.
	Delete(ctx context.Context, username string) error
	// CountWithPermission возвращает количество пользователей с указанным тегом.
	CountWithPermission(ctx context.Context, tag string) (int, error)
}

// userRepo — реализация UserRepository.
type userRepo struct {
	db DBTX
}

// NewUserRepository создаёт репозиторий пользователей.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepo{db: db}
}

const userColumns = `username, password_hash, permissions, created_at, last_login`

func (r *userRepo) Create(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (username, password_hash, permissions, created_at)
		VALUES (?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		u.Username, u.PasswordHash, perm.FormatCSV(u.Permissions), u.CreatedAt.UTC().Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания пользователя: %w", err)
	}
	return nil
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE username = ?`, userColumns)

	u, err := scanUser(r.db.QueryRowContext(ctx, query, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return u, nil
}

func (r *userRepo) List(ctx context.Context) ([]*model.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users ORDER BY username`, userColumns)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка пользователей: %w", err)
	}
	defer rows.Close()

	var result []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования пользователя: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (r *userRepo) UpdatePermissions(ctx context.Context, username string, permissions []string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET permissions = ? WHERE username = ?`,
		perm.FormatCSV(permissions), username,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления прав: %w", err)
	}
	return requireAffected(res)
}

func (r *userRepo) UpdateLastLogin(ctx context.Context, username string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET last_login = unixepoch() WHERE username = ?`,
		username,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления last_login: %w", err)
	}
	return requireAffected(res)
}

func (r *userRepo) Delete(ctx context.Context, username string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("ошибка удаления пользователя: %w", err)
	}
	return requireAffected(res)
}

// CountWithPermission считает пользователей, чей CSV-набор прав содержит тег.
// Формат хранения — "a,b,c", поэтому ищем тег с учётом границ элементов.
func (r *userRepo) CountWithPermission(ctx context.Context, tag string) (int, error) {
	query := `SELECT COUNT(*) FROM users WHERE ',' || permissions || ',' LIKE '%,' || ? || ',%'`

	var count int
	if err := r.db.QueryRowContext(ctx, query, tag).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта пользователей с тегом %q: %w", tag, err)
	}
	return count, nil
}

// --- Вспомогательные функции ---

// rowScanner покрывает *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanUser читает одну строку таблицы users в модель.
func scanUser(row rowScanner) (*model.User, error) {
	u := &model.User{}
	var permCSV string
	var createdAt int64
	var lastLogin sql.NullInt64

	if err := row.Scan(&u.Username, &u.PasswordHash, &permCSV, &createdAt, &lastLogin); err != nil {
		return nil, err
	}

	u.Permissions = perm.ParseCSV(permCSV)
	u.CreatedAt = unixUTC(createdAt)
	if lastLogin.Valid {
		t := unixUTC(lastLogin.Int64)
		u.LastLogin = &t
	}
	return u, nil
}

// requireAffected возвращает ErrNotFound, если запрос не затронул ни одной строки.
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
