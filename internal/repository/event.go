package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bigkaa/teamcal/internal/domain/model"
)

// EventRepository — интерфейс CRUD для таблицы events.
type EventRepository interface {
	// Create вставляет новое событие.
	Create(ctx context.Context, e *model.CalendarEvent) error
	// GetByID возвращает событие по идентификатору.
	GetByID(ctx context.Context, id string) (*model.CalendarEvent, error)
	// List возвращает события владельца, пересекающиеся с окном [from, to],
	// отсортированные по времени начала по возрастанию.
	// Пустой owner — события всех владельцев.
	List(ctx context.Context, owner string, from, to time.Time) ([]*model.CalendarEvent, error)
	// Update обновляет изменяемые поля события (идентификатор неизменяем).
	Update(ctx context.Context, e *model.CalendarEvent) error
	// Delete удаляет событие по идентификатору.
	Delete(ctx context.Context, id string) error
	// Stats возвращает статистику по событиям.
	Stats(ctx context.Context) (*model.EventStats, error)
}

// eventRepo — реализация EventRepository.
type eventRepo struct {
	db DBTX
}

// NewEventRepository создаёт репозиторий событий календаря.
func NewEventRepository(db DBTX) EventRepository {
	return &eventRepo{db: db}
}

const eventColumns = `id, owner, title, start_ts, end_ts, description, location, source, created_at, updated_at`

func (r *eventRepo) Create(ctx context.Context, e *model.CalendarEvent) error {
	query := `
		INSERT INTO events (id, owner, title, start_ts, end_ts, description, location, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC().Unix()
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.Owner, e.Title,
		e.Start.UTC().Unix(), e.End.UTC().Unix(),
		e.Description, e.Location, e.Source,
		now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания события: %w", err)
	}
	return nil
}

func (r *eventRepo) GetByID(ctx context.Context, id string) (*model.CalendarEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM events WHERE id = ?`, eventColumns)

	e, err := scanEvent(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения события: %w", err)
	}
	return e, nil
}

// List отбирает события с пересечением интервалов:
// [start, end] ∩ [from, to] ≠ ∅  ⇔  start <= to AND end >= from.
func (r *eventRepo) List(ctx context.Context, owner string, from, to time.Time) ([]*model.CalendarEvent, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM events
		WHERE start_ts <= ? AND end_ts >= ?`, eventColumns)
	args := []any{to.UTC().Unix(), from.UTC().Unix()}

	if owner != "" {
		query += ` AND owner = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY start_ts ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка событий: %w", err)
	}
	defer rows.Close()

	var result []*model.CalendarEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования события: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *eventRepo) Update(ctx context.Context, e *model.CalendarEvent) error {
	query := `
		UPDATE events
		SET title = ?, start_ts = ?, end_ts = ?, description = ?, location = ?, updated_at = unixepoch()
		WHERE id = ?`

	res, err := r.db.ExecContext(ctx, query,
		e.Title, e.Start.UTC().Unix(), e.End.UTC().Unix(),
		e.Description, e.Location, e.ID,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления события: %w", err)
	}
	return requireAffected(res)
}

func (r *eventRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления события: %w", err)
	}
	return requireAffected(res)
}

func (r *eventRepo) Stats(ctx context.Context) (*model.EventStats, error) {
	stats := &model.EventStats{OwnerCounts: map[string]int{}}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&stats.TotalEvents); err != nil {
		return nil, fmt.Errorf("ошибка подсчёта событий: %w", err)
	}

	weekAgo := time.Now().UTC().Add(-7 * 24 * time.Hour).Unix()
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE created_at >= ?`, weekAgo,
	).Scan(&stats.RecentEvents); err != nil {
		return nil, fmt.Errorf("ошибка подсчёта недавних событий: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT owner, COUNT(*) FROM events GROUP BY owner`)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта событий по владельцам: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var owner string
		var count int
		if err := rows.Scan(&owner, &count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования статистики: %w", err)
		}
		stats.OwnerCounts[owner] = count
	}
	return stats, rows.Err()
}

// scanEvent читает одну строку таблицы events в модель.
func scanEvent(row rowScanner) (*model.CalendarEvent, error) {
	e := &model.CalendarEvent{}
	var startTS, endTS, createdAt, updatedAt int64

	if err := row.Scan(
		&e.ID, &e.Owner, &e.Title, &startTS, &endTS,
		&e.Description, &e.Location, &e.Source, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	e.Start = unixUTC(startTS)
	e.End = unixUTC(endTS)
	e.CreatedAt = unixUTC(createdAt)
	e.UpdatedAt = unixUTC(updatedAt)
	return e, nil
}
