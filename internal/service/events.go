// events.go — сервис событий календаря.
// CRUD с инвариантом start <= end, выборка по окну, экспорт ICS (RFC 5545),
// статистика. Изменять и удалять событие может владелец либо администратор.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"github.com/bigkaa/teamcal/internal/domain/model"
	"github.com/bigkaa/teamcal/internal/domain/perm"
	"github.com/bigkaa/teamcal/internal/repository"
)

// EventService — сервис событий календаря.
type EventService struct {
	events repository.EventRepository
	logger *slog.Logger
}

// NewEventService создаёт сервис событий.
func NewEventService(events repository.EventRepository, logger *slog.Logger) *EventService {
	return &EventService{
		events: events,
		logger: logger.With(slog.String("component", "event_service")),
	}
}

// EventInput — поля события при создании и обновлении.
type EventInput struct {
	Title       string
	Start       time.Time
	End         time.Time
	Description string
	Location    string
}

// validate проверяет обязательные поля и инвариант интервала.
// Событие нулевой длительности (Start == End) допустимо.
func (in *EventInput) validate() error {
	if in.Title == "" {
		return fmt.Errorf("%w: title", ErrEmptyField)
	}
	if in.Start.IsZero() || in.End.IsZero() {
		return fmt.Errorf("%w: start/end", ErrEmptyField)
	}
	if in.Start.After(in.End) {
		return ErrInvalidRange
	}
	return nil
}

// Create создаёт событие от имени владельца owner.
// source — manual либо ai-extracted (пустой трактуется как manual).
func (s *EventService) Create(ctx context.Context, owner string, in EventInput, source string) (*model.CalendarEvent, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if source == "" {
		source = model.SourceManual
	}
	if source != model.SourceManual && source != model.SourceAIExtracted {
		return nil, fmt.Errorf("недопустимый source %q", source)
	}

	e := &model.CalendarEvent{
		ID:          uuid.New().String(),
		Owner:       owner,
		Title:       in.Title,
		Start:       in.Start.UTC(),
		End:         in.End.UTC(),
		Description: in.Description,
		Location:    in.Location,
		Source:      source,
	}

	if err := s.events.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("создание события: %w", err)
	}

	s.logger.Info("Событие создано",
		slog.String("event_id", e.ID),
		slog.String("owner", owner),
		slog.String("title", e.Title),
		slog.String("source", source),
	)
	return e, nil
}

// Update обновляет событие от имени requester.
// Событие чужого владельца для не-администратора неотличимо от
// отсутствующего — ErrEventNotFound в обоих случаях.
func (s *EventService) Update(ctx context.Context, requester *model.Identity, id string, in EventInput) (*model.CalendarEvent, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	e, err := s.getOwned(ctx, requester, id)
	if err != nil {
		return nil, err
	}

	e.Title = in.Title
	e.Start = in.Start.UTC()
	e.End = in.End.UTC()
	e.Description = in.Description
	e.Location = in.Location

	if err := s.events.Update(ctx, e); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("обновление события: %w", err)
	}

	s.logger.Info("Событие обновлено",
		slog.String("event_id", id),
		slog.String("requester", requester.Username),
	)
	return e, nil
}

// Delete удаляет событие от имени requester (владелец либо администратор).
func (s *EventService) Delete(ctx context.Context, requester *model.Identity, id string) error {
	if _, err := s.getOwned(ctx, requester, id); err != nil {
		return err
	}

	if err := s.events.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrEventNotFound
		}
		return fmt.Errorf("удаление события: %w", err)
	}

	s.logger.Info("Событие удалено",
		slog.String("event_id", id),
		slog.String("requester", requester.Username),
	)
	return nil
}

// List возвращает события, пересекающиеся с окном [from, to], по возрастанию
// времени начала. Не-администратор видит только собственные события;
// администратор может запросить любого владельца или всех (owner == "").
// Нулевые границы окна раскрываются до "с начала эпохи" / "до конца времён".
func (s *EventService) List(ctx context.Context, requester *model.Identity, owner string, from, to time.Time) ([]*model.CalendarEvent, error) {
	owner = s.effectiveOwner(requester, owner)
	from, to = normalizeWindow(from, to)

	events, err := s.events.List(ctx, owner, from, to)
	if err != nil {
		return nil, fmt.Errorf("получение списка событий: %w", err)
	}
	return events, nil
}

// ExportICS сериализует отфильтрованный список событий в формат ICS.
// Один VEVENT на событие, UID — идентификатор события, DTSTART/DTEND в UTC.
func (s *EventService) ExportICS(ctx context.Context, requester *model.Identity, owner string, from, to time.Time) (string, error) {
	events, err := s.List(ctx, requester, owner, from, to)
	if err != nil {
		return "", err
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//teamcal//calendar//RU")

	now := time.Now().UTC()
	for _, e := range events {
		ev := cal.AddEvent(e.ID)
		ev.SetDtStampTime(now)
		ev.SetStartAt(e.Start.UTC())
		ev.SetEndAt(e.End.UTC())
		ev.SetSummary(e.Title)
		if e.Location != "" {
			ev.SetLocation(e.Location)
		}
		if e.Description != "" {
			ev.SetDescription(e.Description)
		}
	}

	return cal.Serialize(), nil
}

// Stats возвращает статистику по событиям (для панели администрирования).
func (s *EventService) Stats(ctx context.Context) (*model.EventStats, error) {
	stats, err := s.events.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение статистики: %w", err)
	}
	return stats, nil
}

// --- Вспомогательные функции ---

// getOwned возвращает событие, если requester — владелец или администратор.
func (s *EventService) getOwned(ctx context.Context, requester *model.Identity, id string) (*model.CalendarEvent, error) {
	e, err := s.events.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("получение события: %w", err)
	}

	if e.Owner != requester.Username && !perm.IsAdmin(requester.Permissions) {
		return nil, ErrEventNotFound
	}
	return e, nil
}

// effectiveOwner ограничивает фильтр владельца: не-администратор всегда
// получает только собственные события.
func (s *EventService) effectiveOwner(requester *model.Identity, owner string) string {
	if perm.IsAdmin(requester.Permissions) {
		return owner
	}
	return requester.Username
}

// normalizeWindow раскрывает нулевые границы окна выборки.
func normalizeWindow(from, to time.Time) (time.Time, time.Time) {
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	if to.IsZero() {
		to = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
	}
	return from, to
}
