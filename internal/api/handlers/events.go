// events.go — обработчики событий календаря: CRUD, выборка по окну,
// экспорт ICS, статистика.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/teamcal/internal/api/errors"
	"github.com/bigkaa/teamcal/internal/api/middleware"
	"github.com/bigkaa/teamcal/internal/domain/model"
	"github.com/bigkaa/teamcal/internal/service"
)

// eventRequest — тело запроса создания и обновления события.
// Времена — RFC 3339.
type eventRequest struct {
	Title       string `json:"title"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

// toInput разбирает времена запроса в service.EventInput.
func (req *eventRequest) toInput() (service.EventInput, error) {
	var in service.EventInput

	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		return in, errors.New("поле start: ожидается время RFC 3339")
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		return in, errors.New("поле end: ожидается время RFC 3339")
	}

	in = service.EventInput{
		Title:       req.Title,
		Start:       start,
		End:         end,
		Description: req.Description,
		Location:    req.Location,
	}
	return in, nil
}

// parseWindow разбирает опциональные параметры окна from/to.
func parseWindow(r *http.Request) (from, to time.Time, err error) {
	if v := r.URL.Query().Get("from"); v != "" {
		from, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, errors.New("параметр from: ожидается время RFC 3339")
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		to, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, errors.New("параметр to: ожидается время RFC 3339")
		}
	}
	return from, to, nil
}

// ListEvents — GET /api/v1/events?from=&to=&owner=.
// Не-администратор видит только собственные события.
func (h *APIHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())

	from, to, err := parseWindow(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	events, err := h.events.List(r.Context(), identity, r.URL.Query().Get("owner"), from, to)
	if err != nil {
		h.logger.Error("Ошибка получения списка событий", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка")
		return
	}

	if events == nil {
		events = []*model.CalendarEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// CreateEvent — POST /api/v1/events. Владелец — текущий пользователь.
func (h *APIHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}

	in, err := req.toInput()
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	e, err := h.events.Create(r.Context(), identity.Username, in, model.SourceManual)
	if err != nil {
		h.writeEventError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, e)
}

// UpdateEvent — PUT /api/v1/events/{id}.
func (h *APIHandler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}

	in, err := req.toInput()
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	e, err := h.events.Update(r.Context(), identity, id, in)
	if err != nil {
		h.writeEventError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, e)
}

// DeleteEvent — DELETE /api/v1/events/{id}.
func (h *APIHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := h.events.Delete(r.Context(), identity, id); err != nil {
		h.writeEventError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ExportICS — GET /api/v1/events/export.ics?from=&to=&owner=.
// Возвращает отфильтрованный календарь в формате RFC 5545.
func (h *APIHandler) ExportICS(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())

	from, to, err := parseWindow(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	payload, err := h.events.ExportICS(r.Context(), identity, r.URL.Query().Get("owner"), from, to)
	if err != nil {
		h.logger.Error("Ошибка экспорта ICS", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="teamcal.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(payload))
}

// EventStats — GET /api/v1/events/stats. Статистика для панели администрирования.
func (h *APIHandler) EventStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.events.Stats(r.Context())
	if err != nil {
		h.logger.Error("Ошибка получения статистики", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// writeEventError переводит ошибки сервиса событий в HTTP-ответы.
func (h *APIHandler) writeEventError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrEventNotFound):
		apierrors.NotFound(w, "Событие не найдено")
	case errors.Is(err, service.ErrInvalidRange):
		apierrors.InvalidRange(w, "Начало события позже его конца")
	case errors.Is(err, service.ErrEmptyField):
		apierrors.ValidationError(w, err.Error())
	default:
		h.logger.Error("Ошибка операции с событием", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка")
	}
}
