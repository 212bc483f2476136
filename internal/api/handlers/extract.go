// extract.go — извлечение событий из изображения и подтверждение кандидатов.
// Изображение уходит во внешний Vision API; кандидаты не сохраняются,
// пока администратор не подтвердит их явно.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/teamcal/internal/api/errors"
	"github.com/bigkaa/teamcal/internal/api/middleware"
	"github.com/bigkaa/teamcal/internal/domain/model"
	"github.com/bigkaa/teamcal/internal/service"
	"github.com/bigkaa/teamcal/internal/vision"
)

// Максимальный размер загружаемого изображения (10 МБ).
const maxImageSize = 10 << 20

// extractResponse — ответ POST /api/v1/extract.
type extractResponse struct {
	Candidates []vision.Candidate `json:"candidates"`
}

// confirmRequest — тело запроса POST /api/v1/extract/confirm:
// подтверждённые пользователем кандидаты.
type confirmRequest struct {
	Events []eventRequest `json:"events"`
}

// Extract — POST /api/v1/extract (multipart, поле image).
// Возвращает кандидатов; пустой список — успех (на изображении нет событий).
func (h *APIHandler) Extract(w http.ResponseWriter, r *http.Request) {
	if !h.vision.Enabled() {
		apierrors.VisionUnavailable(w, "Извлечение событий не сконфигурировано")
		return
	}

	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		apierrors.ValidationError(w, "Ожидается multipart-форма с полем image")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		apierrors.ValidationError(w, "Отсутствует поле image")
		return
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, maxImageSize))
	if err != nil {
		apierrors.ValidationError(w, "Не удалось прочитать изображение")
		return
	}
	if len(image) == 0 {
		apierrors.ValidationError(w, "Пустое изображение")
		return
	}

	candidates, err := h.vision.Extract(r.Context(), image, header.Header.Get("Content-Type"))
	if err != nil {
		switch {
		case errors.Is(err, vision.ErrUnavailable), errors.Is(err, vision.ErrAuth):
			h.logger.Warn("Vision API недоступен", slog.String("error", err.Error()))
			apierrors.VisionUnavailable(w, "Сервис извлечения событий недоступен")
		case errors.Is(err, vision.ErrBadImage):
			apierrors.ValidationError(w, "Vision API отклонил изображение")
		default:
			h.logger.Error("Ошибка извлечения событий", slog.String("error", err.Error()))
			apierrors.InternalError(w, "Внутренняя ошибка")
		}
		return
	}

	writeJSON(w, http.StatusOK, extractResponse{Candidates: candidates})
}

// ExtractConfirm — POST /api/v1/extract/confirm.
// Создаёт события из подтверждённых кандидатов с source ai-extracted.
// Невалидный кандидат отклоняет весь запрос: ничего не создано.
func (h *APIHandler) ExtractConfirm(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	if len(req.Events) == 0 {
		apierrors.ValidationError(w, "Список events пуст")
		return
	}

	// Сначала валидируем все кандидаты, затем создаём
	inputs := make([]service.EventInput, 0, len(req.Events))
	for i := range req.Events {
		in, err := req.Events[i].toInput()
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		inputs = append(inputs, in)
	}

	created := make([]*model.CalendarEvent, 0, len(inputs))
	for _, in := range inputs {
		e, err := h.events.Create(r.Context(), identity.Username, in, model.SourceAIExtracted)
		if err != nil {
			h.writeEventError(w, err)
			return
		}
		created = append(created, e)
	}

	h.logger.Info("Кандидаты подтверждены",
		slog.String("username", identity.Username),
		slog.Int("created", len(created)),
	)
	writeJSON(w, http.StatusCreated, created)
}
