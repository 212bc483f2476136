// auth.go — обработчики аутентификации: вход, выход, текущий пользователь.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/teamcal/internal/api/errors"
	"github.com/bigkaa/teamcal/internal/api/middleware"
	"github.com/bigkaa/teamcal/internal/service"
)

// loginRequest — тело запроса POST /api/v1/auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login — POST /api/v1/auth/login.
// Успешная проверка пароля выдаёт зашифрованный session cookie.
// Неизвестный пользователь и неверный пароль снаружи неразличимы: 401.
func (h *APIHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	if req.Username == "" || req.Password == "" {
		apierrors.ValidationError(w, "Требуются username и password")
		return
	}

	identity, err := h.auth.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			apierrors.Unauthorized(w, "Неверное имя пользователя или пароль")
			return
		}
		h.logger.Error("Ошибка аутентификации",
			slog.String("username", req.Username),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка")
		return
	}

	if err := h.sessions.Issue(w, identity.Username, identity.Permissions); err != nil {
		h.logger.Error("Ошибка выдачи сессии", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка")
		return
	}

	writeJSON(w, http.StatusOK, identity)
}

// Logout — POST /api/v1/auth/logout. Удаляет session cookie.
func (h *APIHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me — GET /api/v1/auth/me. Возвращает identity текущей сессии.
func (h *APIHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	if identity == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}
	writeJSON(w, http.StatusOK, identity)
}
