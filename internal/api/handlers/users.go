// users.go — обработчики управления пользователями (панель администрирования).
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/teamcal/internal/api/errors"
	"github.com/bigkaa/teamcal/internal/domain/model"
	"github.com/bigkaa/teamcal/internal/service"
)

// userResponse — представление пользователя в API. Хеш пароля не отдаётся.
type userResponse struct {
	Username    string   `json:"username"`
	Permissions []string `json:"permissions"`
	CreatedAt   string   `json:"created_at"`
	LastLogin   *string  `json:"last_login,omitempty"`
}

func toUserResponse(u *model.User) userResponse {
	resp := userResponse{
		Username:    u.Username,
		Permissions: u.Permissions,
		CreatedAt:   u.CreatedAt.UTC().Format(time.RFC3339),
	}
	if resp.Permissions == nil {
		resp.Permissions = []string{}
	}
	if u.LastLogin != nil {
		ll := u.LastLogin.UTC().Format(time.RFC3339)
		resp.LastLogin = &ll
	}
	return resp
}

// createUserRequest — тело запроса POST /api/v1/users.
type createUserRequest struct {
	Username    string   `json:"username"`
	Password    string   `json:"password"`
	Permissions []string `json:"permissions"`
}

// updatePermissionsRequest — тело запроса PUT /api/v1/users/{username}/permissions.
type updatePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

// ListUsers — GET /api/v1/users.
func (h *APIHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		h.logger.Error("Ошибка получения списка пользователей", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка")
		return
	}

	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateUser — POST /api/v1/users.
func (h *APIHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}

	u, err := h.users.Create(r.Context(), req.Username, req.Password, req.Permissions)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrConflict):
			apierrors.Conflict(w, "Пользователь с таким именем уже существует")
		case errors.Is(err, service.ErrEmptyField),
			errors.Is(err, service.ErrWeakPassword),
			errors.Is(err, service.ErrInvalidPermission):
			apierrors.ValidationError(w, err.Error())
		default:
			h.logger.Error("Ошибка создания пользователя", slog.String("error", err.Error()))
			apierrors.InternalError(w, "Внутренняя ошибка")
		}
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

// GetUser — GET /api/v1/users/{username}.
func (h *APIHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	u, err := h.users.Get(r.Context(), username)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			apierrors.NotFound(w, "Пользователь не найден")
			return
		}
		h.logger.Error("Ошибка получения пользователя", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка")
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// UpdateUserPermissions — PUT /api/v1/users/{username}/permissions.
// Новый набор прав вступает в силу для сессий, выданных после изменения.
func (h *APIHandler) UpdateUserPermissions(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	var req updatePermissionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}

	if err := h.users.UpdatePermissions(r.Context(), username, req.Permissions); err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			apierrors.NotFound(w, "Пользователь не найден")
		case errors.Is(err, service.ErrInvalidPermission):
			apierrors.ValidationError(w, err.Error())
		default:
			h.logger.Error("Ошибка обновления прав", slog.String("error", err.Error()))
			apierrors.InternalError(w, "Внутренняя ошибка")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteUser — DELETE /api/v1/users/{username}.
// Единственный администратор защищён от удаления.
func (h *APIHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	if err := h.users.Delete(r.Context(), username); err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			apierrors.NotFound(w, "Пользователь не найден")
		case errors.Is(err, service.ErrLastAdmin):
			apierrors.LastAdminProtected(w, "Нельзя удалить единственного администратора")
		default:
			h.logger.Error("Ошибка удаления пользователя", slog.String("error", err.Error()))
			apierrors.InternalError(w, "Внутренняя ошибка")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
