// auth.go — middleware аутентификации по зашифрованному session cookie
// и авторизации по тегам прав. Identity пользователя помещается в контекст
// запроса; отказ — JSON-ошибка, без редиректов (ими занимается фронтенд).
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/teamcal/internal/api/errors"
	"github.com/bigkaa/teamcal/internal/domain/model"
	"github.com/bigkaa/teamcal/internal/domain/perm"
	"github.com/bigkaa/teamcal/internal/session"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyIdentity — Identity аутентифицированного пользователя в контексте.
const ContextKeyIdentity contextKey = "identity"

// SessionAuth — middleware аутентификации по session cookie.
type SessionAuth struct {
	sessions *session.Manager
	logger   *slog.Logger
}

// NewSessionAuth создаёт middleware аутентификации.
func NewSessionAuth(sessions *session.Manager, logger *slog.Logger) *SessionAuth {
	return &SessionAuth{
		sessions: sessions,
		logger:   logger.With(slog.String("component", "session_auth")),
	}
}

// Middleware проверяет session cookie: дешифрует, отклоняет истёкшие и
// повреждённые сессии, помещает Identity в контекст запроса.
func (a *SessionAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data, err := a.sessions.FromRequest(r)
			if err != nil {
				// Повреждённый или зашифрованный чужим ключом cookie
				a.logger.Debug("Невалидный session cookie",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидная сессия")
				return
			}
			if data == nil {
				apierrors.Unauthorized(w, "Требуется аутентификация")
				return
			}
			if data.IsExpired() {
				apierrors.Unauthorized(w, "Сессия истекла")
				return
			}

			identity := &model.Identity{
				Username:    data.Username,
				Permissions: data.Permissions,
			}

			ctx := context.WithValue(r.Context(), ContextKeyIdentity, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission возвращает middleware, требующий доступа к странице page.
// Тег admin открывает любую страницу. Должен использоваться ПОСЛЕ Middleware().
func RequirePermission(page perm.Page) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := IdentityFromContext(r.Context())
			if identity == nil {
				apierrors.Unauthorized(w, "Отсутствует identity в контексте")
				return
			}

			if !perm.CanAccess(identity.Permissions, page) {
				apierrors.Forbidden(w, "Недостаточно прав: требуется доступ к странице "+string(page))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IdentityFromContext извлекает Identity из контекста запроса.
// Возвращает nil, если identity не найдена.
func IdentityFromContext(ctx context.Context) *model.Identity {
	identity, _ := ctx.Value(ContextKeyIdentity).(*model.Identity)
	return identity
}
