package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bigkaa/teamcal/internal/domain/perm"
	"github.com/bigkaa/teamcal/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupAuth собирает менеджер сессий и SessionAuth поверх одного ключа.
func setupAuth(t *testing.T) (*session.Manager, *SessionAuth) {
	t.Helper()
	sm, err := session.NewManager("test-key", time.Hour, false)
	if err != nil {
		t.Fatalf("Ошибка создания Manager: %v", err)
	}
	return sm, NewSessionAuth(sm, testLogger())
}

// okHandler отвечает 200 и именем пользователя из контекста.
func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := IdentityFromContext(r.Context())
		if identity == nil {
			t.Error("identity отсутствует в контексте защищённого handler")
			return
		}
		w.Write([]byte(identity.Username))
	})
}

// sessionRequest создаёт запрос с cookie свежевыданной сессии.
func sessionRequest(t *testing.T, sm *session.Manager, username string, perms []string) *http.Request {
	t.Helper()

	w := httptest.NewRecorder()
	if err := sm.Issue(w, username, perms); err != nil {
		t.Fatalf("Ошибка выдачи сессии: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	for _, c := range w.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

// errorCode извлекает код ошибки из JSON-ответа.
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("декодирование ответа: %v", err)
	}
	return body.Error.Code
}

func TestSessionAuth_ValidSession(t *testing.T) {
	sm, auth := setupAuth(t)
	handler := auth.Middleware()(okHandler(t))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, sessionRequest(t, sm, "alice", []string{"calendar"}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, ожидается 200", rec.Code)
	}
	if rec.Body.String() != "alice" {
		t.Errorf("body = %q, ожидается alice", rec.Body.String())
	}
}

func TestSessionAuth_NoCookie(t *testing.T) {
	_, auth := setupAuth(t)
	handler := auth.Middleware()(okHandler(t))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, ожидается 401", rec.Code)
	}
	if code := errorCode(t, rec); code != "UNAUTHORIZED" {
		t.Errorf("code = %q, ожидается UNAUTHORIZED", code)
	}
}

func TestSessionAuth_TamperedCookie(t *testing.T) {
	_, auth := setupAuth(t)
	handler := auth.Middleware()(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "повреждённое-значение"})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, ожидается 401", rec.Code)
	}
}

func TestSessionAuth_ExpiredSession(t *testing.T) {
	// Сессии с нулевым TTL истекают немедленно
	sm, err := session.NewManager("test-key", 0, false)
	if err != nil {
		t.Fatalf("Ошибка создания Manager: %v", err)
	}
	auth := NewSessionAuth(sm, testLogger())
	handler := auth.Middleware()(okHandler(t))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, sessionRequest(t, sm, "alice", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, ожидается 401 для истёкшей сессии", rec.Code)
	}
}

// TestRequirePermission — тег admin открывает любую страницу,
// остальные теги — только свою.
func TestRequirePermission(t *testing.T) {
	sm, auth := setupAuth(t)

	tests := []struct {
		name       string
		perms      []string
		page       perm.Page
		wantStatus int
	}{
		{"тег страницы", []string{"calendar"}, perm.PageCalendar, http.StatusOK},
		{"admin открывает календарь", []string{"admin"}, perm.PageCalendar, http.StatusOK},
		{"admin открывает админку", []string{"admin"}, perm.PageAdmin, http.StatusOK},
		{"чужая страница", []string{"calendar"}, perm.PageAdmin, http.StatusForbidden},
		{"пустой набор", nil, perm.PageCalendar, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := auth.Middleware()(RequirePermission(tt.page)(okHandler(t)))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, sessionRequest(t, sm, "alice", tt.perms))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, ожидается %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusForbidden {
				if code := errorCode(t, rec); code != "FORBIDDEN" {
					t.Errorf("code = %q, ожидается FORBIDDEN", code)
				}
			}
		})
	}
}

func TestIdentityFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if identity := IdentityFromContext(req.Context()); identity != nil {
		t.Errorf("identity = %+v, ожидается nil", identity)
	}
}
