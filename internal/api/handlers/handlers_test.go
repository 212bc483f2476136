package handlers_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bigkaa/teamcal/internal/api/handlers"
	"github.com/bigkaa/teamcal/internal/api/middleware"
	"github.com/bigkaa/teamcal/internal/database"
	"github.com/bigkaa/teamcal/internal/repository"
	"github.com/bigkaa/teamcal/internal/server"
	"github.com/bigkaa/teamcal/internal/service"
	"github.com/bigkaa/teamcal/internal/session"
	"github.com/bigkaa/teamcal/internal/vision"
)

// testEnv — собранное приложение поверх in-memory SQLite.
type testEnv struct {
	router   http.Handler
	users    *service.UserService
	sessions *session.Manager
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupEnv собирает полный стек: БД, сервисы, handlers, роутер.
// visionURL — базовый URL mock Vision API; пустой — извлечение отключено.
func setupEnv(t *testing.T, visionURL string) *testEnv {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Не удалось открыть in-memory SQLite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	schema := `
CREATE TABLE users (
    username      TEXT PRIMARY KEY,
    password_hash TEXT NOT NULL,
    permissions   TEXT NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL,
    last_login    INTEGER
);
CREATE TABLE events (
    id          TEXT PRIMARY KEY,
    owner       TEXT NOT NULL,
    title       TEXT NOT NULL,
    start_ts    INTEGER NOT NULL,
    end_ts      INTEGER NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    location    TEXT NOT NULL DEFAULT '',
    source      TEXT NOT NULL DEFAULT 'manual',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL,
    CHECK (start_ts <= end_ts)
);`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("Не удалось создать схему: %v", err)
	}

	logger := discardLogger()
	userRepo := repository.NewUserRepository(db)
	eventRepo := repository.NewEventRepository(db)

	authSvc := service.NewAuthService(userRepo, logger)
	userSvc := service.NewUserService(userRepo, repository.NewTxRunner(db), logger)
	eventSvc := service.NewEventService(eventRepo, logger)

	visionClient := vision.New(visionURL, "test-key", "gpt-4o", nil, logger)

	sessionMgr, err := session.NewManager("test-secret", time.Hour, false)
	if err != nil {
		t.Fatalf("Ошибка создания менеджера сессий: %v", err)
	}

	apiHandler := handlers.NewAPIHandler(
		handlers.NewHealthHandler(database.NewReadinessChecker(db)),
		authSvc,
		userSvc,
		eventSvc,
		visionClient,
		sessionMgr,
		logger,
	)
	router := server.NewRouter(logger, apiHandler, middleware.NewSessionAuth(sessionMgr, logger))

	return &testEnv{router: router, users: userSvc, sessions: sessionMgr}
}

// mustCreateUser создаёт пользователя напрямую через сервис.
func (e *testEnv) mustCreateUser(t *testing.T, username, password string, perms []string) {
	t.Helper()
	if _, err := e.users.Create(context.Background(), username, password, perms); err != nil {
		t.Fatalf("Create(%s) вернул ошибку: %v", username, err)
	}
}

// login выполняет POST /api/v1/auth/login и возвращает session cookies.
func (e *testEnv) login(t *testing.T, username, password string) []*http.Cookie {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login(%s) = %d: %s", username, rec.Code, rec.Body.String())
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("login не установил session cookie")
	}
	return cookies
}

// do выполняет запрос через роутер с опциональными cookie и JSON-телом.
func (e *testEnv) do(method, target string, cookies []*http.Cookie, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// errorCode извлекает машиночитаемый код из JSON-конверта ошибки.
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("декодирование конверта ошибки: %v", err)
	}
	return body.Error.Code
}

// --- Аутентификация ---

func TestLoginLogoutMe(t *testing.T) {
	env := setupEnv(t, "")
	env.mustCreateUser(t, "alice", "alice-password", []string{"calendar"})

	// Неверный пароль и неизвестный пользователь — одинаковые 401
	rec := env.do(http.MethodPost, "/api/v1/auth/login", nil,
		map[string]string{"username": "alice", "password": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("login с неверным паролем = %d, ожидается 401", rec.Code)
	}
	rec = env.do(http.MethodPost, "/api/v1/auth/login", nil,
		map[string]string{"username": "ghost", "password": "whatever"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("login неизвестного пользователя = %d, ожидается 401", rec.Code)
	}

	// Успешный вход
	cookies := env.login(t, "alice", "alice-password")

	// /me возвращает identity
	rec = env.do(http.MethodGet, "/api/v1/auth/me", cookies, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me = %d: %s", rec.Code, rec.Body.String())
	}
	var identity struct {
		Username    string   `json:"username"`
		Permissions []string `json:"permissions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&identity); err != nil {
		t.Fatalf("декодирование identity: %v", err)
	}
	if identity.Username != "alice" || len(identity.Permissions) != 1 {
		t.Errorf("identity = %+v", identity)
	}

	// Без cookie — 401
	rec = env.do(http.MethodGet, "/api/v1/auth/me", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("me без сессии = %d, ожидается 401", rec.Code)
	}

	// Logout чистит cookie
	rec = env.do(http.MethodPost, "/api/v1/auth/logout", cookies, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("logout = %d, ожидается 204", rec.Code)
	}
	cleared := rec.Result().Cookies()
	if len(cleared) == 0 || cleared[0].MaxAge != -1 {
		t.Error("logout не удалил session cookie")
	}
}

// --- Авторизация по тегам ---

func TestPermissionGating(t *testing.T) {
	env := setupEnv(t, "")
	env.mustCreateUser(t, "alice", "alice-password", []string{"calendar"})
	env.mustCreateUser(t, "root", "root-password", []string{"admin"})

	alice := env.login(t, "alice", "alice-password")
	admin := env.login(t, "root", "root-password")

	// calendar-пользователь не попадает в админку
	rec := env.do(http.MethodGet, "/api/v1/users", alice, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("users для calendar-пользователя = %d, ожидается 403", rec.Code)
	}
	if code := errorCode(t, rec); code != "FORBIDDEN" {
		t.Errorf("code = %q, ожидается FORBIDDEN", code)
	}

	// Тег admin открывает и админку, и календарь
	if rec := env.do(http.MethodGet, "/api/v1/users", admin, nil); rec.Code != http.StatusOK {
		t.Errorf("users для admin = %d, ожидается 200", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/v1/events", admin, nil); rec.Code != http.StatusOK {
		t.Errorf("events для admin = %d, ожидается 200", rec.Code)
	}
}

// --- Управление пользователями ---

func TestUserEndpoints(t *testing.T) {
	env := setupEnv(t, "")
	env.mustCreateUser(t, "root", "root-password", []string{"admin"})
	admin := env.login(t, "root", "root-password")

	// Создание пользователя
	rec := env.do(http.MethodPost, "/api/v1/users", admin, map[string]any{
		"username":    "bob",
		"password":    "bob-password",
		"permissions": []string{"calendar"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("создание пользователя = %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Username     string `json:"username"`
		PasswordHash string `json:"password_hash"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&created)
	if created.Username != "bob" {
		t.Errorf("username = %q", created.Username)
	}
	if created.PasswordHash != "" {
		t.Error("ответ API содержит хеш пароля")
	}

	// Дубликат — 409 CONFLICT
	rec = env.do(http.MethodPost, "/api/v1/users", admin, map[string]any{
		"username":    "bob",
		"password":    "bob-password",
		"permissions": []string{"calendar"},
	})
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "CONFLICT" {
		t.Errorf("дубликат = %d, ожидается 409 CONFLICT", rec.Code)
	}

	// Недопустимый тег — 400
	rec = env.do(http.MethodPost, "/api/v1/users", admin, map[string]any{
		"username":    "carol",
		"password":    "carol-password",
		"permissions": []string{"superuser"},
	})
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "VALIDATION_ERROR" {
		t.Errorf("недопустимый тег = %d, ожидается 400 VALIDATION_ERROR", rec.Code)
	}

	// Обновление прав
	rec = env.do(http.MethodPut, "/api/v1/users/bob/permissions", admin, map[string]any{
		"permissions": []string{"calendar", "image_generator"},
	})
	if rec.Code != http.StatusNoContent {
		t.Errorf("обновление прав = %d, ожидается 204", rec.Code)
	}

	// Удаление единственного администратора — 409 LAST_ADMIN_PROTECTED
	rec = env.do(http.MethodDelete, "/api/v1/users/root", admin, nil)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "LAST_ADMIN_PROTECTED" {
		t.Errorf("удаление последнего администратора = %d, ожидается 409 LAST_ADMIN_PROTECTED", rec.Code)
	}

	// Обычный пользователь удаляется
	if rec := env.do(http.MethodDelete, "/api/v1/users/bob", admin, nil); rec.Code != http.StatusNoContent {
		t.Errorf("удаление bob = %d, ожидается 204", rec.Code)
	}

	// Несуществующий — 404
	rec = env.do(http.MethodDelete, "/api/v1/users/ghost", admin, nil)
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "NOT_FOUND" {
		t.Errorf("удаление ghost = %d, ожидается 404 NOT_FOUND", rec.Code)
	}
}

// --- События ---

func TestEventEndpoints(t *testing.T) {
	env := setupEnv(t, "")
	env.mustCreateUser(t, "alice", "alice-password", []string{"calendar"})
	alice := env.login(t, "alice", "alice-password")

	// start > end — 400 INVALID_RANGE
	rec := env.do(http.MethodPost, "/api/v1/events", alice, map[string]string{
		"title": "Встреча",
		"start": "2026-05-01T11:00:00Z",
		"end":   "2026-05-01T10:00:00Z",
	})
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "INVALID_RANGE" {
		t.Errorf("start > end = %d, ожидается 400 INVALID_RANGE", rec.Code)
	}

	// Создание
	rec = env.do(http.MethodPost, "/api/v1/events", alice, map[string]string{
		"title":    "Standup",
		"start":    "2026-05-01T10:00:00Z",
		"end":      "2026-05-01T10:30:00Z",
		"location": "переговорка",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("создание события = %d: %s", rec.Code, rec.Body.String())
	}
	var event struct {
		ID     string `json:"id"`
		Owner  string `json:"owner"`
		Source string `json:"source"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&event)
	if event.Owner != "alice" || event.Source != "manual" || event.ID == "" {
		t.Errorf("событие = %+v", event)
	}

	// Список с окном, пересекающим событие
	rec = env.do(http.MethodGet, "/api/v1/events?from=2026-05-01T09:00:00Z&to=2026-05-01T10:15:00Z", alice, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("список событий = %d", rec.Code)
	}
	var events []json.RawMessage
	_ = json.NewDecoder(rec.Body).Decode(&events)
	if len(events) != 1 {
		t.Errorf("len = %d, ожидается 1", len(events))
	}

	// Окно позади события — пустой список, не ошибка
	rec = env.do(http.MethodGet, "/api/v1/events?from=2026-05-01T11:00:00Z&to=2026-05-01T12:00:00Z", alice, nil)
	events = nil
	_ = json.NewDecoder(rec.Body).Decode(&events)
	if rec.Code != http.StatusOK || len(events) != 0 {
		t.Errorf("пустое окно: status=%d len=%d", rec.Code, len(events))
	}

	// Некорректное время — 400
	rec = env.do(http.MethodGet, "/api/v1/events?from=завтра", alice, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("некорректный from = %d, ожидается 400", rec.Code)
	}

	// Обновление
	rec = env.do(http.MethodPut, "/api/v1/events/"+event.ID, alice, map[string]string{
		"title": "Standup (перенос)",
		"start": "2026-05-01T11:00:00Z",
		"end":   "2026-05-01T11:30:00Z",
	})
	if rec.Code != http.StatusOK {
		t.Errorf("обновление = %d: %s", rec.Code, rec.Body.String())
	}

	// Удаление несуществующего — 404
	rec = env.do(http.MethodDelete, "/api/v1/events/нет-такого", alice, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("удаление несуществующего = %d, ожидается 404", rec.Code)
	}

	// Удаление
	if rec := env.do(http.MethodDelete, "/api/v1/events/"+event.ID, alice, nil); rec.Code != http.StatusNoContent {
		t.Errorf("удаление = %d, ожидается 204", rec.Code)
	}
}

func TestExportICS(t *testing.T) {
	env := setupEnv(t, "")
	env.mustCreateUser(t, "alice", "alice-password", []string{"calendar"})
	alice := env.login(t, "alice", "alice-password")

	rec := env.do(http.MethodPost, "/api/v1/events", alice, map[string]string{
		"title": "Планёрка",
		"start": "2026-05-02T09:00:00Z",
		"end":   "2026-05-02T09:30:00Z",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("создание события = %d", rec.Code)
	}

	rec = env.do(http.MethodGet, "/api/v1/events/export.ics", alice, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export.ics = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("Content-Type = %q, ожидается text/calendar", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "BEGIN:VCALENDAR") || !strings.Contains(body, "SUMMARY:Планёрка") {
		t.Errorf("тело не похоже на ICS:\n%s", body)
	}
}

func TestEventStats(t *testing.T) {
	env := setupEnv(t, "")
	env.mustCreateUser(t, "alice", "alice-password", []string{"calendar"})
	alice := env.login(t, "alice", "alice-password")

	for _, title := range []string{"Первое", "Второе"} {
		rec := env.do(http.MethodPost, "/api/v1/events", alice, map[string]string{
			"title": title,
			"start": "2026-05-03T10:00:00Z",
			"end":   "2026-05-03T11:00:00Z",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("создание события = %d", rec.Code)
		}
	}

	rec := env.do(http.MethodGet, "/api/v1/events/stats", alice, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats = %d", rec.Code)
	}
	var stats struct {
		TotalEvents int `json:"total_events"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&stats)
	if stats.TotalEvents != 2 {
		t.Errorf("TotalEvents = %d, ожидается 2", stats.TotalEvents)
	}
}

// --- Извлечение событий ---

// multipartImage собирает multipart-форму с полем image.
func multipartImage(t *testing.T, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	fw, err := mw.CreateFormFile("image", "poster.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(payload); err != nil {
		t.Fatalf("запись изображения: %v", err)
	}
	mw.Close()
	return buf, mw.FormDataContentType()
}

func TestExtract_Disabled(t *testing.T) {
	env := setupEnv(t, "")
	env.mustCreateUser(t, "root", "root-password", []string{"admin"})
	admin := env.login(t, "root", "root-password")

	buf, contentType := multipartImage(t, []byte("img"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/extract", buf)
	req.Header.Set("Content-Type", contentType)
	for _, c := range admin {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway || errorCode(t, rec) != "VISION_UNAVAILABLE" {
		t.Errorf("extract без конфигурации = %d, ожидается 502 VISION_UNAVAILABLE", rec.Code)
	}
}

func TestExtract_Candidates(t *testing.T) {
	// Mock Vision API с одним кандидатом
	mock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{
					"content": `[{"title": "Demo day", "start": "2026-05-20T15:00:00Z", "end": "2026-05-20T16:00:00Z", "confidence": 0.9}]`,
				}},
			},
		})
	}))
	t.Cleanup(mock.Close)

	env := setupEnv(t, mock.URL)
	env.mustCreateUser(t, "root", "root-password", []string{"admin"})
	admin := env.login(t, "root", "root-password")

	buf, contentType := multipartImage(t, []byte("fake-png"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/extract", buf)
	req.Header.Set("Content-Type", contentType)
	for _, c := range admin {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("extract = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Candidates []struct {
			Title string `json:"title"`
		} `json:"candidates"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Candidates) != 1 || resp.Candidates[0].Title != "Demo day" {
		t.Errorf("candidates = %+v", resp.Candidates)
	}
}

func TestExtractConfirm(t *testing.T) {
	env := setupEnv(t, "")
	env.mustCreateUser(t, "root", "root-password", []string{"admin"})
	admin := env.login(t, "root", "root-password")

	// Подтверждение создаёт события с source ai-extracted
	rec := env.do(http.MethodPost, "/api/v1/extract/confirm", admin, map[string]any{
		"events": []map[string]string{
			{"title": "Demo day", "start": "2026-05-20T15:00:00Z", "end": "2026-05-20T16:00:00Z"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("confirm = %d: %s", rec.Code, rec.Body.String())
	}
	var created []struct {
		Source string `json:"source"`
		Owner  string `json:"owner"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&created)
	if len(created) != 1 || created[0].Source != "ai-extracted" || created[0].Owner != "root" {
		t.Errorf("created = %+v", created)
	}

	// Невалидный кандидат отклоняет весь запрос
	rec = env.do(http.MethodPost, "/api/v1/extract/confirm", admin, map[string]any{
		"events": []map[string]string{
			{"title": "Перевёрнутый", "start": "2026-05-20T16:00:00Z", "end": "2026-05-20T15:00:00Z"},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("confirm с перевёрнутым интервалом = %d, ожидается 400", rec.Code)
	}

	// Пустой список — 400
	rec = env.do(http.MethodPost, "/api/v1/extract/confirm", admin, map[string]any{
		"events": []map[string]string{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("confirm с пустым списком = %d, ожидается 400", rec.Code)
	}
}

// --- Health ---

func TestHealthEndpoints(t *testing.T) {
	env := setupEnv(t, "")

	rec := env.do(http.MethodGet, "/health/live", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("live = %d", rec.Code)
	}
	var live struct {
		Status  string `json:"status"`
		Service string `json:"service"`
	}
	_ = json.NewDecoder(rec.Body).Decode(&live)
	if live.Status != "ok" || live.Service != "teamcal" {
		t.Errorf("live = %+v", live)
	}

	rec = env.do(http.MethodGet, "/health/ready", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("ready = %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("metrics = %d", rec.Code)
	}
}
