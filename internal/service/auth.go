// auth.go — сервис аутентификации.
// Проверка пары логин/пароль против таблицы users, хеширование argon2id,
// фиксация времени входа, первоначальное создание администратора.
package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/bigkaa/teamcal/internal/domain/model"
	"github.com/bigkaa/teamcal/internal/domain/perm"
	"github.com/bigkaa/teamcal/internal/repository"
)

// Параметры argon2id: time=1, memory=64MiB, threads=4, keyLen=32.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// AuthService — сервис аутентификации пользователей.
type AuthService struct {
	users  repository.UserRepository
	logger *slog.Logger
}

// NewAuthService создаёт сервис аутентификации.
func NewAuthService(users repository.UserRepository, logger *slog.Logger) *AuthService {
	return &AuthService{
		users:  users,
		logger: logger.With(slog.String("component", "auth_service")),
	}
}

// Authenticate проверяет пару логин/пароль.
// Возвращает Identity с актуальным набором прав и фиксирует время входа.
// Отсутствующий пользователь — ErrUserNotFound, несовпадение дайджеста —
// ErrInvalidCredentials. Блокировок и rate-limiting нет.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (*model.Identity, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("поиск пользователя: %w", err)
	}

	if !VerifyPassword(u.PasswordHash, password) {
		s.logger.Debug("Неудачная попытка входа",
			slog.String("username", username),
		)
		return nil, ErrInvalidCredentials
	}

	// Побочный эффект успешного входа — отметка last_login.
	// Ошибка отметки не мешает входу.
	if err := s.users.UpdateLastLogin(ctx, username); err != nil {
		s.logger.Warn("Не удалось обновить last_login",
			slog.String("username", username),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("Пользователь вошёл",
		slog.String("username", username),
	)

	return &model.Identity{
		Username:    u.Username,
		Permissions: u.Permissions,
	}, nil
}

// EnsureAdmin создаёт пользователя admin при первом запуске.
// Если admin уже существует — no-op. Если adminPassword пустой и admin
// отсутствует — пишет предупреждение и возвращает nil (приложение
// работает, но войти некому).
func (s *AuthService) EnsureAdmin(ctx context.Context, adminPassword string) error {
	_, err := s.users.GetByUsername(ctx, "admin")
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("проверка наличия admin: %w", err)
	}

	if adminPassword == "" {
		s.logger.Warn("Пользователь admin отсутствует и TC_ADMIN_PASSWORD не задан — вход невозможен")
		return nil
	}

	hash, err := HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("хеширование пароля admin: %w", err)
	}

	admin := &model.User{
		Username:     "admin",
		PasswordHash: hash,
		Permissions: []string{
			string(perm.PageCalendar),
			string(perm.PageImageGenerator),
			string(perm.PageAdmin),
		},
		CreatedAt: time.Now().UTC(),
	}

	if err := s.users.Create(ctx, admin); err != nil {
		// Параллельный запуск мог создать admin раньше нас
		if errors.Is(err, repository.ErrConflict) {
			return nil
		}
		return fmt.Errorf("создание admin: %w", err)
	}

	s.logger.Info("Пользователь admin создан из TC_ADMIN_PASSWORD")
	return nil
}

// --- Хеширование паролей ---

// HashPassword возвращает дайджест пароля в формате argon2id$<salt>$<digest>
// (base64 без padding). Соль — 16 случайных байт на пользователя.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("генерация соли: %w", err)
	}

	digest := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	enc := base64.RawStdEncoding
	return fmt.Sprintf("argon2id$%s$%s", enc.EncodeToString(salt), enc.EncodeToString(digest)), nil
}

// VerifyPassword проверяет пароль против сохранённого дайджеста.
// Сравнение — за постоянное время.
func VerifyPassword(stored, password string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 3 || parts[0] != "argon2id" {
		return false
	}

	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[1])
	if err != nil {
		return false
	}
	want, err := enc.DecodeString(parts[2])
	if err != nil {
		return false
	}

	got := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(got, want) == 1
}
