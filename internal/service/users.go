// users.go — сервис управления учётными записями.
// CRUD пользователей для панели администрирования: создание с хешированием
// пароля, атомарная замена прав, удаление с защитой последнего администратора.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/teamcal/internal/domain/model"
	"github.com/bigkaa/teamcal/internal/domain/perm"
	"github.com/bigkaa/teamcal/internal/repository"
)

// UserService — сервис управления пользователями.
type UserService struct {
	users  repository.UserRepository
	tx     *repository.TxRunner
	logger *slog.Logger
}

// NewUserService создаёт сервис пользователей.
func NewUserService(users repository.UserRepository, tx *repository.TxRunner, logger *slog.Logger) *UserService {
	return &UserService{
		users:  users,
		tx:     tx,
		logger: logger.With(slog.String("component", "user_service")),
	}
}

// Create создаёт пользователя с указанным набором прав.
// Дубликат имени — ErrConflict, тег вне закрытого множества — ErrInvalidPermission,
// пароль короче 8 символов — ErrWeakPassword.
func (s *UserService) Create(ctx context.Context, username, password string, permissions []string) (*model.User, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: username", ErrEmptyField)
	}
	if len(password) < 8 {
		return nil, ErrWeakPassword
	}
	if bad, ok := perm.Validate(permissions); !ok {
		return nil, fmt.Errorf("%w (получен %q)", ErrInvalidPermission, bad)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("хеширование пароля: %w", err)
	}

	u := &model.User{
		Username:     username,
		PasswordHash: hash,
		Permissions:  permissions,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: пользователь %q", ErrConflict, username)
		}
		return nil, fmt.Errorf("создание пользователя: %w", err)
	}

	s.logger.Info("Пользователь создан",
		slog.String("username", username),
		slog.Any("permissions", permissions),
	)
	return u, nil
}

// Get возвращает пользователя по имени.
func (s *UserService) Get(ctx context.Context, username string) (*model.User, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("получение пользователя: %w", err)
	}
	return u, nil
}

// List возвращает всех пользователей, отсортированных по имени.
func (s *UserService) List(ctx context.Context) ([]*model.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение списка пользователей: %w", err)
	}
	return users, nil
}

// UpdatePermissions атомарно заменяет набор прав пользователя.
func (s *UserService) UpdatePermissions(ctx context.Context, username string, permissions []string) error {
	if bad, ok := perm.Validate(permissions); !ok {
		return fmt.Errorf("%w (получен %q)", ErrInvalidPermission, bad)
	}

	if err := s.users.UpdatePermissions(ctx, username, permissions); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("обновление прав: %w", err)
	}

	s.logger.Info("Права пользователя обновлены",
		slog.String("username", username),
		slog.Any("permissions", permissions),
	)
	return nil
}

// Delete удаляет пользователя. Если удаляемый — единственный обладатель
// тега admin, операция отклоняется с ErrLastAdmin. Проверка и удаление
// выполняются в одной транзакции, поэтому две параллельные попытки
// удалить пересекающихся администраторов не обойдут инвариант.
func (s *UserService) Delete(ctx context.Context, username string) error {
	err := s.tx.RunInTx(ctx, func(tx *sql.Tx) error {
		txUsers := repository.NewUserRepository(tx)

		u, err := txUsers.GetByUsername(ctx, username)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("поиск пользователя: %w", err)
		}

		if perm.IsAdmin(u.Permissions) {
			admins, err := txUsers.CountWithPermission(ctx, string(perm.PageAdmin))
			if err != nil {
				return fmt.Errorf("подсчёт администраторов: %w", err)
			}
			if admins <= 1 {
				return ErrLastAdmin
			}
		}

		if err := txUsers.Delete(ctx, username); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("удаление пользователя: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Пользователь удалён",
		slog.String("username", username),
	)
	return nil
}
