// Точка входа teamcal — календарный сервис команды.
// Загружает конфигурацию, применяет миграции SQLite, создаёт репозитории
// и сервисный слой, при первом запуске заводит пользователя admin,
// инициализирует Vision-клиент и менеджер сессий, запускает HTTP-сервер
// с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/bigkaa/teamcal/internal/api/handlers"
	"github.com/bigkaa/teamcal/internal/api/middleware"
	"github.com/bigkaa/teamcal/internal/config"
	"github.com/bigkaa/teamcal/internal/database"
	"github.com/bigkaa/teamcal/internal/repository"
	"github.com/bigkaa/teamcal/internal/server"
	"github.com/bigkaa/teamcal/internal/service"
	"github.com/bigkaa/teamcal/internal/session"
	"github.com/bigkaa/teamcal/internal/vision"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("teamcal запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg.DBPath, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Открытие SQLite
	ctx := context.Background()
	db, err := database.Open(ctx, cfg.DBPath, logger)
	if err != nil {
		logger.Error("Ошибка открытия базы данных", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	// 5. Repositories
	userRepo := repository.NewUserRepository(db)
	eventRepo := repository.NewEventRepository(db)
	txRunner := repository.NewTxRunner(db)

	// 6. Services
	authSvc := service.NewAuthService(userRepo, logger)
	userSvc := service.NewUserService(userRepo, txRunner, logger)
	eventSvc := service.NewEventService(eventRepo, logger)

	// 7. Начальный пользователь admin (если задан TC_ADMIN_PASSWORD)
	if err := authSvc.EnsureAdmin(ctx, cfg.AdminPassword); err != nil {
		logger.Error("Ошибка создания начального администратора", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 8. Vision-клиент (извлечение событий из изображений)
	visionClient := vision.New(
		cfg.VisionURL,
		cfg.VisionAPIKey,
		cfg.VisionModel,
		&http.Client{Timeout: cfg.VisionTimeout},
		logger,
	)
	if visionClient.Enabled() {
		logger.Info("Vision-клиент создан",
			slog.String("url", cfg.VisionURL),
			slog.String("model", cfg.VisionModel),
		)
	} else {
		logger.Info("Извлечение событий отключено (TC_VISION_URL не задан)")
	}

	// 9. Менеджер сессий (AES-256-GCM cookie)
	sessionMgr, err := session.NewManager(cfg.SessionSecret, cfg.SessionTTL, cfg.SecureCookie)
	if err != nil {
		logger.Error("Ошибка создания менеджера сессий", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if cfg.SessionSecret == "" {
		logger.Warn("TC_SESSION_SECRET не задан, сессии не переживут рестарт")
	}

	// 10. Handlers и session middleware
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(db))
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		authSvc,
		userSvc,
		eventSvc,
		visionClient,
		sessionMgr,
		logger,
	)
	sessionAuth := middleware.NewSessionAuth(sessionMgr, logger)

	// 11. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, sessionAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("teamcal остановлен")
}
