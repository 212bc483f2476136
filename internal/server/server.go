// Пакет server — HTTP-сервер teamcal с graceful shutdown.
// Без TLS — сервис живёт за реверс-прокси, там же и termination.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/teamcal/internal/api/handlers"
	"github.com/bigkaa/teamcal/internal/api/middleware"
	"github.com/bigkaa/teamcal/internal/config"
	"github.com/bigkaa/teamcal/internal/domain/perm"
)

// Server — HTTP-сервер teamcal.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными маршрутами и middleware.
func New(cfg *config.Config, logger *slog.Logger, handler *handlers.APIHandler, auth *middleware.SessionAuth) *Server {
	router := NewRouter(logger, handler, auth)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает chi-роутер с полным деревом маршрутов.
// Публичные: login, health, metrics. Остальное — за session middleware,
// страницы календаря и администрирования — за RequirePermission.
func NewRouter(logger *slog.Logger, handler *handlers.APIHandler, auth *middleware.SessionAuth) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// Публичные endpoints: health и metrics проверяются извне, login — вход
	router.Get("/health/live", handler.HealthLive)
	router.Get("/health/ready", handler.HealthReady)
	router.Get("/metrics", handler.GetMetrics)
	router.Post("/api/v1/auth/login", handler.Login)

	// Защищённые endpoints
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware())

		r.Post("/api/v1/auth/logout", handler.Logout)
		r.Get("/api/v1/auth/me", handler.Me)

		// Страница календаря
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequirePermission(perm.PageCalendar))

			r.Get("/api/v1/events", handler.ListEvents)
			r.Post("/api/v1/events", handler.CreateEvent)
			r.Get("/api/v1/events/export.ics", handler.ExportICS)
			r.Get("/api/v1/events/stats", handler.EventStats)
			r.Put("/api/v1/events/{id}", handler.UpdateEvent)
			r.Delete("/api/v1/events/{id}", handler.DeleteEvent)
		})

		// Панель администрирования
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequirePermission(perm.PageAdmin))

			r.Get("/api/v1/users", handler.ListUsers)
			r.Post("/api/v1/users", handler.CreateUser)
			r.Get("/api/v1/users/{username}", handler.GetUser)
			r.Put("/api/v1/users/{username}/permissions", handler.UpdateUserPermissions)
			r.Delete("/api/v1/users/{username}", handler.DeleteUser)

			r.Post("/api/v1/extract", handler.Extract)
			r.Post("/api/v1/extract/confirm", handler.ExtractConfirm)
		})
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
