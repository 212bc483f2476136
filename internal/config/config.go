// Пакет config — загрузка и валидация конфигурации teamcal
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации teamcal.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- База данных ---

	// Путь к файлу SQLite
	DBPath string

	// --- Учётные записи ---

	// Пароль для первоначального создания пользователя admin.
	// Пустая строка — admin не создаётся автоматически.
	AdminPassword string

	// --- Сессии ---

	// Ключ шифрования session cookie (base64 32 bytes или произвольная строка)
	SessionSecret string
	// Время жизни сессии
	SessionTTL time.Duration
	// Устанавливать ли Secure flag на cookie (true за HTTPS)
	SecureCookie bool

	// --- Vision API ---

	// URL endpoint'а vision-сервиса (chat completions).
	// Пустая строка — извлечение событий из изображений отключено.
	VisionURL string
	// API-ключ vision-сервиса
	VisionAPIKey string
	// Имя модели в запросе
	VisionModel string
	// Таймаут одного вызова vision-сервиса
	VisionTimeout time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// значения и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// TC_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("TC_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("TC_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("TC_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// TC_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("TC_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("TC_LOG_LEVEL: %w", err)
	}

	// TC_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("TC_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("TC_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- База данных ---

	// TC_DB_PATH — путь к файлу SQLite (по умолчанию teamcal.db)
	cfg.DBPath = getEnvDefault("TC_DB_PATH", "teamcal.db")

	// --- Учётные записи ---

	// TC_ADMIN_PASSWORD — пароль начального пользователя admin (опционально)
	cfg.AdminPassword = getEnvDefault("TC_ADMIN_PASSWORD", "")

	// --- Сессии ---

	// TC_SESSION_SECRET — ключ шифрования сессий (опционально)
	cfg.SessionSecret = getEnvDefault("TC_SESSION_SECRET", "")

	// TC_SESSION_TTL — время жизни сессии (по умолчанию 24h)
	cfg.SessionTTL, err = getEnvDuration("TC_SESSION_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("TC_SESSION_TTL: %w", err)
	}

	// TC_SECURE_COOKIE — Secure flag на session cookie (по умолчанию false)
	cfg.SecureCookie, err = getEnvBool("TC_SECURE_COOKIE", false)
	if err != nil {
		return nil, fmt.Errorf("TC_SECURE_COOKIE: %w", err)
	}

	// --- Vision API ---

	// TC_VISION_URL — endpoint vision-сервиса (опционально)
	cfg.VisionURL = strings.TrimRight(getEnvDefault("TC_VISION_URL", ""), "/")

	// TC_VISION_API_KEY — API-ключ (опционально)
	cfg.VisionAPIKey = getEnvDefault("TC_VISION_API_KEY", "")

	// TC_VISION_MODEL — имя модели (по умолчанию gpt-4o)
	cfg.VisionModel = getEnvDefault("TC_VISION_MODEL", "gpt-4o")

	// TC_VISION_TIMEOUT — таймаут вызова (по умолчанию 60s)
	cfg.VisionTimeout, err = getEnvDuration("TC_VISION_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TC_VISION_TIMEOUT: %w", err)
	}

	// --- Graceful shutdown ---

	// TC_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("TC_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("TC_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
