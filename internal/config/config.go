// Пакет config — загрузка и валидация конфигурации Ingest Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Ingest Module.
// Единственный источник идентификаторов workspace — конфигурация:
// никаких fallback-констант на уровне модулей.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8040-8049)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 60s)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration
	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// --- Object Storage (S3-совместимое, MinIO) ---

	// Endpoint хранилища (host:port, без схемы)
	StorageEndpoint string
	// Ключ доступа
	StorageAccessKey string
	// Секретный ключ
	StorageSecretKey string
	// Bucket с исходными файлами и OCR-текстами
	StorageBucket string
	// Использовать TLS при подключении к хранилищу
	StorageUseSSL bool

	// --- OpenAI API ---

	// Базовый URL API (по умолчанию https://api.openai.com/v1)
	OpenAIBaseURL string
	// API-ключ (обязательный)
	OpenAIAPIKey string
	// Таймаут HTTP-запросов к API (по умолчанию 120s — загрузка файлов медленная)
	OpenAITimeout time.Duration
	// Модель для генерации профилей документов
	OpenAIProfileModel string

	// --- JWT ---

	// URL JWKS endpoint для валидации подписи (пустая строка — auth выключен)
	JWKSURL string

	// --- Фоновый sweep ---

	// Workspace для периодического sweep (пустая строка — sweep выключен)
	SweepWorkspaceID string
	// Интервал между sweep (по умолчанию 1h)
	SweepInterval time.Duration
	// Пауза между вызовами удалённого API внутри одного sweep.
	// Это rate-limit throttle, не оптимизация.
	UploadDelay time.Duration
	// Максимум файлов за один sweep (по умолчанию 50)
	UploadBatchLimit int
	// Максимум sweep-попыток до пометки ingest_failed (по умолчанию 5)
	MaxIngestRetries int

	// --- Кэш маппинга workspace → vector store ---

	// Максимальное количество записей в кэше (по умолчанию 256)
	MappingCacheSize int
	// TTL записи кэша (по умолчанию 5m)
	MappingCacheTTL time.Duration

	// --- Dependency health (topologymetrics) ---

	// Имя группы в метриках dephealth
	DephealthGroup string
	// Интервал проверки зависимостей (по умолчанию 30s)
	DephealthCheckInterval time.Duration
	// Добавлять лейбл isentry=yes ко всем зависимостям
	DephealthIsEntry bool
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("IM_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("IM_PORT: %w", err)
	}

	logLevel := getEnvDefault("IM_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("IM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("IM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("IM_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.HTTPReadTimeout, err = getEnvDuration("IM_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("IM_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("IM_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("IM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost = getEnvDefault("IM_DB_HOST", "localhost")
	cfg.DBPort, err = getEnvInt("IM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("IM_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("IM_DB_NAME", "civicarchive")
	cfg.DBUser, err = getEnvRequired("IM_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("IM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("IM_DB_SSLMODE", "disable")

	// --- Object Storage ---

	cfg.StorageEndpoint, err = getEnvRequired("IM_STORAGE_ENDPOINT")
	if err != nil {
		return nil, err
	}
	cfg.StorageAccessKey, err = getEnvRequired("IM_STORAGE_ACCESS_KEY")
	if err != nil {
		return nil, err
	}
	cfg.StorageSecretKey, err = getEnvRequired("IM_STORAGE_SECRET_KEY")
	if err != nil {
		return nil, err
	}
	cfg.StorageBucket = getEnvDefault("IM_STORAGE_BUCKET", "documents")
	cfg.StorageUseSSL, err = getEnvBool("IM_STORAGE_USE_SSL", false)
	if err != nil {
		return nil, fmt.Errorf("IM_STORAGE_USE_SSL: %w", err)
	}

	// --- OpenAI API ---

	cfg.OpenAIBaseURL = getEnvDefault("IM_OPENAI_BASE_URL", "https://api.openai.com/v1")
	cfg.OpenAIAPIKey, err = getEnvRequired("IM_OPENAI_API_KEY")
	if err != nil {
		return nil, err
	}
	cfg.OpenAITimeout, err = getEnvDuration("IM_OPENAI_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_OPENAI_TIMEOUT: %w", err)
	}
	cfg.OpenAIProfileModel = getEnvDefault("IM_OPENAI_PROFILE_MODEL", "gpt-4o-mini")

	// --- JWT ---

	cfg.JWKSURL = getEnvDefault("IM_JWKS_URL", "")

	// --- Фоновый sweep ---

	cfg.SweepWorkspaceID = getEnvDefault("IM_SWEEP_WORKSPACE_ID", "")
	cfg.SweepInterval, err = getEnvDuration("IM_SWEEP_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("IM_SWEEP_INTERVAL: %w", err)
	}

	delayMS, err := getEnvInt("IM_UPLOAD_DELAY_MS", 500)
	if err != nil {
		return nil, fmt.Errorf("IM_UPLOAD_DELAY_MS: %w", err)
	}
	if delayMS < 0 {
		delayMS = 0
	}
	cfg.UploadDelay = time.Duration(delayMS) * time.Millisecond

	cfg.UploadBatchLimit, err = getEnvInt("IM_UPLOAD_BATCH_LIMIT", 50)
	if err != nil {
		return nil, fmt.Errorf("IM_UPLOAD_BATCH_LIMIT: %w", err)
	}
	if cfg.UploadBatchLimit < 1 {
		cfg.UploadBatchLimit = 1
	}

	cfg.MaxIngestRetries, err = getEnvInt("IM_MAX_INGEST_RETRIES", 5)
	if err != nil {
		return nil, fmt.Errorf("IM_MAX_INGEST_RETRIES: %w", err)
	}
	if cfg.MaxIngestRetries < 1 {
		return nil, fmt.Errorf("IM_MAX_INGEST_RETRIES: значение должно быть >= 1")
	}

	// --- Кэш маппинга ---

	cfg.MappingCacheSize, err = getEnvInt("IM_MAPPING_CACHE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("IM_MAPPING_CACHE_SIZE: %w", err)
	}
	cfg.MappingCacheTTL, err = getEnvDuration("IM_MAPPING_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("IM_MAPPING_CACHE_TTL: %w", err)
	}

	// --- Dephealth ---

	cfg.DephealthGroup = getEnvDefault("IM_DEPHEALTH_GROUP", "civicarchive")
	cfg.DephealthCheckInterval, err = getEnvDuration("IM_DEPHEALTH_CHECK_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("IM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthIsEntry, err = getEnvBool("IM_DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("IM_DEPHEALTH_ISENTRY: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает DSN подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
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

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

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

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
