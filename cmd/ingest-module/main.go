// Точка входа Ingest Module — модуля ингестии документов в vector store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/civicarchive/ingest-module/internal/aiclient"
	"github.com/civicarchive/ingest-module/internal/api/handlers"
	"github.com/civicarchive/ingest-module/internal/api/middleware"
	"github.com/civicarchive/ingest-module/internal/config"
	"github.com/civicarchive/ingest-module/internal/database"
	"github.com/civicarchive/ingest-module/internal/repository"
	"github.com/civicarchive/ingest-module/internal/server"
	"github.com/civicarchive/ingest-module/internal/service"
	"github.com/civicarchive/ingest-module/internal/storageclient"
)

// Допуск на рассинхронизацию часов при валидации exp/nbf токенов.
const jwtLeeway = 30 * time.Second

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Ingest Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("db_host", cfg.DBHost),
		slog.String("storage_endpoint", cfg.StorageEndpoint),
	)

	// --- Инициализация компонентов ---

	ctx := context.Background()

	// 1. Миграции схемы БД
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка применения миграций", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Пул подключений к PostgreSQL
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 3. Репозитории
	linkRepo := repository.NewLinkRepository(pool)
	storeRepo := repository.NewStoreRepository(pool)

	// 4. Кэширующий маппинг workspace → vector store
	mapping := service.NewMappingService(storeRepo, cfg.MappingCacheSize, cfg.MappingCacheTTL)

	// 5. Клиент объектного хранилища (MinIO)
	storageClient, err := storageclient.New(cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации клиента хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Клиент OpenAI API
	aiClient := aiclient.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIProfileModel,
		cfg.OpenAITimeout, logger)

	// 7. Сервисы
	ingestSvc := service.NewIngestService(
		linkRepo, mapping, storageClient, aiClient,
		cfg.UploadDelay, cfg.UploadBatchLimit, cfg.MaxIngestRetries,
		cfg.SweepWorkspaceID, cfg.SweepInterval,
		logger,
	)
	profileSvc := service.NewProfileService(linkRepo, storageClient, aiClient, cfg.UploadDelay, logger)
	reconcileSvc := service.NewReconcileService(linkRepo, mapping, aiClient, cfg.UploadDelay, logger)
	backfillSvc := service.NewBackfillService(linkRepo, logger)

	// 8. Фоновые процессы

	// 8.1 Периодический sweep (включается при заданном IM_SWEEP_WORKSPACE_ID)
	ingestSvc.Start(ctx)

	// 8.2 topologymetrics — мониторинг зависимостей
	storageScheme := "http"
	if cfg.StorageUseSSL {
		storageScheme = "https"
	}
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"ingest-module",
		cfg.DephealthGroup,
		stdlib.OpenDBFromPool(pool),
		cfg.DatabaseDSN(),
		fmt.Sprintf("%s://%s", storageScheme, cfg.StorageEndpoint),
		cfg.OpenAIBaseURL,
		cfg.DephealthCheckInterval,
		cfg.DephealthIsEntry,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
			dephealthSvc = nil
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 9. Middleware: метрики, логирование запросов, JWT
	middlewares := []func(http.Handler) http.Handler{
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	}

	// adminOnly — проверка scope для purge/hard-purge, только при включённом auth
	var adminOnly func(http.Handler) http.Handler

	if cfg.JWKSURL != "" {
		jwtAuth, jwtErr := middleware.NewJWTAuth(ctx, cfg.JWKSURL, jwtLeeway, logger)
		if jwtErr != nil {
			logger.Error("Ошибка инициализации JWT middleware",
				slog.String("jwks_url", cfg.JWKSURL),
				slog.String("error", jwtErr.Error()),
			)
			os.Exit(1)
		}
		// Health probes и метрики доступны без токена
		middlewares = append(middlewares,
			server.JWTAuthWithExclusions(jwtAuth.Middleware(), "/health/", "/metrics"),
		)
		adminOnly = middleware.RequireScope(middleware.ScopeIngestAdmin)
		logger.Info("JWT аутентификация настроена", slog.String("jwks_url", cfg.JWKSURL))
	} else {
		logger.Warn("IM_JWKS_URL не задан, запуск без аутентификации")
	}

	// 10. Handlers
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), storageClient)
	vectorStoreHandler := handlers.NewVectorStoreHandler(
		ingestSvc, profileSvc, reconcileSvc, backfillSvc,
		cfg.UploadBatchLimit, logger,
	)
	apiHandler := handlers.NewAPIHandler(healthHandler, vectorStoreHandler, adminOnly)

	// 11. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, middlewares...)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	ingestSvc.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Ingest Module остановлен")
}
