// propfolio — HTTP API портфелей инвестиционной недвижимости.
// Точка входа: загрузка конфигурации, миграции, подключение к PostgreSQL,
// аутентификация, запуск HTTP-сервера с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/propfolio/internal/api/handlers"
	"github.com/bigkaa/propfolio/internal/api/middleware"
	"github.com/bigkaa/propfolio/internal/api/openapi"
	"github.com/bigkaa/propfolio/internal/config"
	"github.com/bigkaa/propfolio/internal/database"
	"github.com/bigkaa/propfolio/internal/repository"
	"github.com/bigkaa/propfolio/internal/server"
	"github.com/bigkaa/propfolio/internal/service"
)

func main() {
	if err := config.LoadDotEnv(""); err != nil {
		slog.Error("Ошибка загрузки .env", slog.String("error", err.Error()))
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("propfolio запускается",
		slog.String("version", config.Version),
		slog.String("env", cfg.Env),
		slog.String("auth_mode", cfg.AuthMode),
		slog.Int("port", cfg.Port),
	)

	// Миграции до открытия пула: RLS-политики должны существовать до первого запроса
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// *sql.DB поверх pgxpool для topologymetrics
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	doc, err := openapi.Load()
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI-документа", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Сервисный слой ---

	store := service.NewStore(repository.NewAccess(pool, database.ScopedRole), cfg.StorageTimeout, logger)
	users := service.NewUserDirectory(store, cfg.UserCacheSize, cfg.UserCacheTTL, logger)
	provisioner := service.NewProvisioner(store, logger)
	portfolios := service.NewPortfolioService(store, logger)
	properties := service.NewPropertyService(store, logger)
	projections := service.NewProjectionService(portfolios)

	// --- Аутентификация ---

	var (
		authn      middleware.Authenticator
		idpChecker handlers.ReadinessChecker
	)
	switch cfg.AuthMode {
	case config.AuthModeBypassed:
		devID := uuid.MustParse(cfg.DevUserID)
		authn = middleware.NewFixedIdentity(devID, cfg.DevUserEmail, users)
		logger.Warn("Аутентификация отключена: все запросы выполняются от dev-пользователя",
			slog.String("user_id", devID.String()),
			slog.String("email", cfg.DevUserEmail),
		)
	default:
		jwtAuth, err := middleware.NewJWTAuth(
			ctx,
			cfg.JWTJWKSURL,
			cfg.JWTIssuer,
			users,
			cfg.RoleAdminGroups,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		authn = jwtAuth
		idpChecker = middleware.NewIDPReadinessChecker(cfg.JWTJWKSURL, cfg.StorageTimeout)
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	}

	// --- topologymetrics ---

	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "propfolio",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PostgresURL:   cfg.DatabaseURL(),
		JWKSURL:       cfg.JWTJWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
		TLSSkipVerify: cfg.IsDevelopment(),
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
	} else {
		defer dephealthSvc.Stop()
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// --- HTTP ---

	apiHandler := handlers.NewAPIHandler(
		handlers.NewHealthHandler(database.NewReadinessChecker(pool), idpChecker),
		provisioner,
		portfolios,
		properties,
		projections,
		cfg.IsDevelopment(),
		logger,
	)

	srv, err := server.New(cfg, logger, apiHandler, authn, doc)
	if err != nil {
		logger.Error("Ошибка создания HTTP-сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("propfolio остановлен")
}
