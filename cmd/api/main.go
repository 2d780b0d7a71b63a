package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/KonradBrave61/session-service/internal/api/http"
	"github.com/KonradBrave61/session-service/internal/api/http/handlers"
	"github.com/KonradBrave61/session-service/internal/auth"
	"github.com/KonradBrave61/session-service/internal/config"
	"github.com/KonradBrave61/session-service/internal/events"
	"github.com/KonradBrave61/session-service/internal/observability"
	"github.com/KonradBrave61/session-service/internal/persistence"
	"github.com/KonradBrave61/session-service/internal/repository"
	"github.com/KonradBrave61/session-service/internal/service"
	"github.com/KonradBrave61/session-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	refreshRepo := repository.NewRefreshTokenRepository(pool)

	limiter := service.NewLoginLimiter(redis.Client, cfg.Limiter, logger)
	sessionService := service.NewSessionService(*cfg, service.SessionDependencies{
		UserRepo:    userRepo,
		RefreshRepo: refreshRepo,
		Limiter:     limiter,
		Dispatcher:  dispatcher,
	})
	auditService := service.NewAuditService(dispatcher, logger)
	worker.StartAuditWorker(auditService)

	if reaped, err := refreshRepo.DeleteExpired(ctx); err != nil {
		logger.Warn("failed to reap expired refresh tokens", zap.Error(err))
	} else if reaped > 0 {
		logger.Info("reaped expired refresh tokens", zap.Int64("count", reaped))
	}

	authMiddleware := auth.NewAuthMiddleware(sessionService.TokenManager(), userRepo)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	healthHandler := handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis)
	authHandler := handlers.NewAuthHandler(sessionService, cfg.Auth.CookieSecure)
	usersHandler := handlers.NewUsersHandler(sessionService)

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         healthHandler,
		Auth:           authHandler,
		Users:          usersHandler,
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
