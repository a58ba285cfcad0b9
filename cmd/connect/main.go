package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	cacheadapter "github.com/smallbiznis/railzway-connect/internal/adapter/cache"
	"github.com/smallbiznis/railzway-connect/internal/adapter/provider"
	"github.com/smallbiznis/railzway-connect/internal/bootstrap"
	"github.com/smallbiznis/railzway-connect/internal/config"
	"github.com/smallbiznis/railzway-connect/internal/events"
	httptransport "github.com/smallbiznis/railzway-connect/internal/http"
	"github.com/smallbiznis/railzway-connect/internal/http/handler"
	"github.com/smallbiznis/railzway-connect/internal/http/middleware"
	"github.com/smallbiznis/railzway-connect/internal/jwt"
	"github.com/smallbiznis/railzway-connect/internal/reconnect"
	"github.com/smallbiznis/railzway-connect/internal/registry"
	"github.com/smallbiznis/railzway-connect/internal/repository"
	"github.com/smallbiznis/railzway-connect/internal/scheduler"
	"github.com/smallbiznis/railzway-connect/internal/server"
	"github.com/smallbiznis/railzway-connect/internal/service/integration"
	"github.com/smallbiznis/railzway-connect/internal/telemetry"
	"github.com/smallbiznis/railzway-connect/internal/tenant"
	"github.com/smallbiznis/railzway-connect/internal/vault"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newRepositories,
			newVault,
			newRegistry,
			newRedisClient,
			newStateStore,
			newStateSigner,
			newSessionVerifier,
			newPromptStore,
			newDirectory,
			newPublisher,
			newService,
			newCoordinator,
			newConnectionHandler,
			tenant.NewResolver,
			newRateLimiter,
			httptransport.NewRouter,
			server.NewHTTPServer,
			newScheduler,
		),
		fx.Invoke(bootstrap.EnsureDefaultTenant, startScheduler, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

// newRepositories picks Postgres when DATABASE_URL is set and falls back to an embedded
// SQLite file otherwise.
func newRepositories(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (repository.ConnectionRepository, repository.TenantRepository, error) {
	if cfg.UsePostgres() {
		if err := bootstrap.MigratePostgres(cfg.DatabaseURL, logger); err != nil {
			return nil, nil, err
		}
		pool, err := newPGXPool(lc, cfg)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPostgresConnectionRepo(pool), repository.NewPostgresTenantRepo(pool), nil
	}

	db, err := gorm.Open(sqlite.Open(cfg.SQLitePath), repository.GormConfig(logger, cfg.SQLLogLevel))
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := repository.AutoMigrate(db); err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return sqlDB.Close()
		},
	})
	logger.Info("using sqlite storage", zap.String("path", cfg.SQLitePath))
	return repository.NewGormConnectionRepo(db), repository.NewGormTenantRepo(db), nil
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newVault(cfg config.Config) (*vault.Vault, error) {
	return vault.New(cfg.TokenEncryptionKey, vault.WithMaxConcurrency(cfg.VaultMaxConcurrency))
}

func newRegistry(repo repository.ConnectionRepository, v *vault.Vault, ids *snowflake.Node, logger *zap.Logger) *registry.Registry {
	return registry.New(repo, v, ids, logger)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newStateStore(client redis.UniversalClient) repository.OAuthStateStore {
	return cacheadapter.NewRedisStateStore(client)
}

func newStateSigner(cfg config.Config, store repository.OAuthStateStore) (*jwt.StateSigner, error) {
	return jwt.NewStateSigner(cfg.StateSigningKey, cfg.StateTTL, store)
}

func newSessionVerifier(cfg config.Config) (*jwt.SessionVerifier, error) {
	return jwt.NewSessionVerifier(cfg.SessionSigningKey, cfg.SessionIssuer, cfg.SessionAudience)
}

func newPromptStore(client redis.UniversalClient) reconnect.Store {
	return cacheadapter.NewRedisPromptStore(client)
}

func newDirectory(cfg config.Config, logger *zap.Logger) (*provider.Directory, error) {
	catalog, err := provider.LoadCatalog(cfg.ProviderCatalogPath, os.Getenv)
	if err != nil {
		return nil, err
	}
	dir := provider.NewDirectory(catalog, cfg.PublicBaseURL, cfg.ProviderTimeout)
	logger.Info("provider catalog loaded", zap.Int("enabled", len(dir.Enabled())))
	return dir, nil
}

func newPublisher(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) events.Publisher {
	publisher := events.NewPublisher(cfg.AMQPURL, cfg.AMQPQueue, logger)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return publisher.Close()
		},
	})
	return publisher
}

func newService(
	cfg config.Config,
	reg *registry.Registry,
	dir *provider.Directory,
	signer *jwt.StateSigner,
	publisher events.Publisher,
	tp *telemetry.Provider,
	logger *zap.Logger,
) *integration.Service {
	opts := integration.Options{
		PreviewLimit: cfg.PreviewLimit,
	}
	opts.Policy.ExpiringSoonThreshold = cfg.ExpiringSoonThreshold
	opts.Policy.StaleAfter = cfg.StaleAfter
	return integration.NewService(reg, dir, signer, publisher, tp.Tracer(), opts, logger)
}

func newCoordinator(store reconnect.Store, svc *integration.Service, logger *zap.Logger) *reconnect.Coordinator {
	return reconnect.NewCoordinator(store, svc, logger)
}

func newConnectionHandler(cfg config.Config, svc *integration.Service, coordinator *reconnect.Coordinator, logger *zap.Logger) *handler.ConnectionHandler {
	return handler.NewConnectionHandler(svc, coordinator, cfg.AppBaseURL, logger)
}

func newRateLimiter(cfg config.Config) *middleware.RateLimiter {
	return middleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newScheduler(cfg config.Config, svc *integration.Service, logger *zap.Logger) (*scheduler.Scheduler, error) {
	return scheduler.New(cfg.VerifySchedule, svc, logger)
}

func startScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			s.Stop()
			return nil
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
