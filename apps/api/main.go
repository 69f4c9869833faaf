package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	cataloghandler "github.com/shardgate/dbdirectory/domains/catalog/be/handler"
	catalogrepo "github.com/shardgate/dbdirectory/domains/catalog/be/repo"
	catalogservice "github.com/shardgate/dbdirectory/domains/catalog/be/service"
	connectionshandler "github.com/shardgate/dbdirectory/domains/connections/be/handler"
	connectionsrepo "github.com/shardgate/dbdirectory/domains/connections/be/repo"
	connectionsservice "github.com/shardgate/dbdirectory/domains/connections/be/service"
	databaseshandler "github.com/shardgate/dbdirectory/domains/databases/be/handler"
	databasesrepo "github.com/shardgate/dbdirectory/domains/databases/be/repo"
	databasesservice "github.com/shardgate/dbdirectory/domains/databases/be/service"
	dbusershandler "github.com/shardgate/dbdirectory/domains/dbusers/be/handler"
	"github.com/shardgate/dbdirectory/domains/dbusers/be/provisioning"
	dbusersrepo "github.com/shardgate/dbdirectory/domains/dbusers/be/repo"
	dbusersservice "github.com/shardgate/dbdirectory/domains/dbusers/be/service"
	tenantshandler "github.com/shardgate/dbdirectory/domains/tenants/be/handler"
	tenantsrepo "github.com/shardgate/dbdirectory/domains/tenants/be/repo"
	tenantsservice "github.com/shardgate/dbdirectory/domains/tenants/be/service"
	"github.com/shardgate/dbdirectory/platform/go/cache"
	"github.com/shardgate/dbdirectory/platform/go/logging"
	"github.com/shardgate/dbdirectory/platform/go/mssql"
	"github.com/shardgate/dbdirectory/platform/go/persistence"
	"github.com/shardgate/dbdirectory/platform/go/secrets"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	CipherKey       string        `env:"CIPHER_KEY"` // empty = passwords stored in the clear
	SQLAdminUser    string        `env:"SQL_ADMIN_USER"`
	SQLAdminPass    string        `env:"SQL_ADMIN_PASSWORD"`
	SQLGateway      string        `env:"SQL_GATEWAY_ADDRESS"` // server whose linked server definitions are used
	CacheBackend    string        `env:"CACHE_BACKEND" envDefault:"memory"` // memory | redis | none
	RedisHost       string        `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort       int           `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	RedisDB         int           `env:"REDIS_DB" envDefault:"0"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Component: "directory-api",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	var directoryCache cache.Cache
	switch cfg.CacheBackend {
	case "redis":
		redisCache, err := cache.NewRedis(ctx, cache.RedisConfig{
			Host:      cfg.RedisHost,
			Port:      cfg.RedisPort,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: "dbdirectory",
		}, logger)
		if err != nil {
			logger.Fatal("init redis cache", zap.Error(err))
		}
		defer redisCache.Close()
		directoryCache = redisCache
	case "memory":
		directoryCache = cache.NewMemory()
	case "none":
		directoryCache = cache.Noop{}
	default:
		logger.Fatal("invalid CACHE_BACKEND (use memory, redis or none)", zap.String("backend", cfg.CacheBackend))
	}

	cipher := secrets.New(cfg.CipherKey)
	if !cipher.Enabled() {
		logger.Warn("no cipher key configured, passwords are stored in the clear")
	}

	tenantStore, err := persistence.NewTenantStore(pool)
	if err != nil {
		logger.Fatal("init tenant store", zap.Error(err))
	}
	serverStore, err := persistence.NewServerStore(pool)
	if err != nil {
		logger.Fatal("init server store", zap.Error(err))
	}
	typeStore, err := persistence.NewDBTypeStore(pool)
	if err != nil {
		logger.Fatal("init type store", zap.Error(err))
	}
	databaseStore, err := persistence.NewDatabaseStore(pool)
	if err != nil {
		logger.Fatal("init database store", zap.Error(err))
	}
	userStore, err := persistence.NewDBUserStore(pool)
	if err != nil {
		logger.Fatal("init user store", zap.Error(err))
	}
	connectionStore, err := persistence.NewConnectionStore(pool)
	if err != nil {
		logger.Fatal("init connection store", zap.Error(err))
	}

	executor := mssql.NewExecutor(mssql.ExecutorConfig{
		AdminUser:     cfg.SQLAdminUser,
		AdminPassword: cfg.SQLAdminPass,
	}, logger)

	dbusersRepo := dbusersrepo.NewPostgresRepository(userStore, databaseStore)
	provisioner := provisioning.New(executor, dbusersRepo, directoryCache, logger, provisioning.Config{
		GatewayAddress: cfg.SQLGateway,
	})
	dbusersService := dbusersservice.New(dbusersRepo, provisioner, cipher, directoryCache, logger)
	dbusersHTTPHandler := dbusershandler.New(dbusersService, logger)

	connectionsRepo := connectionsrepo.NewPostgresRepository(connectionStore, databaseStore, userStore, tenantStore, typeStore)
	connectionsService := connectionsservice.New(connectionsRepo, cipher, directoryCache, logger)
	connectionsHTTPHandler := connectionshandler.New(connectionsService, logger)

	tenantsService := tenantsservice.New(tenantsrepo.NewPostgresRepository(tenantStore), directoryCache, logger)
	tenantsHTTPHandler := tenantshandler.New(tenantsService, logger)

	catalogService := catalogservice.New(catalogrepo.NewPostgresRepository(serverStore, typeStore), directoryCache, logger)
	catalogHTTPHandler := cataloghandler.New(catalogService, logger)

	databasesService := databasesservice.New(databasesrepo.NewPostgresRepository(databaseStore), provisioner, directoryCache, logger)
	databasesHTTPHandler := databaseshandler.New(databasesService, logger)

	rootRouter := chi.NewRouter()
	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
	)
	rootRouter.Use(logging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	apiRouter := chi.NewRouter()
	connectionsHTTPHandler.Routes(apiRouter)
	dbusersHTTPHandler.Routes(apiRouter)
	tenantsHTTPHandler.Routes(apiRouter)
	catalogHTTPHandler.Routes(apiRouter)
	databasesHTTPHandler.Routes(apiRouter)
	rootRouter.Mount("/api/v1", apiRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting directory api", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
