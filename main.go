package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/config"
	"github.com/modforge-io/modforge-platform/pkg/crypto"
	"github.com/modforge-io/modforge-platform/pkg/database"
	"github.com/modforge-io/modforge-platform/pkg/erp"
	_ "github.com/modforge-io/modforge-platform/pkg/erp/jsonrpc" // register the jsonrpc ERP adapter
	"github.com/modforge-io/modforge-platform/pkg/handlers"
	"github.com/modforge-io/modforge-platform/pkg/logging"
	"github.com/modforge-io/modforge-platform/pkg/repositories"
	"github.com/modforge-io/modforge-platform/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("baseURL", cfg.BaseURL),
		zap.String("database", cfg.Database.Database),
		zap.String("databaseHost", cfg.Database.Host),
		zap.String("erpAdapter", cfg.ERP.Adapter),
		zap.Bool("erpConfigured", cfg.ERP.IsAvailable()),
		zap.Bool("redisConfigured", cfg.Redis.IsAvailable()),
	)

	encryptor, err := crypto.NewCredentialEncryptor(cfg.PlatformCredentialsKey)
	if err != nil {
		logger.Fatal("Failed to initialize credential encryptor", zap.Error(err))
	}

	ctx := context.Background()

	// Control-plane database
	control, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to control-plane database", zap.Error(err))
	}
	defer control.Close()

	// Control-plane migrations run over database/sql; golang-migrate holds
	// its advisory lock on this dedicated connection.
	migrationDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run control-plane migrations", zap.Error(err))
	}
	if err := migrationDB.Close(); err != nil {
		logger.Warn("Failed to close migration connection", zap.Error(err))
	}

	// Tenant database pools
	pools := database.NewPoolManager(database.PoolManagerConfigFrom(cfg.TenantPools), logger)
	defer func() {
		if err := pools.Close(); err != nil {
			logger.Warn("Failed to close tenant pools", zap.Error(err))
		}
	}()

	// Repositories
	solutionRepo := repositories.NewSolutionRepository(control, encryptor)
	discoveryRepo := repositories.NewDiscoveryRepository(control)
	moduleRepo := repositories.NewModuleRepository(control)
	migrationRepo := repositories.NewSchemaMigrationRepository(control)
	deployRepo := repositories.NewDeployRepository(control)

	// Database router resolves namespaces to the control plane or a tenant
	// database using the solution registry.
	directory := services.NewSolutionDirectory(solutionRepo)
	router := database.NewRouter(control, pools, directory, logger)

	// Services
	factory := erp.NewAdapterFactory(logger)
	templates := services.NewTemplateRegistry()
	discoveryService := services.NewDiscoveryService(discoveryRepo, factory, &cfg.ERP, logger)
	migrator := services.NewSchemaMigrator(solutionRepo, migrationRepo, router, templates, logger)
	solutionService := services.NewSolutionService(solutionRepo, migrationRepo, migrator, discoveryService, router, pools, &cfg.ERP, logger)
	generationService := services.NewGenerationService(moduleRepo, solutionRepo, discoveryService, templates, cfg.ArtifactDir, logger)

	// Rebuild the in-memory template registry from completed modules so
	// schema migrations keep working after a restart.
	restoreCtx, cancelRestore := context.WithTimeout(ctx, 30*time.Second)
	if err := generationService.RestoreTemplates(restoreCtx); err != nil {
		logger.Warn("Failed to restore domain templates, schema migrations may plan fewer tables", zap.Error(err))
	}
	cancelRestore()

	// Deployment locks: Redis-backed when configured, in-process otherwise.
	locker := database.NewKeyedLocker()
	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	if redisClient != nil {
		locker = database.NewRedisLocker(redisClient)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("Failed to close Redis client", zap.Error(err))
			}
		}()
	}

	deploymentService := services.NewDeploymentService(deployRepo, solutionRepo, factory, &cfg.ERP, locker, &cfg.Deploy, logger)
	adminService := services.NewAdminService(solutionService, migrator, discoveryService, generationService, deploymentService, logger)

	scheduler, err := services.NewRefreshScheduler(&cfg.Scheduler, discoveryService, logger)
	if err != nil {
		logger.Fatal("Failed to create discovery refresh scheduler", zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	mux := http.NewServeMux()

	// Register handlers
	healthHandler := handlers.NewHealthHandler(cfg, control, logger)
	healthHandler.RegisterRoutes(mux)

	solutionsHandler := handlers.NewSolutionsHandler(adminService, solutionService, logger)
	solutionsHandler.RegisterRoutes(mux)

	discoveryHandler := handlers.NewDiscoveryHandler(adminService, discoveryService, logger)
	discoveryHandler.RegisterRoutes(mux)

	modulesHandler := handlers.NewModulesHandler(adminService, generationService, deploymentService, logger)
	modulesHandler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting modforge-platform",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version),
			zap.Bool("tls", cfg.TLSCertPath != ""),
		)
		if cfg.TLSCertPath != "" {
			serverErr <- server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			serverErr <- server.ListenAndServe()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	case sig := <-stop:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", zap.Error(err))
		}
	}
}
