package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"

	"neptunebot/config"
	"neptunebot/internal/adapters/binanceclient"
	"neptunebot/internal/adapters/console"
	"neptunebot/internal/adapters/logger"
	"neptunebot/internal/adapters/sqlite"
	"neptunebot/internal/app"
	"neptunebot/internal/dispatch"
	"neptunebot/internal/executor"
	"neptunebot/internal/monitor"
	"neptunebot/internal/registry"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	// 4. Initialize the Position Registry and restore live positions
	reg, err := registry.New(appLogger, repo)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize position registry: %v", err)
	}
	if err := reg.Load(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to restore live positions")
		log.Fatalf("FATAL: Failed to restore live positions: %v", err)
	}

	// 5. One exchange client and executor per configured account
	retry := executor.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		MinBackoff:  cfg.RetryMinBackoff,
		MaxBackoff:  cfg.RetryMaxBackoff,
	}
	executors := make([]*executor.Executor, 0, len(cfg.Accounts))
	for _, account := range cfg.Accounts {
		client, err := binanceclient.New(binanceclient.Config{
			APIKey:     account.APIKey,
			SecretKey:  account.APISecret,
			UseTestnet: cfg.IsTestnet,
			Logger:     appLogger,
		})
		if err != nil {
			appLogger.Error(context.Background(), err, "FATAL: Failed to initialize exchange client", map[string]interface{}{"user": account.Name})
			log.Fatalf("FATAL: Failed to initialize exchange client for %s: %v", account.Name, err)
		}
		exec, err := executor.New(account.Name, account.Identity, client, account.Profile, reg, retry, appLogger)
		if err != nil {
			appLogger.Error(context.Background(), err, "FATAL: Failed to initialize executor", map[string]interface{}{"user": account.Name})
			log.Fatalf("FATAL: Failed to initialize executor for %s: %v", account.Name, err)
		}
		executors = append(executors, exec)
	}
	appLogger.Info(context.Background(), "Accounts initialized", map[string]interface{}{"accounts": len(executors)})

	// 6. Dispatcher, monitor and messenger
	dispatcher, err := dispatch.New(executors, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize dispatcher: %v", err)
	}
	mon, err := monitor.New(executors, cfg.MonitorInterval, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize position monitor: %v", err)
	}
	messenger, err := console.New(os.Stdin, os.Stdout, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize messenger: %v", err)
	}

	// 7. Application Service
	service, err := app.New(app.Config{
		Messenger:  messenger,
		Dispatcher: dispatcher,
		Monitor:    mon,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize application service")
		log.Fatalf("FATAL: Failed to initialize application service: %v", err)
	}

	// 8. Run until SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := service.Run(ctx); err != nil {
		appLogger.Error(context.Background(), err, "Engine exited with error")
		log.Fatalf("FATAL: Engine exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
