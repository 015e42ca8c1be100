// Package main provides the main entry point for the Peyk campaign delivery engine
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/peyk-io/peyk/app/dispatcher"
	"github.com/peyk-io/peyk/app/handlers"
	"github.com/peyk-io/peyk/app/router"
	"github.com/peyk-io/peyk/app/scheduler"
	"github.com/peyk-io/peyk/app/services"
	businessflow "github.com/peyk-io/peyk/business_flow"
	"github.com/peyk-io/peyk/config"
	"github.com/peyk-io/peyk/models"
	"github.com/peyk-io/peyk/repository"
	"github.com/peyk-io/peyk/utils"
)

// Application represents the main application structure
type Application struct {
	router     *router.FiberRouter
	config     *config.ProductionConfig
	server     *fiber.App
	dispatcher *dispatcher.Dispatcher
	stopFuncs  []func()
}

func main() {
	log.Println("Starting Peyk application...")

	// Load production configuration
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize application
	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Setup routes
	app.router.SetupRoutes()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Println("Shutting down gracefully...")

	// Stop background workers
	for _, fn := range app.stopFuncs {
		fn()
	}

	// Let live dispatch runs checkpoint their position before the process exits
	app.dispatcher.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pooling configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test the connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// migrateDatabase keeps the schema in sync with the model definitions
func migrateDatabase(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Account{},
		&models.Campaign{},
		&models.Recipient{},
		&models.ScheduleDay{},
		&models.DeliveryRecord{},
	)
}

// initializeCache initializes the Cache client and verifies connectivity
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled || cfg.Provider != "redis" {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	// Override DB and password if provided in config
	opt.DB = cfg.RedisDB
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established to %s (db=%d)", cfg.RedisURL, cfg.RedisDB)
	return rc, nil
}

// startCacheHealthMonitor starts a background goroutine that periodically pings Redis
// to detect connectivity issues. The returned cancel function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeChannelClient selects the messaging channel implementation from configuration
func initializeChannelClient(cfg *config.ProductionConfig) services.ChannelClient {
	switch cfg.Channel.Provider {
	case "mock":
		return services.NewMockChannelClient()
	default:
		return services.NewGatewayChannelClient(&cfg.Channel)
	}
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	// Initialize database
	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	if err := migrateDatabase(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		cancel := startCacheHealthMonitor(context.Background(), rc, 30*time.Second)
		stopFuncs = append(stopFuncs, cancel)
	}

	// Initialize repositories
	accountRepo := repository.NewAccountRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)
	recipientRepo := repository.NewRecipientRepository(db)
	dayRepo := repository.NewScheduleDayRepository(db)
	recordRepo := repository.NewDeliveryRecordRepository(db)

	// Initialize services
	channel := initializeChannelClient(cfg)

	dispatchLogger := utils.NewRotatingLogger("dispatcher", cfg.Logging.FilePath, cfg.Logging.MaxSize, cfg.Logging.MaxBackups, cfg.Logging.MaxAge)

	var quota services.QuotaService
	var notifier services.Notifier
	if rc != nil {
		quota = services.NewRedisQuotaService(rc, cfg.Cache.RedisPrefix)
		notifier = services.NewRedisNotifier(rc, cfg.Cache.RedisPrefix)
	} else {
		quota = services.NewMemoryQuotaService()
		notifier = services.NewLogNotifier(dispatchLogger)
	}

	// Dispatch core
	baseCtx, cancelDispatch := context.WithCancel(context.Background())
	registry := dispatcher.NewRegistry()
	disp := dispatcher.NewDispatcher(
		baseCtx,
		registry,
		campaignRepo,
		recipientRepo,
		recordRepo,
		dayRepo,
		channel,
		quota,
		notifier,
		dispatchLogger,
	)
	retry := dispatcher.NewRetryCoordinator(disp, registry, campaignRepo, recipientRepo, dispatchLogger)
	stopFuncs = append(stopFuncs, cancelDispatch)

	// Initialize flows
	campaignFlow := businessflow.NewCampaignControlFlow(
		campaignRepo,
		recipientRepo,
		dayRepo,
		accountRepo,
		disp,
		retry,
		registry,
		notifier,
		db,
		dispatchLogger,
	)

	// Initialize handlers
	campaignHandler := handlers.NewCampaignHandler(campaignFlow)

	// Initialize router
	appRouter := router.NewFiberRouter(cfg, campaignHandler)

	// Start campaign scheduler
	if cfg.Scheduler.Enabled {
		schedLogger := utils.NewRotatingLogger("scheduler", cfg.Logging.FilePath, cfg.Logging.MaxSize, cfg.Logging.MaxBackups, cfg.Logging.MaxAge)
		sched := scheduler.NewCampaignScheduler(
			campaignRepo,
			dayRepo,
			accountRepo,
			disp,
			retry,
			registry,
			quota,
			schedLogger,
			cfg.Scheduler.TickInterval,
			cfg.Scheduler.RetrySweepInterval,
			cfg.Scheduler.RetryCooldown,
			cfg.Scheduler.BatchLimit,
		)
		stopScheduler := sched.Start(context.Background())
		stopFuncs = append(stopFuncs, stopScheduler)
	}

	fiberRouter := appRouter.(*router.FiberRouter)
	return &Application{
		router:     fiberRouter,
		config:     cfg,
		server:     fiberRouter.GetApp(),
		dispatcher: disp,
		stopFuncs:  stopFuncs,
	}, nil
}
