package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"price_alert_backend/config"
	"price_alert_backend/middleware"
	"price_alert_backend/models"
	"price_alert_backend/routes"
	"price_alert_backend/scheduler"
	"price_alert_backend/services"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := config.NewLogger(cfg.App, cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Price Alert Backend starting",
		zap.String("env", cfg.App.Environment),
		zap.String("symbol", cfg.Market.Symbol),
	)

	// Set Gin mode based on environment
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.Cache.Backend == config.CacheRedis || cfg.Alerts.Store == config.StoreRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to connect to Redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		defer rdb.Close()
	}

	cache := newPriceCache(cfg, rdb)

	registry, closeRegistry, err := newAlertRegistry(ctx, cfg, rdb, logger)
	if err != nil {
		logger.Fatal("Failed to initialize alert registry", zap.String("store", cfg.Alerts.Store), zap.Error(err))
	}
	defer closeRegistry()

	notifier, closeNotifier := newNotifier(cfg, logger)
	defer closeNotifier()

	fetcher := services.NewExternalPriceFetcher(cfg.Market.TickerURL, cfg.Market.FetchTimeout, cache, logger)
	priceService := services.NewPriceService(cache, fetcher, logger)

	alertScheduler := scheduler.NewAlertScheduler(priceService, notifier, registry, scheduler.Options{
		Interval:      cfg.Alerts.Interval,
		Workers:       cfg.Alerts.Workers,
		EvalTimeout:   cfg.Alerts.EvalTimeout,
		NotifyTimeout: cfg.Notify.Timeout,
		ResumeOnStart: cfg.Alerts.ResumeOnStart,
	}, logger)

	stream := services.NewPriceIngestionStream(services.IngestionConfig{
		URL:           cfg.Market.StreamURL,
		TickInterval:  cfg.Market.TickInterval,
		ReadTimeout:   cfg.Market.ReadTimeout,
		MaxReconnects: cfg.Market.MaxReconnects,
	}, cache, logger)

	// Create Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestLogger(logger))

	setupHealthEndpoints(router, rdb)

	limiter := middleware.NewRateLimiter(routes.AlertRequestsPerWindow, routes.AlertRequestWindow)
	limiter.StartCleanup(ctx.Done())

	routes.SetupRoutes(router, routes.Dependencies{
		Prices:      priceService,
		Alerts:      alertScheduler,
		Symbol:      cfg.Market.Symbol,
		RateLimiter: limiter,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.App.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	// A failed resume leaves the registry intact; alerts can be re-added
	if err := alertScheduler.Start(ctx); err != nil {
		logger.Error("Alert scheduler started without persisted alerts", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		// Losing the stream is not fatal: reads fall back to the ticker endpoint
		if err := stream.Run(gctx); err != nil {
			logger.Error("Price stream terminated", zap.Error(err))
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		gracefulShutdown(server, alertScheduler, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
	}
	logger.Info("Server shutdown completed")
}

func newPriceCache(cfg *config.Config, rdb *redis.Client) services.PriceCache {
	if cfg.Cache.Backend == config.CacheMemory {
		return services.NewMemoryPriceCache()
	}
	return services.NewRedisPriceCache(rdb, cfg.Redis.PriceKey)
}

// newAlertRegistry opens the configured store and returns its close func
func newAlertRegistry(ctx context.Context, cfg *config.Config, rdb *redis.Client, logger *zap.Logger) (services.AlertRegistry, func(), error) {
	switch cfg.Alerts.Store {
	case config.StoreMongo:
		reg, err := services.ConnectMongoAlertRegistry(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection, logger)
		if err != nil {
			return nil, nil, err
		}
		return reg, func() {
			if err := reg.Close(context.Background()); err != nil {
				logger.Warn("Failed to disconnect MongoDB", zap.Error(err))
			}
		}, nil

	case config.StorePostgres, config.StoreSQLite:
		db, err := config.InitDB(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := models.MigrateAlertModels(db); err != nil {
			return nil, nil, fmt.Errorf("migrate alert models: %w", err)
		}
		return services.NewGormAlertRegistry(db), func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
				logger.Info("Database connection closed")
			}
		}, nil

	default:
		return services.NewRedisAlertRegistry(rdb, cfg.Redis.AlertKey), func() {}, nil
	}
}

// newNotifier fans out to every configured channel, or logs when none is
func newNotifier(cfg *config.Config, logger *zap.Logger) (services.Notifier, func()) {
	var channels []services.Channel
	closeFn := func() {}

	if cfg.Notify.WebhookURL != "" {
		channels = append(channels, services.Channel{
			Name:     "webhook",
			Notifier: services.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout),
		})
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kn := services.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Market.Symbol)
		channels = append(channels, services.Channel{Name: "kafka", Notifier: kn})
		closeFn = func() {
			if err := kn.Close(); err != nil {
				logger.Warn("Failed to close Kafka writer", zap.Error(err))
			}
		}
	}
	if len(channels) == 0 {
		logger.Warn("No notification channel configured, alerts will only be logged")
		channels = append(channels, services.Channel{Name: "log", Notifier: services.NewLogNotifier(logger)})
	}

	return services.NewNotificationDispatcher(logger, channels...), closeFn
}

// setupHealthEndpoints sets up liveness and readiness probes
func setupHealthEndpoints(router *gin.Engine, rdb *redis.Client) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "Price Alert Backend API",
			"version": "1.0.0",
		})
	})

	// Liveness probe - always returns OK if server is running
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// Readiness probe - checks the Redis connection when Redis is in use
	router.GET("/ready", func(c *gin.Context) {
		if rdb != nil {
			if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "not_ready",
					"message": "Redis ping failed",
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
		})
	})
}

// gracefulShutdown stops the scheduler, then drains the HTTP server
func gracefulShutdown(server *http.Server, alertScheduler *scheduler.AlertScheduler, logger *zap.Logger) {
	logger.Info("Shutting down gracefully...")

	// Stop scheduler first
	alertScheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}
}
