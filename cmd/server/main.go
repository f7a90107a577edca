package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/tomevault/tomevault/internal/config"
	"github.com/tomevault/tomevault/internal/geoip"
	"github.com/tomevault/tomevault/internal/handler"
	"github.com/tomevault/tomevault/internal/middleware"
	"github.com/tomevault/tomevault/internal/pkg/logger"
	"github.com/tomevault/tomevault/internal/repository"
	"github.com/tomevault/tomevault/internal/security"
	"github.com/tomevault/tomevault/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Logging.Level)

	// Persistence
	db, dialect, err := repository.NewDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Connected to database", "driver", dialect.Name())

	gormDB, err := repository.NewGormDB(db, dialect)
	if err != nil {
		log.Fatalf("Failed to initialize ORM: %v", err)
	}

	logRepo := repository.NewAPILogRepo(db, dialect)
	tomeRepo, err := repository.NewTomeRepo(gormDB)
	if err != nil {
		log.Fatalf("Failed to migrate catalog schema: %v", err)
	}

	// GeoIP cache: Redis when configured, in-process TTL map otherwise.
	var geoCache geoip.Cache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err == nil {
			logger.Info("Connected to Redis")
			geoCache = geoip.NewRedisCache(rdb)
		} else {
			logger.Warn("Redis unavailable, using in-memory geo cache", "error", err.Error())
		}
	}
	if geoCache == nil {
		geoCache = geoip.NewMemoryCache()
	}
	geoClient := geoip.NewClient(cfg.GeoIP, cfg.Security, geoCache)

	// Logging pipeline
	analyzer := security.NewAnalyzer(cfg.Security, logRepo)
	sink := service.NewSink(cfg.Logging, logRepo)

	var dispatcher service.Dispatcher
	var queued *service.QueuedDispatcher
	if cfg.Logging.UseQueue {
		queued = service.NewQueuedDispatcher(sink, cfg.Logging.QueueSize, cfg.Logging.BatchDelay())
		dispatcher = queued
	} else {
		dispatcher = service.NewImmediateDispatcher(sink)
	}
	recorder := service.NewRecorder(cfg.Logging, analyzer, dispatcher)

	// Domain services
	tomeSvc := service.NewTomeService(tomeRepo)
	summarySvc := service.NewSummaryService(cfg, logRepo, geoClient)

	// Handlers
	tomeHandler := handler.NewTomeHandler(tomeSvc)
	summaryHandler := handler.NewSummaryHandler(summarySvc)
	healthHandler := handler.NewHealthHandler(db)

	// Router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(recorder))
	r.Use(middleware.Metrics())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.Identify(cfg.Auth))
	if cfg.RateLimit.Enabled {
		r.Use(middleware.RateLimit(cfg.RateLimit))
	}
	r.NoRoute(middleware.NotFound())

	r.GET("/health", healthHandler.Health)
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	{
		api.GET("/tomes", tomeHandler.Index)
		api.GET("/tomes/:id", tomeHandler.Show)
		api.GET("/logs/summary", summaryHandler.Summary)

		protected := api.Group("")
		protected.Use(middleware.RequireAuth())
		{
			protected.POST("/tomes", tomeHandler.Store)
			protected.PUT("/tomes/:id", tomeHandler.Update)
			protected.DELETE("/tomes/:id", tomeHandler.Destroy)
		}
	}

	// Retention cleanup
	cleanupDone := make(chan struct{})
	go func() {
		interval := time.Duration(cfg.Database.CleanupIntervalMinutes) * time.Minute
		retention := time.Duration(cfg.Database.LogRetentionDays) * 24 * time.Hour
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := logRepo.DeleteOlderThan(context.Background(), retention); err != nil {
					logger.Error("Log retention cleanup failed", "error", err.Error())
				}
			case <-cleanupDone:
				return
			}
		}
	}()

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("Tomevault started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	close(cleanupDone)
	if queued != nil {
		queued.Close(5 * time.Second)
	}

	logger.Info("Server exiting")
}
