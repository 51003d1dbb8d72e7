package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqcontracts "freelancehub/contracts/mq"
	"freelancehub/internal/config"
	"freelancehub/internal/mqhandler"
	"freelancehub/internal/notify"
	"freelancehub/internal/notify/push"
	"freelancehub/internal/repository/postgres"
	"freelancehub/pkg/db"
	"freelancehub/pkg/logger"
	"freelancehub/pkg/mq"
	redisclient "freelancehub/pkg/redis"
	"freelancehub/pkg/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(cfg.LogLevel)
	defer log.Sync()

	if cfg.MQ.URL == "" {
		log.Fatal("Notifier requires mq.url; without MQ the API handles notifications in-process")
	}
	if cfg.Storage.Driver != config.DriverPostgres {
		log.Fatal("Notifier requires the postgres storage driver", zap.String("driver", cfg.Storage.Driver))
	}

	log.Info("Starting notifier...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("queue", cfg.Notifier.Queue),
	)

	// DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()
	store := postgres.NewStore(dbConn, log)

	// Redis：去重、重试计数、推送
	rdb, err := redisclient.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Fatal("Failed to init Redis", zap.Error(err))
	}
	if rdb == nil {
		log.Warn("Redis not configured, dedup relies on the notifications unique key and websocket push is disabled")
	} else {
		defer rdb.Close()
	}

	// MQ publisher 只用于死信
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	var pusher notify.Pusher
	if rdb != nil {
		pusher = push.NewBreakerPusher(push.NewRedisPusher(rdb), cfg.Push.Breaker)
	}
	dispatcher := notify.NewDispatcher(store.Notifications(), pusher, log)
	eventHandler := mqhandler.NewLifecycleEventHandler(
		dispatcher,
		util.NewDeduper(rdb, cfg.Notifier.DedupTTL, log),
		util.NewRetryCounter(rdb, cfg.Notifier.DedupTTL),
		publisher,
		cfg.Notifier.MaxRetries,
		log,
	)

	router := mq.NewRouter(log)
	mqhandler.RegisterNotifications(router, eventHandler)

	consumer, err := mq.NewConsumer(cfg.MQ.URL, cfg.Notifier.Queue, mqcontracts.LifecycleEventTypes, log)
	if err != nil {
		log.Fatal("Failed to init consumer", zap.Error(err))
	}
	defer consumer.Close()
	consumer.SetHandler(router.Handle)

	go func() {
		log.Info("Starting lifecycle event consumer...", zap.Strings("routing_keys", mqcontracts.LifecycleEventTypes))
		if err := consumer.StartConsuming(); err != nil {
			log.Fatal("Lifecycle event consumer failed", zap.Error(err))
		}
	}()

	// HTTP Server (for health checks)
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/healthz", func(c *gin.Context) {
		if !consumer.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "mq_disconnected"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:              ":" + cfg.Notifier.HealthPort,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("Notifier is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down notifier gracefully...")
	consumer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("Notifier shutdown complete")
}
