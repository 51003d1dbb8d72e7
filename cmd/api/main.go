package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	mqcontracts "freelancehub/contracts/mq"
	"freelancehub/internal/config"
	"freelancehub/internal/escrow"
	"freelancehub/internal/handler"
	"freelancehub/internal/httpserver"
	"freelancehub/internal/lifecycle"
	"freelancehub/internal/mqhandler"
	"freelancehub/internal/notify"
	"freelancehub/internal/notify/push"
	"freelancehub/internal/plan"
	"freelancehub/internal/repository"
	"freelancehub/internal/repository/memory"
	"freelancehub/internal/repository/postgres"
	"freelancehub/pkg/db"
	"freelancehub/pkg/logger"
	"freelancehub/pkg/mq"
	"freelancehub/pkg/outbox"
	redisclient "freelancehub/pkg/redis"
	"freelancehub/pkg/util"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const completionQueue = "lifecycle.project-completion"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting freelancehub API...",
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("mq_enabled", cfg.MQ.URL != ""),
		zap.Bool("redis_enabled", cfg.Redis.Addr != ""),
	)

	// Storage
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to init storage", zap.Error(err))
	}
	defer closeStore()

	if err := seedProjects(ctx, store, cfg.Storage.Seed, log); err != nil {
		log.Fatal("Failed to seed projects", zap.Error(err))
	}

	// Redis（可选）：去重、WebSocket 跨进程推送
	rdb, err := redisclient.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Fatal("Failed to init Redis", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// Services
	rate, err := cfg.CommissionRate()
	if err != nil {
		log.Fatal("Invalid commission rate", zap.Error(err))
	}
	ledger, err := escrow.NewLedger(escrow.Config{
		CommissionRate:   rate,
		FeeAccountUserID: cfg.Escrow.FeeAccountUserID,
	}, escrow.SimulatedProcessor{}, log)
	if err != nil {
		log.Fatal("Failed to init escrow ledger", zap.Error(err))
	}
	svc := lifecycle.NewService(store, plan.NewValidator(), ledger, log)

	// WebSocket push
	hub := push.NewHub(cfg.JWT.Secret, log)
	if rdb != nil {
		relay := push.NewRelay(rdb, hub, log)
		go func() {
			if err := relay.Start(ctx); err != nil {
				log.Error("Push relay stopped", zap.Error(err))
			}
		}()
	}

	// Events：有 MQ 时发布到 RabbitMQ，否则进程内同步处理
	publisher, closeEvents, err := startEvents(cfg, store, svc, hub, rdb, log)
	if err != nil {
		log.Fatal("Failed to init event transport", zap.Error(err))
	}
	defer closeEvents()

	dispatcher := outbox.NewDispatcher(store.Outbox(), publisher, log).
		WithInterval(cfg.Outbox.Interval).
		WithBatchSize(cfg.Outbox.BatchSize).
		WithMaxRetries(cfg.Outbox.MaxRetries)
	go dispatcher.Start(ctx)

	sweeper := lifecycle.NewSweeper(svc, cfg.Approvals.ResumeInterval, cfg.Approvals.BatchSize, log)
	go sweeper.Start(ctx)

	// HTTP
	router := httpserver.NewRouter(httpserver.Handlers{
		Plan:         handler.NewPlanHandler(svc, log),
		Milestone:    handler.NewMilestoneHandler(svc, log),
		Ledger:       handler.NewLedgerHandler(svc, log),
		Notification: handler.NewNotificationHandler(store.Notifications(), log),
		Admin:        handler.NewAdminHandler(outbox.NewReplayService(store.Outbox(), log), cfg.AdminUserIDs, log),
		WebSocket:    hub.ServeWS,
	}, store, cfg.JWT.Secret, log)

	server := httpserver.NewServer(cfg.Server.Port, router, cfg.Server.ShutdownTimeout, log)
	if err := server.Run(ctx); err != nil {
		log.Error("HTTP server failed", zap.Error(err))
	}

	log.Info("freelancehub API shutdown complete")
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.Store, func(), error) {
	if cfg.Storage.Driver == config.DriverMemory {
		log.Warn("Using in-memory storage, state is lost on restart")
		return memory.NewStore(), func() {}, nil
	}

	pool, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DB.AutoMigrate {
		if err := postgres.Migrate(ctx, pool, log); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return postgres.NewStore(pool, log), pool.Close, nil
}

func seedProjects(ctx context.Context, store repository.Store, seeds []config.SeedProject, log *zap.Logger) error {
	for _, seed := range seeds {
		p, err := seed.Project()
		if err != nil {
			return err
		}
		err = store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
			return tx.Projects().Create(ctx, p)
		})
		if errors.Is(err, repository.ErrConflict) {
			log.Debug("Seed project already exists", zap.Int64("project_id", p.ID))
			continue
		}
		if err != nil {
			return err
		}
		log.Info("Seeded project", zap.Int64("project_id", p.ID), zap.String("title", p.Title))
	}
	return nil
}

func startEvents(
	cfg *config.Config,
	store repository.Store,
	svc *lifecycle.Service,
	hub *push.Hub,
	rdb *redis.Client,
	log *zap.Logger,
) (outbox.Publisher, func(), error) {
	completion := mqhandler.NewProjectCompletionHandler(svc, log)

	if cfg.MQ.URL != "" {
		publisher, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			return nil, nil, err
		}

		router := mq.NewRouter(log)
		mqhandler.RegisterProjectCompletion(router, completion, nil)
		consumer, err := mq.NewConsumer(cfg.MQ.URL, completionQueue, router.RoutingKeys(), log)
		if err != nil {
			publisher.Close()
			return nil, nil, err
		}
		consumer.SetHandler(router.Handle)
		go func() {
			log.Info("Starting project completion consumer...", zap.String("queue", completionQueue))
			if err := consumer.StartConsuming(); err != nil {
				log.Error("Project completion consumer failed", zap.Error(err))
			}
		}()

		return publisher, func() {
			consumer.Stop()
			consumer.Close()
			publisher.Close()
		}, nil
	}

	// 单进程模式：通知直接写库并推送到本进程的 hub
	var pusher notify.Pusher = push.NewBreakerPusher(hub, cfg.Push.Breaker)
	if rdb != nil {
		pusher = push.NewBreakerPusher(push.NewRedisPusher(rdb), cfg.Push.Breaker)
	}
	dispatcher := notify.NewDispatcher(store.Notifications(), pusher, log)
	notifyHandler := mqhandler.NewLifecycleEventHandler(
		dispatcher,
		util.NewDeduper(rdb, cfg.Notifier.DedupTTL, log),
		util.NewRetryCounter(rdb, cfg.Notifier.DedupTTL),
		nil,
		cfg.Notifier.MaxRetries,
		log,
	)

	router := mq.NewRouter(log)
	mqhandler.RegisterNotifications(router, notifyHandler)
	mqhandler.RegisterProjectCompletion(router, completion, notifyHandler.Handle)
	log.Info("MQ disabled, lifecycle events are handled in-process",
		zap.Strings("routing_keys", mqcontracts.LifecycleEventTypes),
	)
	return mq.NewLocalBus(router.Handle, log), func() {}, nil
}
