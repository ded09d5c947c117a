package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"taskhub/internal/config"
	"taskhub/internal/handler"
	"taskhub/internal/httpserver"
	"taskhub/internal/repository"
	"taskhub/internal/repository/memory"
	"taskhub/internal/service"
	"taskhub/pkg/circuitbreaker"
	"taskhub/pkg/db"
	"taskhub/pkg/logger"
	"taskhub/pkg/mq"
	"taskhub/pkg/otel"
	"taskhub/pkg/outbox"
	redisclient "taskhub/pkg/redis"
	"taskhub/pkg/util"
)

// eventStore outbox 表的读写，由 *outbox.Repository 与 *memory.Store 实现
type eventStore interface {
	service.EventRecorder
	outbox.EventStore
	outbox.ReplayStore
}

type stores struct {
	tasks  service.TaskStore
	users  service.UserStore
	events eventStore
	tx     service.TxManager
	ping   httpserver.Pinger
	close  func()
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	if cfg.DB.Driver == "memory" {
		log.Warn("Using in-memory store, data is lost on restart")
		store := memory.New()
		return &stores{
			tasks:  store.Tasks(),
			users:  store.Users(),
			events: store,
			tx:     store,
			close:  func() {},
		}, nil
	}

	pool, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		return nil, err
	}
	if cfg.DB.AutoMigrate {
		if err := repository.Migrate(ctx, pool, log); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &stores{
		tasks:  repository.NewTaskRepository(pool, log),
		users:  repository.NewUserRepository(pool, log),
		events: outbox.NewRepository(pool),
		tx:     db.NewTxManager(pool, log, *cfg.Tx.MaxRetries, cfg.Tx.RetryBackoff),
		ping:   pool,
		close:  pool.Close,
	}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(cfg.Log)
	defer log.Sync()

	log.Info("Starting taskhub...",
		zap.String("env", os.Getenv("CONFIG_ENV")),
		zap.String("db_driver", cfg.DB.Driver),
		zap.Bool("mq_enabled", cfg.MQ.Enabled),
		zap.String("port", cfg.Server.Port),
	)

	shutdownOTel, err := otel.Init(cfg.OTel, log)
	if err != nil {
		log.Fatal("Failed to init OpenTelemetry", zap.Error(err))
	}
	defer shutdownOTel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to init store", zap.Error(err))
	}
	defer st.close()

	// MQ 未启用时 publisher 保持为 nil 接口，ReplayService 会返回 ErrPublisherUnavailable
	var publisher outbox.EventPublisher
	var mqStatus httpserver.ConnChecker
	if cfg.MQ.Enabled {
		p, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Fatal("Failed to init MQ publisher", zap.Error(err))
		}
		defer p.Close()
		publisher = p
		mqStatus = p
		log.Info("MQ publisher connected")
	}

	if publisher != nil && cfg.Outbox.Enabled {
		dispatcher := outbox.NewDispatcher(st.events, publisher, log).
			WithMaxRetries(cfg.Outbox.MaxRetries).
			WithInterval(cfg.Outbox.Interval).
			WithBatchSize(cfg.Outbox.BatchSize).
			WithCircuitBreaker(circuitbreaker.New("outbox_publisher", circuitbreaker.DefaultConfig()))

		if cfg.Redis.Addr != "" {
			rdb, err := redisclient.NewRedisClient(cfg.Redis)
			if err != nil {
				log.Fatal("Failed to init Redis", zap.Error(err))
			}
			defer rdb.Close()
			dispatcher.WithDeduper(util.NewDeduper(rdb, cfg.Outbox.DedupTTL, log))
			log.Info("Outbox de-duplication enabled", zap.String("redis", cfg.Redis.Addr))
		}

		go dispatcher.Start(ctx)
		log.Info("Outbox dispatcher started",
			zap.Duration("interval", cfg.Outbox.Interval),
			zap.Int("batch_size", cfg.Outbox.BatchSize),
		)
	}

	coordinator := service.NewCoordinator(st.tasks, st.users, st.events, st.tx, log)
	replayService := outbox.NewReplayService(st.events, publisher, log, cfg.Outbox.MaxRetries)

	router := httpserver.NewRouter(
		handler.NewTaskHandler(coordinator, log),
		handler.NewUserHandler(coordinator, log),
		handler.NewAdminHandler(replayService, log),
		httpserver.RouterConfig{
			ServiceName: cfg.Service.Name,
			JWTSecret:   cfg.JWT.Secret,
			DB:          st.ping,
			MQ:          mqStatus,
		},
		log,
	)

	srv := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: httpserver.WithCORS(router, cfg.Server.AllowedOrigins),
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down taskhub gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	// 停止 outbox 轮询，其余资源按 defer 逆序关闭
	stop()
	log.Info("taskhub shutdown complete")
}
