package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clashwithnaro/pushbot/internal/feeder"
	"github.com/clashwithnaro/pushbot/pkg/coc"
	"github.com/clashwithnaro/pushbot/pkg/config"
	"github.com/clashwithnaro/pushbot/pkg/feed"
	"github.com/clashwithnaro/pushbot/pkg/logger"
	"github.com/clashwithnaro/pushbot/pkg/server"
	"github.com/clashwithnaro/pushbot/pkg/snapshot"
	"github.com/clashwithnaro/pushbot/pkg/store"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// 1. Load config
	cfg, err := config.Load("")
	if err == nil {
		err = errors.Join(cfg.RequireClash(), cfg.RequireSnapshot())
	}
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	l, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Environment,
		ServiceName: "feeder",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer l.Sync()

	l.Info("feeder service initializing", zap.String("env", cfg.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Initialize PostgreSQL, the source of tracked clans
	db, err := store.Connect(ctx, store.Config{
		URI:             cfg.Postgres.URI,
		MinConns:        1,
		MaxConns:        2,
		MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
	}, l)
	if err != nil {
		l.Error("failed to connect to postgres", err)
		os.Exit(1)
	}
	defer db.Close()

	// 4. Initialize snapshot store
	probes := map[string]server.ReadinessProbe{"postgres": db.Ping}
	var snapshots snapshot.Store
	switch cfg.Feeder.SnapshotBackend {
	case "redis":
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			l.Error("invalid redis url", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		snapshots = snapshot.NewRedisStore(rdb, cfg.Feeder.SnapshotKey)
		probes["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	default:
		snapshots = snapshot.NewFileStore(cfg.Feeder.SnapshotPath)
	}
	l.Info("snapshot store selected", zap.String("backend", cfg.Feeder.SnapshotBackend))

	// 5. Initialize components
	client := coc.NewHTTPClient(coc.Config{
		BaseURL:     cfg.Clash.BaseURL,
		Token:       cfg.Clash.Token,
		Timeout:     cfg.Clash.Timeout,
		MinInterval: cfg.Clash.MinInterval,
	})
	publisher := feed.NewKafkaPublisher(feed.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
	})

	// 6. Create service
	svc := feeder.NewService(l, db, client, publisher, snapshots, cfg.Feeder.PollInterval)

	// 7. Start observability server
	obsServer := server.New(cfg.Feeder.ObservabilityAddr, l, probes)
	go func() {
		if err := obsServer.Start(); err != nil {
			l.Error("observability server failed", err)
		}
	}()

	// 8. Start service
	l.Info("feeder service starting")
	if err := svc.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			l.Info("feeder service stopping")
		} else {
			l.Error("feeder service failed", err)
		}
	}

	// Clean up observability server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	obsServer.Shutdown(shutdownCtx)
}
