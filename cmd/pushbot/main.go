package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clashwithnaro/pushbot/internal/bot"
	"github.com/clashwithnaro/pushbot/pkg/chat"
	"github.com/clashwithnaro/pushbot/pkg/coc"
	"github.com/clashwithnaro/pushbot/pkg/config"
	"github.com/clashwithnaro/pushbot/pkg/configcache"
	"github.com/clashwithnaro/pushbot/pkg/eventlog"
	"github.com/clashwithnaro/pushbot/pkg/feed"
	"github.com/clashwithnaro/pushbot/pkg/ingest"
	"github.com/clashwithnaro/pushbot/pkg/leaderboard"
	"github.com/clashwithnaro/pushbot/pkg/logger"
	"github.com/clashwithnaro/pushbot/pkg/server"
	"github.com/clashwithnaro/pushbot/pkg/store"
	"github.com/clashwithnaro/pushbot/pkg/writer"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func main() {
	// 1. Load config
	cfg, err := config.Load("")
	if err == nil {
		err = errors.Join(cfg.RequireDiscord(), cfg.RequireClash())
	}
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	l, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Environment,
		ServiceName: cfg.ServiceName,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer l.Sync()

	l.Info("pushbot initializing", zap.String("env", cfg.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Initialize PostgreSQL
	db, err := store.Connect(ctx, store.Config{
		URI:             cfg.Postgres.URI,
		MinConns:        int32(cfg.Postgres.MinConns),
		MaxConns:        int32(cfg.Postgres.MaxConns),
		MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
	}, l)
	if err != nil {
		l.Error("failed to connect to postgres", err)
		os.Exit(1)
	}

	// 4. Initialize external clients
	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		l.Error("failed to create discord session", err)
		os.Exit(1)
	}
	transport := chat.NewDiscord(session)
	clash := coc.NewHTTPClient(coc.Config{
		BaseURL:     cfg.Clash.BaseURL,
		Token:       cfg.Clash.Token,
		Timeout:     cfg.Clash.Timeout,
		MinInterval: cfg.Clash.MinInterval,
	})

	// 5. Initialize components
	guilds := configcache.New(db.GuildConfig)
	channels := configcache.New(db.ChannelConfig)
	dirty := leaderboard.NewDirty()

	refresher := leaderboard.NewRefresher(db, clash, guilds, transport, dirty, leaderboard.Config{
		PageSize: cfg.Bot.PageSize,
		Limit:    cfg.Bot.LeaderboardLimit,
	}, l)
	boards := leaderboard.NewAdmin(db, guilds, clash, transport, dirty, l)

	timers := eventlog.NewTimerWatcher(db, transport, l)
	dispatcher := eventlog.NewDispatcher(db, channels, transport, refresher, timers, eventlog.Config{
		ShortDelayThreshold: cfg.Bot.ShortDelayThreshold,
	}, l)
	logs := eventlog.NewAdmin(db, guilds, channels, transport, l)

	batch := writer.NewBatchWriter(db, writer.Config{WarnThreshold: cfg.Bot.BufferWarnThreshold}, l.Named("writer"))
	ingestor := ingest.NewIngestor(batch, dirty, l)
	subscriber := feed.NewKafkaSubscriber(feed.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: cfg.Kafka.GroupID,
	}, l.Named("feed"))

	commands := bot.NewCommands(boards, logs, refresher, l)
	gateway := bot.NewDiscordGateway(session, refresher, boards, commands, l)

	// 6. Create service
	svc := bot.NewService(l, bot.Components{
		Gateway:      gateway,
		Feed:         subscriber,
		Handler:      ingestor.Handle,
		Writer:       batch,
		Leaderboards: refresher,
		Reporter:     dispatcher,
		Timers:       timers,
		Store:        db,
	}, bot.Intervals{
		Flush:       cfg.Bot.FlushInterval,
		Refresh:     cfg.Bot.RefreshInterval,
		FullRefresh: cfg.Bot.FullRefreshInterval,
		Report:      cfg.Bot.ReportInterval,
	})

	// 7. Start observability server
	obsServer := server.New(cfg.Bot.ObservabilityAddr, l, map[string]server.ReadinessProbe{
		"postgres": db.Ping,
	})
	go func() {
		if err := obsServer.Start(); err != nil {
			l.Error("observability server failed", err)
		}
	}()

	// 8. Start service
	l.Info("pushbot starting")
	if err := svc.Start(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			l.Info("pushbot stopping")
		} else {
			l.Error("pushbot failed", err)
		}
	}

	// Clean up observability server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	obsServer.Shutdown(shutdownCtx)
}
