package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/clashwithnaro/pushbot/pkg/feed"
	"github.com/clashwithnaro/pushbot/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	addr := flag.String("addr", ":8082", "HTTP server address")
	brokers := flag.String("brokers", "localhost:9092", "Comma separated Kafka brokers")
	topic := flag.String("topic", "trophy-changes", "Kafka topic")
	flag.Parse()

	l, err := logger.New(logger.Config{Level: "info", Environment: "development", ServiceName: "injector"})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer l.Sync()

	publisher := feed.NewKafkaPublisher(feed.Config{
		Brokers: strings.Split(*brokers, ","),
		Topic:   *topic,
	})
	defer publisher.Close()

	server := &http.Server{
		Addr:              *addr,
		Handler:           routes(publisher, l),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		l.Info("injector server starting", zap.String("addr", *addr), zap.String("topic", *topic))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("server failed", err)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	l.Info("shutting down injector server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
}
