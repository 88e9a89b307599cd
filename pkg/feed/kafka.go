package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/clashwithnaro/pushbot/pkg/logger"
	"github.com/clashwithnaro/pushbot/pkg/metrics"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Config holds Kafka settings shared by publisher and subscriber
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Publisher sends trophy change notifications.
type Publisher interface {
	Publish(ctx context.Context, c TrophyChange) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes notifications keyed by player tag, so the changes
// of one player land on one partition in order.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a new KafkaPublisher instance
func NewKafkaPublisher(cfg Config) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Publish writes one notification and waits for the broker's acknowledgement.
func (p *KafkaPublisher) Publish(ctx context.Context, c TrophyChange) error {
	value, err := Encode(c)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(c.Player.Tag),
		Value: value,
	})
}

// Close gracefully shuts down the publisher
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Subscriber delivers notifications to a handler until unsubscribed.
type Subscriber interface {
	Subscribe(ctx context.Context, h Handler) (*Subscription, error)
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSubscriber consumes notifications from a consumer group. Offsets are
// committed only through the delivery's Ack.
type KafkaSubscriber struct {
	reader messageReader
	logger *logger.Logger

	mu     sync.Mutex
	active bool
}

// NewKafkaSubscriber creates a new KafkaSubscriber instance
func NewKafkaSubscriber(cfg Config, l *logger.Logger) *KafkaSubscriber {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &KafkaSubscriber{reader: reader, logger: l}
}

// Subscription is the handle of a running subscription.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// NewSubscription runs loop in the background until it returns or the
// subscription is cancelled.
func NewSubscription(ctx context.Context, loop func(ctx context.Context) error) *Subscription {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		sub.setErr(loop(subCtx))
	}()
	return sub
}

// Unsubscribe stops deliveries and waits for the in-flight handler to return.
func (s *Subscription) Unsubscribe() {
	s.cancel()
	<-s.done
}

// Done is closed once the subscription has stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the subscription, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Subscribe starts delivering notifications to h. A subscriber serves one
// subscription at a time.
func (k *KafkaSubscriber) Subscribe(ctx context.Context, h Handler) (*Subscription, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.active {
		return nil, errors.New("feed: subscriber already has an active subscription")
	}
	k.active = true

	return NewSubscription(ctx, func(ctx context.Context) error {
		defer func() {
			k.mu.Lock()
			k.active = false
			k.mu.Unlock()
		}()
		return k.loop(ctx, h)
	}), nil
}

func (k *KafkaSubscriber) loop(ctx context.Context, h Handler) error {
	for {
		m, err := k.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		msg := m
		ack := func(ctx context.Context) error {
			return k.reader.CommitMessages(ctx, msg)
		}

		change, err := Decode(m.Value)
		if err != nil {
			metrics.FeedNotificationsTotal.WithLabelValues("malformed").Inc()
			k.logger.Error("dropping malformed notification", err, zap.Int64("offset", m.Offset))
			if err := ack(ctx); err != nil && ctx.Err() == nil {
				k.logger.Error("failed to commit malformed notification", err, zap.Int64("offset", m.Offset))
			}
			continue
		}

		if err := h(ctx, Delivery{Change: change, Ack: ack}); err != nil {
			metrics.FeedNotificationsTotal.WithLabelValues("rejected").Inc()
			k.logger.Error("handler rejected notification", err,
				zap.String("notification_id", change.ID.String()),
				zap.String("player_tag", change.Player.Tag))
			continue
		}
		metrics.FeedNotificationsTotal.WithLabelValues("accepted").Inc()
	}
}

// Close gracefully shuts down the consumer
func (k *KafkaSubscriber) Close() error {
	return k.reader.Close()
}
