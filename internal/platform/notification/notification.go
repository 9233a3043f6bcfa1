// Package notification fans consultation signals out to their consumers: the
// log, Redis subscribers and the WebSocket hub.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicqueue/internal/domain/queue"
)

// Notifier receives one signal. It mirrors engine.Notifier.
type Notifier interface {
	Notify(ctx context.Context, s queue.Signal) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, s queue.Signal) error

func (f NotifierFunc) Notify(ctx context.Context, s queue.Signal) error { return f(ctx, s) }

// Fanout delivers every signal to all of its notifiers. A failing notifier
// does not stop delivery to the others.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, s queue.Signal) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes each signal as a structured log line.
type Log struct {
	logger zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "notification").Logger()}
}

func (l *Log) Notify(_ context.Context, s queue.Signal) error {
	msg := "consultation completed"
	if s.Kind == queue.SignalConsultationStarted {
		msg = "consultation started"
	}
	l.logger.Info().
		Str("kind", string(s.Kind)).
		Uint64("cycle", s.Cycle).
		Int("previous", s.Previous).
		Int("current", s.Current).
		Msg(msg)
	return nil
}

// Publisher is the subset of a Redis client used to publish signals.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes signals as JSON to a Redis channel so other
// services (ward displays, pagers) can subscribe.
type RedisPublisher struct {
	client  Publisher
	channel string
	logger  zerolog.Logger
}

func NewRedisPublisher(client Publisher, channel string, logger zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		channel: channel,
		logger:  logger.With().Str("component", "redis_publisher").Logger(),
	}
}

func (p *RedisPublisher) Notify(ctx context.Context, s queue.Signal) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}
	receivers, err := p.client.Publish(ctx, p.channel, string(payload)).Result()
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", s.Kind, p.channel, err)
	}
	p.logger.Debug().Str("kind", string(s.Kind)).Int64("receivers", receivers).Msg("signal published")
	return nil
}

// NewRedisClient parses a redis:// or rediss:// URL and checks the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
