// Package broadcast pushes sync events to live subscribers. Delivery
// is best effort: a failed publish is logged and dropped, never
// retried, and never blocks the sync engine.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/model"
)

// channelPrefix namespaces the pub/sub channels so one Redis instance
// can serve multiple deployments.
const channelPrefix = "mailsync:events:"

// Publisher fan-outs events to live listeners.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
	Close() error
}

// payload is the wire form of an event. The error is flattened to its
// text since the concrete error type does not survive serialization.
type payload struct {
	Kind      model.EventKind `json:"kind"`
	AccountID string          `json:"accountId"`
	Time      string          `json:"time"`
	Messages  []model.Message `json:"messages,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// RedisPublisher publishes each event as JSON to the channel named
// after its kind.
type RedisPublisher struct {
	client *redis.Client
	log    *logrus.Logger
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(
	ctx context.Context,
	cfg model.RedisConfig,
	log *logrus.Logger,
) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return &RedisPublisher{client: client, log: log}, nil
}

// Publish sends the event to the channel for its kind. Subscribers may
// come and go; publishing to zero subscribers is fine.
func (p *RedisPublisher) Publish(ctx context.Context, ev model.Event) error {
	body, err := json.Marshal(payload{
		Kind:      ev.Kind,
		AccountID: ev.AccountID,
		Time:      ev.Time.UTC().Format(time.RFC3339),
		Messages:  ev.Messages,
		Error:     ev.ErrorText(),
	})
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", ev.Kind, err)
	}

	channel := channelPrefix + string(ev.Kind)
	if err := p.client.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}

	p.log.WithFields(logrus.Fields{
		"channel": channel,
		"account": ev.AccountID,
	}).Debug("event published")
	return nil
}

// Close releases the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// NopPublisher discards every event. Used when no Redis address is
// configured.
type NopPublisher struct{}

var _ Publisher = NopPublisher{}

func (NopPublisher) Publish(context.Context, model.Event) error { return nil }
func (NopPublisher) Close() error                               { return nil }
