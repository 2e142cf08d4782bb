// Package redisx publishes stock-changed events on a Redis pub/sub channel.
package redisx

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/planthub/internal/signal"
)

// DefaultChannel is the channel used when none is configured.
const DefaultChannel = "planthub:stock-changed"

var _ signal.Notifier = (*Publisher)(nil)

// NewClient returns a client for addr.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// PubSubClient is the subset of *redis.Client used here.
type PubSubClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// Publisher sends events with PUBLISH.
type Publisher struct {
	rdb     PubSubClient
	channel string
}

// NewPublisher creates a Publisher on channel.
func NewPublisher(rdb PubSubClient, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{rdb: rdb, channel: channel}
}

// Notify implements signal.Notifier.
func (p *Publisher) Notify(ctx context.Context, ev signal.StockChanged) error {
	if err := p.rdb.Publish(ctx, p.channel, signal.Encode(ev)).Err(); err != nil {
		return errors.Wrap(err, "redis publish")
	}
	return nil
}

// Subscribe calls fn for every event received on channel until ctx is done.
// Undecodable messages are logged and skipped.
func Subscribe(ctx context.Context, rdb PubSubClient, channel string, lg *zap.Logger, fn func(signal.StockChanged)) error {
	if channel == "" {
		channel = DefaultChannel
	}
	ps := rdb.Subscribe(ctx, channel)
	defer func() { _ = ps.Close() }()

	// Wait for the subscription to be confirmed.
	if _, err := ps.Receive(ctx); err != nil {
		return errors.Wrap(err, "subscribe")
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := signal.Decode([]byte(msg.Payload))
			if err != nil {
				lg.Warn("Skip malformed stock change", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			fn(ev)
		}
	}
}
