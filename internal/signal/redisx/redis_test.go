package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/planthub/internal/signal"
)

type fakeClient struct {
	channel string
	payload []byte
	err     error
}

func (c *fakeClient) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	c.channel = channel
	c.payload, _ = message.([]byte)
	return redis.NewIntResult(1, c.err)
}

func (c *fakeClient) Subscribe(context.Context, ...string) *redis.PubSub {
	panic("not used")
}

func TestPublisher_Notify(t *testing.T) {
	c := &fakeClient{}
	p := NewPublisher(c, "")

	ev := signal.StockChanged{
		OrderID:    "order-1",
		OccurredAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Levels:     []signal.StockLevel{{ProductID: "bonsai", Stock: 5}},
	}
	require.NoError(t, p.Notify(context.Background(), ev))

	assert.Equal(t, DefaultChannel, c.channel)
	got, err := signal.Decode(c.payload)
	require.NoError(t, err)
	assert.Equal(t, ev.Levels, got.Levels)
}

func TestPublisher_NotifyError(t *testing.T) {
	c := &fakeClient{err: errors.New("connection refused")}
	p := NewPublisher(c, "custom")

	err := p.Notify(context.Background(), signal.StockChanged{OrderID: "o"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis publish")
	assert.Equal(t, "custom", c.channel)
}
