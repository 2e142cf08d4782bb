// Package kafka publishes stock-changed events to a Kafka topic.
package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/planthub/internal/signal"
)

// ErrBufferFull is returned by Notify when the producer cannot keep up.
var ErrBufferFull = errors.New("kafka: producer buffer full")

// ErrClosed is returned by Notify after Close.
var ErrClosed = errors.New("kafka: producer closed")

var _ signal.Notifier = (*Producer)(nil)

// MessageWriter is the subset of *kafka.Writer used by Producer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter returns a writer for topic that hashes messages by key, so all
// events of one order land on the same partition.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// Producer buffers events and writes them from a single goroutine so that
// Notify never blocks the order path.
type Producer struct {
	w     MessageWriter
	lg    *zap.Logger
	inbox chan kafka.Message
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewProducer creates a Producer with room for buf pending messages.
func NewProducer(w MessageWriter, buf int, lg *zap.Logger) *Producer {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Producer{
		w:     w,
		lg:    lg,
		inbox: make(chan kafka.Message, buf),
		done:  make(chan struct{}),
	}
}

// Run writes buffered messages until Close is called, then flushes what is
// left and closes the writer. ctx bounds each individual write.
func (p *Producer) Run(ctx context.Context) error {
	defer close(p.done)

	for m := range p.inbox {
		p.write(ctx, m)
	}
	return errors.Wrap(p.w.Close(), "close writer")
}

func (p *Producer) write(ctx context.Context, m kafka.Message) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := p.w.WriteMessages(wctx, m); err != nil {
		p.lg.Warn("Write stock change",
			zap.ByteString("key", m.Key),
			zap.Error(err),
		)
	}
}

// Notify enqueues ev. It fails fast when the buffer is full.
func (p *Producer) Notify(_ context.Context, ev signal.StockChanged) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}
	m := kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: signal.Encode(ev),
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte("stock.changed")},
		},
	}
	select {
	case p.inbox <- m:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close stops accepting events. Run flushes the buffer and returns.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.inbox)
}

// WaitClosed blocks until Run has flushed and returned.
func (p *Producer) WaitClosed() {
	<-p.done
}
