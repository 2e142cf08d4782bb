// Package signal carries the post-commit stock-changed notification to
// interested parties such as storefront sessions holding a stale catalog.
package signal

import (
	"context"
	"errors"
	"time"
)

// StockLevel is the stock of one product as committed.
type StockLevel struct {
	ProductID string
	Stock     int
}

// StockChanged is emitted once for every committed order. It is never emitted
// for rejected or replayed requests.
type StockChanged struct {
	OrderID    string
	Levels     []StockLevel
	OccurredAt time.Time
}

// Notifier publishes stock-changed events. Delivery is best effort: the order
// is already committed when Notify is called.
type Notifier interface {
	Notify(ctx context.Context, ev StockChanged) error
}

// Nop discards every event.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, StockChanged) error { return nil }

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, ev StockChanged) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
