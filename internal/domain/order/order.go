package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/planthub/internal/domain/product"
)

// Status is the lifecycle state of an order. Orders are created pending;
// downstream fulfilment moves them to fulfilled or cancelled.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFulfilled Status = "fulfilled"
	StatusCancelled Status = "cancelled"
)

// DeliveryMethod is how the shopper wants the plants delivered.
type DeliveryMethod string

const (
	DeliveryPickup  DeliveryMethod = "pickup"
	DeliveryEMS     DeliveryMethod = "ems"
	DeliveryCourier DeliveryMethod = "courier"
	DeliverySameDay DeliveryMethod = "same-day"
)

// Valid reports whether m is a known delivery method.
func (m DeliveryMethod) Valid() bool {
	switch m {
	case DeliveryPickup, DeliveryEMS, DeliveryCourier, DeliverySameDay:
		return true
	}
	return false
}

// PaymentMethod is the payment method claimed by the shopper. No payment is
// processed; the value is only recorded on the order.
type PaymentMethod string

const (
	PaymentBank      PaymentMethod = "bank"
	PaymentPromptPay PaymentMethod = "promptpay"
	PaymentCash      PaymentMethod = "cash"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentBank, PaymentPromptPay, PaymentCash:
		return true
	}
	return false
}

// CustomerDetails holds the delivery contact recorded on an order.
type CustomerDetails struct {
	FirstName      string         `json:"firstName"`
	LastName       string         `json:"lastName"`
	Address        string         `json:"address"`
	Phone          string         `json:"phone"`
	DeliveryMethod DeliveryMethod `json:"deliveryMethod"`
	PaymentMethod  PaymentMethod  `json:"paymentMethod"`
	PickupLocation string         `json:"pickupLocation,omitempty"`
}

// Line is a requested (product, quantity) pair.
type Line struct {
	ProductID string
	Quantity  int
}

// LineSnapshot is a line item frozen at commit time. The name and unit price
// are copied from the product as read inside the commit transaction, so later
// catalog edits never change a historical order.
type LineSnapshot struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

// Total returns quantity * unit price.
func (l LineSnapshot) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order is an immutable record of a successful commit. Only Status may change
// after creation.
type Order struct {
	ID             string
	Lines          []LineSnapshot
	Customer       CustomerDetails
	Status         Status
	UserID         *string
	IdempotencyKey string
	CreatedAt      time.Time
}

// Total returns the sum of all line totals.
func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		total = total.Add(l.Total())
	}
	return total
}

// Tx is the view of the backing store available inside a commit transaction.
// Every read observes the transaction's snapshot and every write becomes
// visible only if the transaction commits.
type Tx interface {
	// Products returns the current state of the given products. Ids that do
	// not exist are absent from the returned map.
	Products(ctx context.Context, ids []string) (map[string]product.Product, error)
	// OrderByIdempotencyKey returns the order created earlier with key, or
	// ErrNotFound.
	OrderByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	// DecrementStock reduces the stock of productID by qty.
	DecrementStock(ctx context.Context, productID string, qty int) error
	// CreateOrder inserts a new order.
	CreateOrder(ctx context.Context, o *Order) error
}

// Store is the transactional backing store for orders and product stock.
//
// RunInTx executes fn in a single atomic transaction. If fn returns an error
// nothing is persisted and the error is returned as is. Stores report a lost
// serialization race as ErrConflict and an unreachable backend as
// ErrUnavailable; both are safe to retry from the start.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetOrder(ctx context.Context, id string) (*Order, error)
}
