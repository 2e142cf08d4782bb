package order

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/planthub/internal/signal"
)

const instrumentationName = "github.com/xenking/planthub/internal/domain/order"

const maxIdempotencyKeyLen = 128

// MaxQuantity is the largest quantity of one product an order may carry,
// after duplicate lines are merged. Stock is stored as a 32-bit integer.
const MaxQuantity = math.MaxInt32

// Item is one requested line of a PlaceOrderRequest.
type Item struct {
	ProductID string
	Quantity  int
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	Items    []Item
	Customer *CustomerDetails
	UserID   *string
	// IdempotencyKey, when set, makes repeated submissions of the same
	// checkout return the order created by the first one.
	IdempotencyKey string
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order *Order
	// Replayed is true when the order was created by an earlier request with
	// the same idempotency key. No stock was decremented by this call.
	Replayed bool
	// Attempts is the number of transactions run, including the final one.
	Attempts int

	levels []signal.StockLevel
}

// Config bounds the commit retry loop.
type Config struct {
	CommitTimeout  time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		CommitTimeout:  5 * time.Second,
		MaxAttempts:    5,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     200 * time.Millisecond,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = d.CommitTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = max(d.MaxBackoff, c.InitialBackoff)
	}
}

// Option configures a Service.
type Option func(*Service)

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider. Defaults to the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// WithNotifier sets the receiver of post-commit stock-changed events.
func WithNotifier(n signal.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides the clock used for order timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides the order id generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

type metrics struct {
	attempts  metric.Int64Counter
	conflicts metric.Int64Counter
	rejected  metric.Int64Counter
	placed    metric.Int64Counter
}

func newMetrics(m metric.Meter) (*metrics, error) {
	var (
		out metrics
		err error
	)
	if out.attempts, err = m.Int64Counter("planthub.order.commit.attempts",
		metric.WithDescription("Commit transactions started"),
	); err != nil {
		return nil, errors.Wrap(err, "attempts counter")
	}
	if out.conflicts, err = m.Int64Counter("planthub.order.commit.conflicts",
		metric.WithDescription("Commit transactions aborted by a write conflict"),
	); err != nil {
		return nil, errors.Wrap(err, "conflicts counter")
	}
	if out.rejected, err = m.Int64Counter("planthub.order.rejected",
		metric.WithDescription("Order requests rejected, by reason"),
	); err != nil {
		return nil, errors.Wrap(err, "rejected counter")
	}
	if out.placed, err = m.Int64Counter("planthub.order.placed",
		metric.WithDescription("Orders committed"),
	); err != nil {
		return nil, errors.Wrap(err, "placed counter")
	}
	return &out, nil
}

// Service is the authoritative order commit service. It is safe for
// concurrent use; concurrent calls share nothing but the Store.
type Service struct {
	store    Store
	cfg      Config
	notifier signal.Notifier
	now      func() time.Time
	newID    func() string

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer
	metrics        *metrics
}

// NewService creates an order Service backed by store.
func NewService(store Store, cfg Config, opts ...Option) (*Service, error) {
	cfg.setDefaults()
	s := &Service{
		store:    store,
		cfg:      cfg,
		notifier: signal.Nop{},
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	if s.tracerProvider == nil {
		s.tracerProvider = otel.GetTracerProvider()
	}
	if s.meterProvider == nil {
		s.meterProvider = otel.GetMeterProvider()
	}
	s.tracer = s.tracerProvider.Tracer(instrumentationName)
	m, err := newMetrics(s.meterProvider.Meter(instrumentationName))
	if err != nil {
		return nil, errors.Wrap(err, "metrics")
	}
	s.metrics = m
	return s, nil
}

// GetOrder returns a committed order by id.
func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	return s.store.GetOrder(ctx, id)
}

// PlaceOrder validates the request and commits it.
//
// The commit reads, validates and decrements every line in one transaction.
// Write conflicts and store unavailability are retried from the start with
// bounded exponential backoff; ProductNotFoundError and InsufficientStockError
// are returned as is. The commit is detached from ctx cancellation and bounded
// by Config.CommitTimeout instead, so an abandoned request still reaches a
// clean terminal state.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder")
	defer span.End()

	lines, err := req.validate()
	if err != nil {
		s.reject(ctx, span, "validation", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("order.lines", len(lines)))

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CommitTimeout)
	defer cancel()

	var (
		result   *PlaceOrderResult
		attempts int
	)
	op := func() error {
		attempts++
		s.metrics.attempts.Add(commitCtx, 1)
		res, err := s.commit(commitCtx, req, lines)
		if err != nil {
			if errors.Is(err, ErrConflict) {
				s.metrics.conflicts.Add(commitCtx, 1)
			}
			if retryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = res
		return nil
	}
	notify := func(err error, next time.Duration) {
		zctx.From(ctx).Debug("Retrying order commit",
			zap.Int("attempt", attempts),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	}
	if err := backoff.RetryNotify(op, s.backOff(commitCtx), notify); err != nil {
		err = s.commitError(err, attempts)
		s.reject(ctx, span, rejectReason(err), err)
		return nil, err
	}

	result.Attempts = attempts
	span.SetAttributes(
		attribute.String("order.id", result.Order.ID),
		attribute.Bool("order.replayed", result.Replayed),
		attribute.Int("order.attempts", attempts),
	)
	if !result.Replayed {
		s.metrics.placed.Add(ctx, 1)
		s.publish(commitCtx, result)
	}
	return result, nil
}

func (s *Service) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	b.MaxInterval = s.cfg.MaxBackoff
	// The commit timeout bounds the total time.
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.MaxAttempts-1)), ctx)
}

func (s *Service) commit(ctx context.Context, req PlaceOrderRequest, lines []Line) (*PlaceOrderResult, error) {
	var result *PlaceOrderResult
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		result = nil

		if req.IdempotencyKey != "" {
			existing, err := tx.OrderByIdempotencyKey(ctx, req.IdempotencyKey)
			switch {
			case err == nil:
				result = &PlaceOrderResult{Order: existing, Replayed: true}
				return nil
			case !errors.Is(err, ErrNotFound):
				return errors.Wrap(err, "lookup idempotency key")
			}
		}

		ids := make([]string, len(lines))
		for i, l := range lines {
			ids[i] = l.ProductID
		}
		products, err := tx.Products(ctx, ids)
		if err != nil {
			return errors.Wrap(err, "read products")
		}

		snapshots := make([]LineSnapshot, 0, len(lines))
		levels := make([]signal.StockLevel, 0, len(lines))
		for _, l := range lines {
			p, ok := products[l.ProductID]
			if !ok {
				return &ProductNotFoundError{ProductID: l.ProductID}
			}
			if l.Quantity > p.Stock {
				return &InsufficientStockError{
					ProductID:   p.ID,
					ProductName: p.Name,
					Available:   p.Stock,
					Requested:   l.Quantity,
				}
			}
			snapshots = append(snapshots, LineSnapshot{
				ProductID:   p.ID,
				ProductName: p.Name,
				Quantity:    l.Quantity,
				UnitPrice:   p.Price,
			})
			levels = append(levels, signal.StockLevel{ProductID: p.ID, Stock: p.Stock - l.Quantity})
		}

		for _, l := range lines {
			if err := tx.DecrementStock(ctx, l.ProductID, l.Quantity); err != nil {
				return errors.Wrapf(err, "decrement %s", l.ProductID)
			}
		}

		o := &Order{
			ID:             s.newID(),
			Lines:          snapshots,
			Customer:       *req.Customer,
			Status:         StatusPending,
			UserID:         req.UserID,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      s.now().UTC(),
		}
		if err := tx.CreateOrder(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		result = &PlaceOrderResult{Order: o, levels: levels}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// commitError converts the final error of the retry loop into the error
// returned to the caller.
func (s *Service) commitError(err error, attempts int) error {
	var (
		notFound     *ProductNotFoundError
		insufficient *InsufficientStockError
	)
	switch {
	case errors.As(err, &notFound):
		return notFound
	case errors.As(err, &insufficient):
		return insufficient
	case errors.Is(err, ErrUnavailable):
		return fmt.Errorf("%w after %d attempts: %w", ErrUnavailable, attempts, err)
	default:
		return fmt.Errorf("%w after %d attempts: %w", ErrCommitFailed, attempts, err)
	}
}

func (s *Service) reject(ctx context.Context, span trace.Span, reason string, err error) {
	s.metrics.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
}

func rejectReason(err error) string {
	var (
		notFound     *ProductNotFoundError
		insufficient *InsufficientStockError
	)
	switch {
	case errors.As(err, &notFound):
		return "product_not_found"
	case errors.As(err, &insufficient):
		return "insufficient_stock"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "commit_failed"
	}
}

// publish emits the stock-changed signal. The order is committed, so a
// failure is only logged.
func (s *Service) publish(ctx context.Context, res *PlaceOrderResult) {
	ev := signal.StockChanged{
		OrderID:    res.Order.ID,
		Levels:     res.levels,
		OccurredAt: res.Order.CreatedAt,
	}
	if err := s.notifier.Notify(ctx, ev); err != nil {
		zctx.From(ctx).Warn("Publish stock change",
			zap.String("order_id", res.Order.ID),
			zap.Error(err),
		)
	}
}

// validate checks the request shape and returns its lines with repeated
// product ids merged in first-occurrence order.
func (r PlaceOrderRequest) validate() ([]Line, error) {
	if len(r.Items) == 0 {
		return nil, &ValidationError{Field: "items", Message: "No items in order"}
	}
	if err := r.Customer.validate(); err != nil {
		return nil, err
	}
	if len(r.IdempotencyKey) > maxIdempotencyKeyLen {
		return nil, &ValidationError{
			Field:   "idempotencyKey",
			Message: fmt.Sprintf("Idempotency key must be at most %d bytes", maxIdempotencyKeyLen),
		}
	}

	lines := make([]Line, 0, len(r.Items))
	index := make(map[string]int, len(r.Items))
	for _, item := range r.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return nil, &ValidationError{Field: "items.productId", Message: "Product id is required"}
		}
		if item.Quantity <= 0 {
			return nil, &ValidationError{
				Field:   "items.quantity",
				Message: fmt.Sprintf("Quantity must be greater than 0 for product %s", item.ProductID),
			}
		}
		if item.Quantity > MaxQuantity {
			return nil, quantityTooLarge(item.ProductID)
		}
		if i, ok := index[item.ProductID]; ok {
			if lines[i].Quantity > MaxQuantity-item.Quantity {
				return nil, quantityTooLarge(item.ProductID)
			}
			lines[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(lines)
		lines = append(lines, Line{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines, nil
}

func quantityTooLarge(productID string) *ValidationError {
	return &ValidationError{
		Field:   "items.quantity",
		Message: fmt.Sprintf("Quantity must be at most %d for product %s", MaxQuantity, productID),
	}
}

func (c *CustomerDetails) validate() error {
	if c == nil {
		return &ValidationError{Field: "customerDetails", Message: "Customer details are required"}
	}
	required := []struct {
		field string
		value string
	}{
		{"firstName", c.FirstName},
		{"lastName", c.LastName},
		{"address", c.Address},
		{"phone", c.Phone},
		{"deliveryMethod", string(c.DeliveryMethod)},
		{"paymentMethod", string(c.PaymentMethod)},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{
				Field:   "customerDetails." + f.field,
				Message: fmt.Sprintf("Customer details are required: %s is missing", f.field),
			}
		}
	}
	if !c.DeliveryMethod.Valid() {
		return &ValidationError{
			Field:   "customerDetails.deliveryMethod",
			Message: fmt.Sprintf("Unknown delivery method %q", c.DeliveryMethod),
		}
	}
	if !c.PaymentMethod.Valid() {
		return &ValidationError{
			Field:   "customerDetails.paymentMethod",
			Message: fmt.Sprintf("Unknown payment method %q", c.PaymentMethod),
		}
	}
	return nil
}
