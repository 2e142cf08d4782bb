// Package storefront is the shopper side of PlantHub: a persisted basket,
// the last catalog the shopper saw, and checkout against the order API.
package storefront

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/planthub/internal/domain/basket"
	"github.com/xenking/planthub/internal/domain/order"
	"github.com/xenking/planthub/internal/domain/product"
	"github.com/xenking/planthub/internal/wire"
)

var (
	// ErrCheckoutInFlight is returned when Checkout is called while another
	// checkout on the same storefront has not finished.
	ErrCheckoutInFlight = errors.New("checkout already in progress")
	// ErrEmptyBasket is returned by Checkout for an empty basket.
	ErrEmptyBasket = errors.New("basket is empty")
	// ErrUnknownProduct is returned when adding a product that is not in
	// the last fetched catalog.
	ErrUnknownProduct = errors.New("product is not in the catalog")
)

// ShortfallError is returned by Checkout, before anything is submitted, when
// the last fetched catalog already shows some lines cannot be fulfilled.
type ShortfallError struct {
	Shortfalls []basket.Shortfall
}

func (e *ShortfallError) Error() string {
	parts := make([]string, len(e.Shortfalls))
	for i, s := range e.Shortfalls {
		if s.Missing {
			parts[i] = fmt.Sprintf("%s is no longer sold", s.ProductID)
			continue
		}
		parts[i] = fmt.Sprintf("%s: requested %d, available %d", s.ProductID, s.Requested, s.Available)
	}
	return "basket exceeds known stock: " + strings.Join(parts, "; ")
}

// API is the part of the order API used by a Storefront. *Client
// implements it.
type API interface {
	Products(ctx context.Context) ([]product.Product, error)
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (wire.OrderPlaced, error)
}

var _ API = (*Client)(nil)

// Option configures a Storefront.
type Option func(*Storefront)

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) Option {
	return func(s *Storefront) { s.lg = lg }
}

// WithKeyGenerator overrides the idempotency key generator.
func WithKeyGenerator(gen func() string) Option {
	return func(s *Storefront) { s.newKey = gen }
}

// Receipt describes a successful checkout.
type Receipt struct {
	OrderID string
	// Replayed is true when the server had already committed this checkout.
	Replayed bool
	// Subtotal is the basket subtotal at submission, priced with the
	// catalog the shopper saw.
	Subtotal decimal.Decimal
}

// Storefront binds a basket to the catalog and the order API.
type Storefront struct {
	api    API
	basket *basket.Basket
	lg     *zap.Logger
	newKey func() string

	mu      sync.RWMutex
	catalog basket.Catalog

	inFlight atomic.Bool
}

// New creates a Storefront. Call Refresh before adding items.
func New(api API, b *basket.Basket, opts ...Option) *Storefront {
	s := &Storefront{
		api:     api,
		basket:  b,
		lg:      zap.NewNop(),
		newKey:  uuid.NewString,
		catalog: basket.Catalog{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Basket returns the underlying basket.
func (s *Storefront) Basket() *basket.Basket {
	return s.basket
}

// Refresh re-reads the catalog from the API.
func (s *Storefront) Refresh(ctx context.Context) error {
	products, err := s.api.Products(ctx)
	if err != nil {
		return errors.Wrap(err, "refresh catalog")
	}
	s.mu.Lock()
	s.catalog = basket.NewCatalog(products)
	s.mu.Unlock()
	return nil
}

// Catalog returns the last fetched catalog.
func (s *Storefront) Catalog() basket.Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

func (s *Storefront) knownStock(productID string) (int, error) {
	p, ok := s.Catalog()[productID]
	if !ok {
		return 0, errors.Wrap(ErrUnknownProduct, productID)
	}
	return p.Stock, nil
}

// Add adds qty units of productID, clamped to the stock last seen. It
// returns the resulting basket quantity.
func (s *Storefront) Add(productID string, qty int) (int, error) {
	stock, err := s.knownStock(productID)
	if err != nil {
		return 0, err
	}
	return s.basket.AddItem(productID, qty, stock), nil
}

// Update sets the quantity of a basket line, clamped to [1, stock].
func (s *Storefront) Update(productID string, qty int) (int, error) {
	stock, err := s.knownStock(productID)
	if err != nil {
		return 0, err
	}
	return s.basket.UpdateQuantity(productID, qty, stock), nil
}

// Remove drops a basket line.
func (s *Storefront) Remove(productID string) {
	s.basket.RemoveItem(productID)
}

// Subtotal prices the basket with the last fetched catalog.
func (s *Storefront) Subtotal() (decimal.Decimal, []string) {
	return s.basket.Subtotal(s.Catalog())
}

// Checkout submits the basket as one order.
//
// Only one checkout runs at a time; a concurrent call fails with
// ErrCheckoutInFlight. The idempotency key comes from the basket and stays
// the same until its items change, so checking out again after a timeout or
// a lost response replays the order the server may already have committed
// instead of placing a second one. On success the basket is cleared, which
// discards the key, and the catalog re-read. On any rejection the basket is left as it was; an
// insufficient-stock rejection also re-reads the catalog so the shopper sees
// the current stock.
func (s *Storefront) Checkout(ctx context.Context, customer order.CustomerDetails, userID *string) (*Receipt, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrCheckoutInFlight
	}
	defer s.inFlight.Store(false)

	items := s.basket.Items()
	if len(items) == 0 {
		return nil, ErrEmptyBasket
	}
	catalog := s.Catalog()
	if short := s.basket.Shortfalls(catalog); len(short) > 0 {
		return nil, &ShortfallError{Shortfalls: short}
	}
	subtotal, _ := s.basket.Subtotal(catalog)

	req := order.PlaceOrderRequest{
		Items:          make([]order.Item, len(items)),
		Customer:       &customer,
		UserID:         userID,
		IdempotencyKey: s.basket.CheckoutKey(s.newKey),
	}
	for i, it := range items {
		req.Items[i] = order.Item{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	placed, err := s.api.PlaceOrder(ctx, req)
	if err != nil {
		var insufficient *order.InsufficientStockError
		if errors.As(err, &insufficient) {
			s.refreshQuietly(ctx)
		}
		return nil, err
	}

	s.basket.Clear()
	s.refreshQuietly(ctx)
	s.lg.Info("Order submitted",
		zap.String("order_id", placed.OrderID),
		zap.Bool("replayed", placed.Replayed),
	)
	return &Receipt{OrderID: placed.OrderID, Replayed: placed.Replayed, Subtotal: subtotal}, nil
}

func (s *Storefront) refreshQuietly(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil {
		s.lg.Warn("Refresh catalog after checkout", zap.Error(err))
	}
}
