// Package basket implements the shopper's client-held basket.
//
// The basket is untrusted: it clamps quantities against the last stock the
// shopper saw so the UI never offers more than was available, but the order
// commit service re-validates every line against current stock.
package basket

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/planthub/internal/domain/product"
)

// Item is one basket line. Quantity is always positive.
type Item struct {
	ProductID string
	Quantity  int
}

// Persister stores the encoded basket. Save is called after every change.
type Persister interface {
	Save(data []byte) error
}

// Option configures a Basket.
type Option func(*Basket)

// WithPersister sets where the basket is written after each change.
func WithPersister(p Persister) Option {
	return func(b *Basket) { b.persister = p }
}

// WithLogger sets the logger used to report persistence failures.
func WithLogger(lg *zap.Logger) Option {
	return func(b *Basket) { b.lg = lg }
}

// Basket is an insertion-ordered set of items keyed by product id.
// It is safe for concurrent use.
type Basket struct {
	mu    sync.Mutex
	items []Item
	index map[string]int

	// checkoutKey identifies the checkout pending for the current items.
	// Any change to the items discards it.
	checkoutKey string

	persister Persister
	lg        *zap.Logger
}

// New creates an empty basket.
func New(opts ...Option) *Basket {
	b := &Basket{
		index: make(map[string]int),
		lg:    zap.NewNop(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// AddItem adds requestedQty units of productID, capped at knownStock.
// A present item grows by requestedQty; an absent one is inserted at the end.
// It returns the resulting quantity, zero if the product is not in the basket
// afterwards. Non-positive requests are ignored and a non-positive knownStock
// removes the product.
func (b *Basket) AddItem(productID string, requestedQty, knownStock int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	i, ok := b.index[productID]
	switch {
	case requestedQty <= 0:
		if !ok {
			return 0
		}
		return b.items[i].Quantity
	case knownStock <= 0:
		if ok {
			b.remove(productID)
			b.changed()
		}
		return 0
	case ok:
		cur := b.items[i].Quantity
		qty := cur + requestedQty
		if qty > knownStock || qty < cur {
			qty = knownStock
		}
		if qty == cur {
			return cur
		}
		b.items[i].Quantity = qty
		b.changed()
		return qty
	default:
		qty := min(requestedQty, knownStock)
		b.index[productID] = len(b.items)
		b.items = append(b.items, Item{ProductID: productID, Quantity: qty})
		b.changed()
		return qty
	}
}

// UpdateQuantity sets the quantity of a present item to newQty clamped to
// [1, knownStock]. A non-positive knownStock removes the item. Absent items
// are not inserted. It returns the resulting quantity.
func (b *Basket) UpdateQuantity(productID string, newQty, knownStock int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	i, ok := b.index[productID]
	if !ok {
		return 0
	}
	if knownStock <= 0 {
		b.remove(productID)
		b.changed()
		return 0
	}

	qty := max(1, min(newQty, knownStock))
	if b.items[i].Quantity != qty {
		b.items[i].Quantity = qty
		b.changed()
	}
	return qty
}

// RemoveItem deletes productID. Removing an absent product is a no-op.
func (b *Basket) RemoveItem(productID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.remove(productID) {
		b.changed()
	}
}

// Clear empties the basket.
func (b *Basket) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = nil
	b.index = make(map[string]int)
	b.changed()
}

// Items returns a copy of the basket lines in insertion order.
func (b *Basket) Items() []Item {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]Item(nil), b.items...)
}

// Quantity returns the quantity of productID, zero if absent.
func (b *Basket) Quantity(productID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if i, ok := b.index[productID]; ok {
		return b.items[i].Quantity
	}
	return 0
}

// Len returns the number of distinct products.
func (b *Basket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Hydrate replaces the basket contents with the persisted blob. Entries with
// a missing or non-string product id, or a non-positive or non-integer
// quantity, are dropped, as are repeats of a product already loaded. On a
// malformed blob the basket is left empty and the error is returned.
// Hydrate does not write back to the persister.
func (b *Basket) Hydrate(data []byte) error {
	state, err := Decode(data)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = nil
	b.index = make(map[string]int)
	b.checkoutKey = ""
	if err != nil {
		return err
	}
	b.checkoutKey = state.CheckoutKey
	for _, it := range state.Items {
		b.index[it.ProductID] = len(b.items)
		b.items = append(b.items, it)
	}
	return nil
}

// Marshal returns the persisted form of the basket.
func (b *Basket) Marshal() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Encode(State{Items: b.items, CheckoutKey: b.checkoutKey})
}

// CheckoutKey returns the idempotency key of the checkout pending for the
// current items. The first call after a change takes a key from newKey and
// persists it, so every retry of the same basket, even from another
// process, submits the same key.
func (b *Basket) CheckoutKey(newKey func() string) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.checkoutKey == "" {
		b.checkoutKey = newKey()
		b.persist()
	}
	return b.checkoutKey
}

// Catalog is a product lookup by id, typically the last catalog the shopper
// fetched.
type Catalog map[string]product.Product

// NewCatalog indexes products by id.
func NewCatalog(products []product.Product) Catalog {
	c := make(Catalog, len(products))
	for _, p := range products {
		c[p.ID] = p
	}
	return c
}

// Subtotal returns the sum of quantity * price over items present in
// catalog. Items whose product is missing contribute nothing and are
// returned separately.
func (b *Basket) Subtotal(catalog Catalog) (total decimal.Decimal, missing []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	total = decimal.Zero
	for _, it := range b.items {
		p, ok := catalog[it.ProductID]
		if !ok {
			missing = append(missing, it.ProductID)
			continue
		}
		total = total.Add(p.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total, missing
}

// Shortfall is a basket line the catalog already shows cannot be fulfilled.
type Shortfall struct {
	ProductID string
	Requested int
	Available int
	// Missing is set when the product is no longer in the catalog.
	Missing bool
}

// Shortfalls returns the lines whose quantity exceeds the stock in catalog.
// Submitting a basket with shortfalls is certain to be rejected.
func (b *Basket) Shortfalls(catalog Catalog) []Shortfall {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Shortfall
	for _, it := range b.items {
		p, ok := catalog[it.ProductID]
		switch {
		case !ok:
			out = append(out, Shortfall{ProductID: it.ProductID, Requested: it.Quantity, Missing: true})
		case it.Quantity > p.Stock:
			out = append(out, Shortfall{ProductID: it.ProductID, Requested: it.Quantity, Available: p.Stock})
		}
	}
	return out
}

func (b *Basket) remove(productID string) bool {
	i, ok := b.index[productID]
	if !ok {
		return false
	}
	b.items = append(b.items[:i], b.items[i+1:]...)
	delete(b.index, productID)
	for j := i; j < len(b.items); j++ {
		b.index[b.items[j].ProductID] = j
	}
	return true
}

// changed discards the pending checkout key and writes the basket.
func (b *Basket) changed() {
	b.checkoutKey = ""
	b.persist()
}

// persist writes the basket. Failures are logged and never surfaced: the
// in-memory basket stays authoritative for the session.
func (b *Basket) persist() {
	if b.persister == nil {
		return
	}
	if err := b.persister.Save(Encode(State{Items: b.items, CheckoutKey: b.checkoutKey})); err != nil {
		b.lg.Warn("Persist basket", zap.Int("items", len(b.items)), zap.Error(err))
	}
}
