// Package memory implements the catalog and order stores in process memory.
//
// Transactions are optimistic: reads record the version of every product
// they observe and the commit fails with order.ErrConflict if any of them
// changed in the meantime. The result is serializable, matching the
// guarantees of the Postgres store.
package memory

import (
	"context"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/planthub/internal/domain/order"
	"github.com/xenking/planthub/internal/domain/product"
)

var (
	_ product.Repository = (*Store)(nil)
	_ order.Store        = (*Store)(nil)
	_ order.Tx           = (*tx)(nil)
)

type entry struct {
	product product.Product
	version uint64
}

// Option configures a Store.
type Option func(*Store)

// WithBeforeCommit installs a hook called after a transaction callback
// succeeds and before its writes are validated and applied. Tests use it to
// interleave a competing transaction at the worst possible moment.
func WithBeforeCommit(fn func(ctx context.Context)) Option {
	return func(s *Store) { s.beforeCommit = fn }
}

// Store is an in-memory product catalog and order store.
type Store struct {
	mu       sync.RWMutex
	products map[string]*entry
	ids      []string
	orders   map[string]*order.Order
	byKey    map[string]string

	beforeCommit func(ctx context.Context)
}

// New creates a Store holding a copy of products.
func New(products []product.Product, opts ...Option) *Store {
	s := &Store{
		products: make(map[string]*entry, len(products)),
		orders:   make(map[string]*order.Order),
		byKey:    make(map[string]string),
	}
	for _, o := range opts {
		o(s)
	}
	for _, p := range products {
		if _, ok := s.products[p.ID]; !ok {
			s.ids = append(s.ids, p.ID)
		}
		s.products[p.ID] = &entry{product: p}
	}
	return s
}

// List returns every product in seed order.
func (s *Store) List(_ context.Context) ([]product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]product.Product, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.products[id].product)
	}
	return out, nil
}

// GetByID returns a product or product.ErrNotFound.
func (s *Store) GetByID(_ context.Context, id string) (*product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	p := e.product
	return &p, nil
}

// GetOrder returns an order or order.ErrNotFound.
func (s *Store) GetOrder(_ context.Context, id string) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

// Orders returns the number of committed orders.
func (s *Store) Orders() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// RunInTx runs fn in an optimistic transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "begin")
	}

	t := &tx{
		store: s,
		reads: make(map[string]uint64),
		decr:  make(map[string]int),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if s.beforeCommit != nil {
		s.beforeCommit(ctx)
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return s.commit(t)
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, version := range t.reads {
		e, ok := s.products[id]
		if ok && e.version != version {
			return order.ErrConflict
		}
	}
	for _, key := range t.keyReads {
		if _, ok := s.byKey[key]; ok {
			return order.ErrConflict
		}
	}
	for _, o := range t.created {
		if _, ok := s.orders[o.ID]; ok {
			return errors.Errorf("duplicate order id %s", o.ID)
		}
		if o.IdempotencyKey != "" {
			if _, ok := s.byKey[o.IdempotencyKey]; ok {
				return order.ErrConflict
			}
		}
	}
	for id, qty := range t.decr {
		if s.products[id].product.Stock < qty {
			return order.ErrConflict
		}
	}

	for id, qty := range t.decr {
		e := s.products[id]
		e.product.Stock -= qty
		e.version++
	}
	for _, o := range t.created {
		s.orders[o.ID] = cloneOrder(o)
		if o.IdempotencyKey != "" {
			s.byKey[o.IdempotencyKey] = o.ID
		}
	}
	return nil
}

type tx struct {
	store    *Store
	reads    map[string]uint64
	keyReads []string
	decr     map[string]int
	created  []*order.Order
}

func (t *tx) Products(_ context.Context, ids []string) (map[string]product.Product, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	out := make(map[string]product.Product, len(ids))
	for _, id := range ids {
		e, ok := t.store.products[id]
		if !ok {
			continue
		}
		if v, seen := t.reads[id]; seen && v != e.version {
			// Snapshot is gone; the commit would fail anyway.
			return nil, order.ErrConflict
		}
		t.reads[id] = e.version
		p := e.product
		p.Stock -= t.decr[id]
		out[id] = p
	}
	return out, nil
}

func (t *tx) OrderByIdempotencyKey(_ context.Context, key string) (*order.Order, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	id, ok := t.store.byKey[key]
	if !ok {
		t.keyReads = append(t.keyReads, key)
		return nil, order.ErrNotFound
	}
	return cloneOrder(t.store.orders[id]), nil
}

func (t *tx) DecrementStock(_ context.Context, productID string, qty int) error {
	if qty <= 0 {
		return errors.Errorf("invalid decrement %d", qty)
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	e, ok := t.store.products[productID]
	if !ok {
		return product.ErrNotFound
	}
	if _, seen := t.reads[productID]; !seen {
		t.reads[productID] = e.version
	}
	if e.product.Stock-t.decr[productID] < qty {
		return order.ErrConflict
	}
	t.decr[productID] += qty
	return nil
}

func (t *tx) CreateOrder(_ context.Context, o *order.Order) error {
	t.created = append(t.created, o)
	return nil
}

func cloneOrder(o *order.Order) *order.Order {
	c := *o
	c.Lines = append([]order.LineSnapshot(nil), o.Lines...)
	if o.UserID != nil {
		uid := *o.UserID
		c.UserID = &uid
	}
	return &c
}
