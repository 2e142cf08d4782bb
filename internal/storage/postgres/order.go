package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/planthub/internal/domain/order"
	"github.com/xenking/planthub/internal/domain/product"
)

const (
	lockProductsSQL = `SELECT id, name, price, stock FROM products
		WHERE id = ANY($1) ORDER BY id FOR UPDATE`

	decrementStockSQL = `UPDATE products SET stock = stock - $2 WHERE id = $1 AND $2 > 0 AND stock >= $2`

	orderColumns = `id, lines, customer, status, user_id, idempotency_key, created_at`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByKeySQL = `SELECT ` + orderColumns + ` FROM orders WHERE idempotency_key = $1`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
)

var (
	_ order.Store = (*OrderStore)(nil)
	_ order.Tx    = (*orderTx)(nil)
)

// OrderStore implements order.Store backed by PostgreSQL.
//
// Transactions run at SERIALIZABLE isolation and lock the product rows they
// read, so concurrent commits for the same stock either wait for each other
// or abort with a serialization failure, reported as order.ErrConflict.
type OrderStore struct {
	db DB
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(db DB) *OrderStore {
	return &OrderStore{db: db}
}

// RunInTx runs fn in a serializable transaction and commits it if fn
// succeeds.
func (s *OrderStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) (rerr error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return classify(errors.Wrap(err, "begin"))
	}
	defer func() {
		if rerr != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err := fn(ctx, &orderTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(errors.Wrap(err, "commit"))
	}
	return nil
}

// GetOrder returns a committed order by id.
func (s *OrderStore) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	rows, err := s.db.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, classify(errors.Wrapf(err, "get order %q", id))
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, classify(errors.Wrapf(err, "get order %q", id))
	}
	return o, nil
}

type orderTx struct {
	tx pgx.Tx
}

func (t *orderTx) Products(ctx context.Context, ids []string) (map[string]product.Product, error) {
	rows, err := t.tx.Query(ctx, lockProductsSQL, ids)
	if err != nil {
		return nil, classify(errors.Wrap(err, "lock products"))
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, classify(errors.Wrap(err, "lock products"))
	}

	out := make(map[string]product.Product, len(products))
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

func (t *orderTx) OrderByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	rows, err := t.tx.Query(ctx, getOrderByKeySQL, key)
	if err != nil {
		return nil, classify(errors.Wrap(err, "get order by key"))
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, classify(errors.Wrap(err, "get order by key"))
	}
	return o, nil
}

func (t *orderTx) DecrementStock(ctx context.Context, productID string, qty int) error {
	if qty <= 0 || qty > order.MaxQuantity {
		return errors.Errorf("invalid decrement %d of %s", qty, productID)
	}
	tag, err := t.tx.Exec(ctx, decrementStockSQL, productID, qty)
	if err != nil {
		return classify(errors.Wrap(err, "decrement stock"))
	}
	// The guard only fails if the row changed after it was locked and
	// checked, which serializable isolation should already prevent.
	if tag.RowsAffected() != 1 {
		return errors.Wrapf(order.ErrConflict, "decrement %s by %d", productID, qty)
	}
	return nil
}

func (t *orderTx) CreateOrder(ctx context.Context, o *order.Order) error {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return errors.Wrap(err, "marshal order lines")
	}
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return errors.Wrap(err, "marshal customer details")
	}

	var key *string
	if o.IdempotencyKey != "" {
		key = &o.IdempotencyKey
	}
	if _, err := t.tx.Exec(ctx, insertOrderSQL,
		o.ID, lines, customer, string(o.Status), o.UserID, key, o.CreatedAt,
	); err != nil {
		return classify(errors.Wrapf(err, "insert order %q", o.ID))
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var (
		o        order.Order
		lines    []byte
		customer []byte
		status   string
		key      *string
		created  time.Time
	)
	if err := row.Scan(&o.ID, &lines, &customer, &status, &o.UserID, &key, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(lines, &o.Lines); err != nil {
		return nil, errors.Wrap(err, "unmarshal order lines")
	}
	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return nil, errors.Wrap(err, "unmarshal customer details")
	}
	o.Status = order.Status(status)
	if key != nil {
		o.IdempotencyKey = *key
	}
	o.CreatedAt = created.UTC()
	return &o, nil
}
