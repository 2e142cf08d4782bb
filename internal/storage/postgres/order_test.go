package postgres

import (
	"context"
	"math"
	"net"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/planthub/internal/domain/order"
)

var (
	productColumns = []string{"id", "name", "price", "stock"}
	orderRowCols   = []string{"id", "lines", "customer", "status", "user_id", "idempotency_key", "created_at"}
	serializable   = pgx.TxOptions{IsoLevel: pgx.Serializable}
	createdAt      = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func newService(t *testing.T, mock pgxmock.PgxPoolIface, attempts int) *order.Service {
	t.Helper()
	svc, err := order.NewService(NewOrderStore(mock), order.Config{
		CommitTimeout:  time.Second,
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	},
		order.WithIDGenerator(func() string { return "order-1" }),
		order.WithClock(func() time.Time { return createdAt }),
	)
	require.NoError(t, err)
	return svc
}

func placeRequest(qty int) order.PlaceOrderRequest {
	return order.PlaceOrderRequest{
		Items: []order.Item{{ProductID: "monstera", Quantity: qty}},
		Customer: &order.CustomerDetails{
			FirstName:      "Somchai",
			LastName:       "Jaidee",
			Address:        "99 Sukhumvit Rd",
			Phone:          "0812345678",
			DeliveryMethod: order.DeliveryEMS,
			PaymentMethod:  order.PaymentBank,
		},
	}
}

func monsteraRows(stock int) *pgxmock.Rows {
	return pgxmock.NewRows(productColumns).
		AddRow("monstera", "Monstera Deliciosa", decimal.RequireFromString("450.00"), stock)
}

func expectCommitFlow(mock pgxmock.PgxPoolIface, stock, qty int) {
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(`FROM products\s+WHERE id = ANY\(\$1\) ORDER BY id FOR UPDATE`).
		WithArgs([]string{"monstera"}).
		WillReturnRows(monsteraRows(stock))
	mock.ExpectExec(`UPDATE products SET stock = stock - \$2`).
		WithArgs("monstera", qty).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO orders`).
		WithArgs("order-1", pgxmock.AnyArg(), pgxmock.AnyArg(), "pending", pgxmock.AnyArg(), pgxmock.AnyArg(), createdAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func TestOrderStore_PlaceOrder(t *testing.T) {
	mock := newMock(t)
	expectCommitFlow(mock, 10, 3)
	mock.ExpectCommit()

	res, err := newService(t, mock, 5).PlaceOrder(context.Background(), placeRequest(3))
	require.NoError(t, err)

	assert.Equal(t, "order-1", res.Order.ID)
	assert.Equal(t, 1, res.Attempts)
	require.Len(t, res.Order.Lines, 1)
	assert.Equal(t, "Monstera Deliciosa", res.Order.Lines[0].ProductName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderStore_InsufficientStockRollsBack(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs([]string{"monstera"}).
		WillReturnRows(monsteraRows(2))
	mock.ExpectRollback()

	_, err := newService(t, mock, 5).PlaceOrder(context.Background(), placeRequest(5))

	var isErr *order.InsufficientStockError
	require.ErrorAs(t, err, &isErr)
	assert.Equal(t, 2, isErr.Available)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderStore_ProductNotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs([]string{"monstera"}).
		WillReturnRows(pgxmock.NewRows(productColumns))
	mock.ExpectRollback()

	_, err := newService(t, mock, 5).PlaceOrder(context.Background(), placeRequest(1))

	var nfErr *order.ProductNotFoundError
	require.ErrorAs(t, err, &nfErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderStore_SerializationFailureRetried(t *testing.T) {
	mock := newMock(t)
	expectCommitFlow(mock, 1, 1)
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: codeSerializationFailure})
	mock.ExpectRollback()
	expectCommitFlow(mock, 1, 1)
	mock.ExpectCommit()

	res, err := newService(t, mock, 5).PlaceOrder(context.Background(), placeRequest(1))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderStore_GuardFailureIsConflict(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs([]string{"monstera"}).
		WillReturnRows(monsteraRows(1))
	mock.ExpectExec(`UPDATE products`).
		WithArgs("monstera", 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	_, err := newService(t, mock, 1).PlaceOrder(context.Background(), placeRequest(1))
	require.ErrorIs(t, err, order.ErrCommitFailed)
	require.ErrorIs(t, err, order.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderStore_DecrementRejectsNonPositive(t *testing.T) {
	for _, qty := range []int{0, -2, order.MaxQuantity + 1} {
		mock := newMock(t)
		mock.ExpectBeginTx(serializable)
		mock.ExpectRollback()

		err := NewOrderStore(mock).RunInTx(context.Background(), func(ctx context.Context, tx order.Tx) error {
			return tx.DecrementStock(ctx, "monstera", qty)
		})
		require.Error(t, err, qty)
		assert.NotErrorIs(t, err, order.ErrConflict)
		require.NoError(t, mock.ExpectationsWereMet(), qty)
	}
}

func TestOrderStore_OverflowingLinesNeverReachDB(t *testing.T) {
	mock := newMock(t)
	req := placeRequest(math.MaxInt)
	req.Items = append(req.Items, order.Item{ProductID: "monstera", Quantity: math.MaxInt})

	_, err := newService(t, mock, 5).PlaceOrder(context.Background(), req)

	var vErr *order.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "items.quantity", vErr.Field)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderStore_IdempotentReplay(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(`FROM orders WHERE idempotency_key = \$1`).
		WithArgs("key-1").
		WillReturnRows(pgxmock.NewRows(orderRowCols).AddRow(
			"order-0",
			[]byte(`[{"productId":"monstera","productName":"Monstera Deliciosa","quantity":1,"unitPrice":"450"}]`),
			[]byte(`{"firstName":"Somchai","deliveryMethod":"ems","paymentMethod":"bank"}`),
			"pending",
			(*string)(nil),
			ptr("key-1"),
			createdAt,
		))
	mock.ExpectCommit()

	req := placeRequest(1)
	req.IdempotencyKey = "key-1"
	res, err := newService(t, mock, 5).PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, res.Replayed)
	assert.Equal(t, "order-0", res.Order.ID)
	assert.Equal(t, "key-1", res.Order.IdempotencyKey)
	assert.Nil(t, res.Order.UserID)
	assert.Equal(t, order.DeliveryEMS, res.Order.Customer.DeliveryMethod)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderStore_IdempotencyKeyStored(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBeginTx(serializable)
	mock.ExpectQuery(`FROM orders WHERE idempotency_key = \$1`).
		WithArgs("key-2").
		WillReturnRows(pgxmock.NewRows(orderRowCols))
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs([]string{"monstera"}).
		WillReturnRows(monsteraRows(4))
	mock.ExpectExec(`UPDATE products`).
		WithArgs("monstera", 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO orders`).
		WithArgs("order-1", pgxmock.AnyArg(), pgxmock.AnyArg(), "pending", pgxmock.AnyArg(), ptr("key-2"), createdAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	req := placeRequest(2)
	req.IdempotencyKey = "key-2"
	res, err := newService(t, mock, 5).PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderStore_BeginUnavailable(t *testing.T) {
	mock := newMock(t)
	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	for range 2 {
		mock.ExpectBeginTx(serializable).WillReturnError(dialErr)
	}

	_, err := newService(t, mock, 2).PlaceOrder(context.Background(), placeRequest(1))
	require.ErrorIs(t, err, order.ErrUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderStore_GetOrder(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM orders WHERE id = \$1`).
		WithArgs("order-9").
		WillReturnRows(pgxmock.NewRows(orderRowCols).AddRow(
			"order-9",
			[]byte(`[{"productId":"pothos","productName":"Golden Pothos","quantity":2,"unitPrice":"120.00"}]`),
			[]byte(`{"firstName":"Ann","lastName":"Lee","address":"1 Road","phone":"1","deliveryMethod":"pickup","paymentMethod":"cash"}`),
			"fulfilled",
			ptr("user-1"),
			(*string)(nil),
			createdAt,
		))
	mock.ExpectQuery(`FROM orders WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(orderRowCols))

	store := NewOrderStore(mock)

	o, err := store.GetOrder(context.Background(), "order-9")
	require.NoError(t, err)
	assert.Equal(t, order.StatusFulfilled, o.Status)
	require.NotNil(t, o.UserID)
	assert.Equal(t, "user-1", *o.UserID)
	assert.Empty(t, o.IdempotencyKey)
	require.Len(t, o.Lines, 1)
	assert.True(t, decimal.RequireFromString("240").Equal(o.Total()))

	_, err = store.GetOrder(context.Background(), "missing")
	require.ErrorIs(t, err, order.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	plain := errors.New("syntax error")
	tests := []struct {
		name        string
		err         error
		conflict    bool
		unavailable bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true, false},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true, false},
		{"duplicate idempotency key", &pgconn.PgError{Code: "23505", ConstraintName: idempotencyKeyIndex}, true, false},
		{"duplicate primary key", &pgconn.PgError{Code: "23505", ConstraintName: "orders_pkey"}, false, false},
		{"check violation", &pgconn.PgError{Code: "23514"}, false, false},
		{"network", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("reset")}, false, true},
		{"canceled", errors.Wrap(context.Canceled, "query"), false, false},
		{"other", plain, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.Equal(t, tt.conflict, errors.Is(got, order.ErrConflict))
			assert.Equal(t, tt.unavailable, errors.Is(got, order.ErrUnavailable))
			assert.ErrorIs(t, got, tt.err)
		})
	}
	assert.NoError(t, classify(nil))
}

func ptr[T any](v T) *T { return &v }
