// Package handler implements the storefront HTTP API on top of the product
// catalog and the order commit service.
package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/planthub/internal/domain/order"
	"github.com/xenking/planthub/internal/domain/product"
	"github.com/xenking/planthub/internal/wire"
)

// IdempotencyKeyHeader may carry the idempotency key instead of the body.
const IdempotencyKeyHeader = "Idempotency-Key"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Orders is the part of the order service used by the handler.
type Orders interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
	GetOrder(ctx context.Context, id string) (*order.Order, error)
}

var _ Orders = (*order.Service)(nil)

// Handler serves the /api routes.
type Handler struct {
	products product.Repository
	orders   Orders
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(products product.Repository, orders Orders) *Handler {
	return &Handler{
		products: products,
		orders:   orders,
	}
}

// writeJSON encodes the body with fn and writes it with status.
func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, body wire.Error) {
	writeJSON(w, status, func(e *jx.Encoder) { wire.EncodeError(e, body) })
}

// internalError logs err and responds with a generic 500.
func internalError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	zctx.From(ctx).Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, wire.Error{
		Message: "Internal server error",
		Code:    wire.CodeInternal,
	})
}
