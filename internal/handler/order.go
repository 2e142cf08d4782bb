package handler

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/planthub/internal/domain/order"
	"github.com/xenking/planthub/internal/wire"
)

// PlaceOrder decodes the request, delegates to the order service and maps
// the result or error to a response. A replayed idempotent request answers
// 200 with the original order id instead of 201.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, wire.Error{
			Message: "Invalid request body",
			Code:    wire.CodeInvalidRequest,
		})
		return
	}
	req, err := wire.DecodePlaceOrder(data)
	if err != nil {
		zctx.From(ctx).Debug("Invalid order request", zap.Error(err))
		writeError(w, http.StatusBadRequest, wire.Error{
			Message: "Invalid request body",
			Code:    wire.CodeInvalidRequest,
		})
		return
	}
	if key := r.Header.Get(IdempotencyKeyHeader); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}

	result, err := h.orders.PlaceOrder(ctx, req)
	if err != nil {
		status, body := mapOrderError(err)
		if status >= http.StatusInternalServerError {
			zctx.From(ctx).Error("Place order", zap.Error(err))
		}
		writeError(w, status, body)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", result.Order.ID),
		zap.Bool("replayed", result.Replayed),
		zap.Int("attempts", result.Attempts),
	)
	writeJSON(w, status, func(e *jx.Encoder) {
		wire.EncodeOrderPlaced(e, wire.OrderPlaced{
			Message:  "Order submitted successfully",
			OrderID:  result.Order.ID,
			Replayed: result.Replayed,
		})
	})
}

// GetOrder returns a committed order by id.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, wire.Error{
				Message: "Order not found",
				Code:    wire.CodeNotFound,
			})
			return
		}
		internalError(r.Context(), w, "Get order", err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { wire.EncodeOrder(e, o) })
}

// mapOrderError converts order service errors to a status and body.
func mapOrderError(err error) (int, wire.Error) {
	var vErr *order.ValidationError
	if errors.As(err, &vErr) {
		return http.StatusBadRequest, wire.Error{
			Message: vErr.Message,
			Code:    wire.CodeValidation,
			Field:   vErr.Field,
		}
	}

	var pnfErr *order.ProductNotFoundError
	if errors.As(err, &pnfErr) {
		return http.StatusNotFound, wire.Error{
			Message:   fmt.Sprintf("Product %s not found", pnfErr.ProductID),
			Code:      wire.CodeProductNotFound,
			ProductID: pnfErr.ProductID,
		}
	}

	var isErr *order.InsufficientStockError
	if errors.As(err, &isErr) {
		name := isErr.ProductName
		if name == "" {
			name = isErr.ProductID
		}
		return http.StatusBadRequest, wire.Error{
			Message:     "Insufficient stock for " + name,
			Code:        wire.CodeInsufficientStock,
			ProductID:   isErr.ProductID,
			ProductName: isErr.ProductName,
			Available:   isErr.Available,
			Requested:   isErr.Requested,
		}
	}

	return http.StatusInternalServerError, wire.Error{
		Message: "Failed to submit order",
		Code:    wire.CodeCommitFailed,
	}
}
