package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrConflict is reported by a Store when another transaction modified
	// data read by the current one. The transaction had no effect.
	ErrConflict = errors.New("write conflict")
	// ErrUnavailable is reported by a Store when the backend cannot be
	// reached. The transaction had no effect.
	ErrUnavailable = errors.New("persistence unavailable")
	// ErrCommitFailed is returned when the commit could not be serialized
	// within the retry budget or the commit timeout. Nothing was persisted
	// and the request may be retried.
	ErrCommitFailed = errors.New("order commit failed")
)

// ValidationError indicates a malformed or incomplete order request. It is
// detected before the store is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InsufficientStockError indicates a line requested more units than were
// available when the commit transaction read the product.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", name, e.Requested, e.Available)
}

// retryable reports whether err may succeed if the transaction is run again.
func retryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrUnavailable)
}
