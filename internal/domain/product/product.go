package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a plant listed in the catalog.
//
// Stock is the number of units currently available for sale. It is only ever
// decremented by the order commit transaction; the catalog never writes it.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
	Stock int
}

// Available reports whether at least one unit can be ordered.
func (p Product) Available() bool {
	return p.Stock > 0
}

// Repository defines read operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
}
