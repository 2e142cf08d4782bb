// Package catalog reads product seed files.
//
// A seed file is a JSON array of products. Files ending in .gz are
// decompressed transparently.
package catalog

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/planthub/internal/domain/product"
)

type productJSON struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

// Read decodes a seed catalog from r.
func Read(r io.Reader) ([]product.Product, error) {
	var raw []productJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decode products")
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]product.Product, 0, len(raw))
	for i, p := range raw {
		switch {
		case p.ID == "":
			return nil, errors.Errorf("product #%d: id is required", i)
		case p.Price.IsNegative():
			return nil, errors.Errorf("product %s: negative price", p.ID)
		case p.Stock < 0:
			return nil, errors.Errorf("product %s: negative stock", p.ID)
		}
		if _, ok := seen[p.ID]; ok {
			return nil, errors.Errorf("product %s: duplicate id", p.ID)
		}
		seen[p.ID] = struct{}{}
		out = append(out, product.Product{
			ID:    p.ID,
			Name:  p.Name,
			Price: p.Price,
			Stock: p.Stock,
		})
	}
	return out, nil
}

// ReadFile decodes the seed catalog at path.
func ReadFile(path string) (_ []product.Product, rerr error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() {
		if err := f.Close(); err != nil && rerr == nil {
			rerr = errors.Wrap(err, "close")
		}
	}()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "gzip")
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	return Read(r)
}
