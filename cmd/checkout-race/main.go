// Command checkout-race submits many concurrent orders for one product
// against a running API and checks that stock was conserved.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/planthub/internal/domain/order"
	"github.com/xenking/planthub/internal/storefront"
)

type tally struct {
	placed       atomic.Int64
	insufficient atomic.Int64
	failed       atomic.Int64
}

func main() {
	var (
		apiURL      string
		productID   string
		orders      int
		quantity    int
		concurrency int
	)

	flag.StringVar(&apiURL, "api-url", "http://localhost:8080", "base URL of the API")
	flag.StringVar(&productID, "product", "", "product to order (required)")
	flag.IntVar(&orders, "orders", 50, "number of orders to submit")
	flag.IntVar(&quantity, "quantity", 1, "units per order")
	flag.IntVar(&concurrency, "concurrency", 50, "orders in flight at once")
	flag.Parse()

	if productID == "" {
		slog.Error("product is required: set --product")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, apiURL, productID, orders, quantity, concurrency); err != nil {
		slog.Error("race failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, apiURL, productID string, orders, quantity, concurrency int) error {
	client, err := storefront.NewClient(apiURL)
	if err != nil {
		return err
	}

	before, err := client.Product(ctx, productID)
	if err != nil {
		return errors.Wrap(err, "read product")
	}
	slog.Info("starting race",
		slog.String("product", productID),
		slog.Int("stock", before.Stock),
		slog.Int("orders", orders),
		slog.Int("quantity", quantity),
	)

	var t tally
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for i := range orders {
		g.Go(func() error {
			_, err := client.PlaceOrder(gctx, order.PlaceOrderRequest{
				Items: []order.Item{{ProductID: productID, Quantity: quantity}},
				Customer: &order.CustomerDetails{
					FirstName:      "Race",
					LastName:       fmt.Sprintf("Shopper %d", i),
					Address:        "1 Test Lane",
					Phone:          "0000000000",
					DeliveryMethod: order.DeliveryPickup,
					PaymentMethod:  order.PaymentCash,
				},
				IdempotencyKey: uuid.NewString(),
			})
			var insufficient *order.InsufficientStockError
			switch {
			case err == nil:
				t.placed.Add(1)
			case errors.As(err, &insufficient):
				t.insufficient.Add(1)
			default:
				t.failed.Add(1)
				slog.Warn("order failed", slog.Int("n", i), slog.String("error", err.Error()))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	after, err := client.Product(ctx, productID)
	if err != nil {
		return errors.Wrap(err, "read product after race")
	}

	placed := int(t.placed.Load())
	slog.Info("race finished",
		slog.Duration("elapsed", elapsed),
		slog.Int("placed", placed),
		slog.Int64("insufficient", t.insufficient.Load()),
		slog.Int64("failed", t.failed.Load()),
		slog.Int("stock_before", before.Stock),
		slog.Int("stock_after", after.Stock),
	)

	if want := before.Stock - placed*quantity; after.Stock != want {
		return errors.Errorf("stock not conserved: want %d, got %d", want, after.Stock)
	}
	if after.Stock < 0 {
		return errors.Errorf("oversold: stock is %d", after.Stock)
	}
	if placed*quantity > before.Stock {
		return errors.Errorf("oversold: placed %d units of %d", placed*quantity, before.Stock)
	}
	return nil
}
