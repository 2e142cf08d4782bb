package main

import (
	"bytes"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/planthub/db"
	"github.com/xenking/planthub/internal/catalog"
	"github.com/xenking/planthub/internal/domain/product"
	"github.com/xenking/planthub/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		productsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "", "path to products JSON file, optionally .gz (default: embedded catalog)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string) error {
	products, err := readCatalog(productsFile)
	if err != nil {
		return errors.Wrap(err, "read catalog")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	if err := postgres.SeedProducts(ctx, pool, products); err != nil {
		return errors.Wrap(err, "seed products")
	}
	for _, p := range products {
		slog.Info("upserted product",
			slog.String("id", p.ID),
			slog.String("name", p.Name),
			slog.Int("stock", p.Stock),
		)
	}

	return nil
}

func readCatalog(path string) ([]product.Product, error) {
	if path == "" {
		slog.Info("reading embedded catalog")
		return catalog.Read(bytes.NewReader(db.SeedProducts))
	}
	slog.Info("reading products file", slog.String("path", path))
	return catalog.ReadFile(path)
}
