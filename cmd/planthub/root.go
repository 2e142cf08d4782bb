package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xenking/planthub/internal/domain/basket"
	"github.com/xenking/planthub/internal/storefront"
)

type options struct {
	apiURL     string
	basketFile string
	verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "planthub",
		Short:         "Browse the PlantHub catalog, manage a basket and check out",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringVar(&opts.apiURL, "api", envOr("PLANTHUB_API_URL", "http://localhost:8080"), "base URL of the PlantHub API")
	f.StringVar(&opts.basketFile, "basket-file", os.Getenv("PLANTHUB_BASKET_FILE"), "where the basket is kept (default: user config dir)")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log diagnostics to stderr")

	root.AddCommand(
		newProductsCommand(opts),
		newBasketCommand(opts),
		newCheckoutCommand(opts),
		newWatchCommand(opts),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (o *options) logger() *zap.Logger {
	if !o.verbose {
		return zap.NewNop()
	}
	lg, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return lg
}

func (o *options) basketPath() (string, error) {
	if o.basketFile != "" {
		return o.basketFile, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "locate config dir")
	}
	return filepath.Join(dir, "planthub", "basket.json"), nil
}

// session is a storefront wired to the on-disk basket and the API.
type session struct {
	client *storefront.Client
	front  *storefront.Storefront
	lg     *zap.Logger
}

// open loads the persisted basket and, when refresh is set, the catalog.
func (o *options) open(ctx context.Context, refresh bool) (*session, error) {
	lg := o.logger()

	client, err := storefront.NewClient(o.apiURL)
	if err != nil {
		return nil, err
	}
	path, err := o.basketPath()
	if err != nil {
		return nil, err
	}
	store := storefront.NewFileStore(path)

	b := basket.New(basket.WithPersister(store), basket.WithLogger(lg))
	data, err := store.Load()
	if err != nil {
		return nil, err
	}
	if data != nil {
		if err := b.Hydrate(data); err != nil {
			lg.Warn("Discarding unreadable basket", zap.String("path", path), zap.Error(err))
		}
	}

	s := &session{
		client: client,
		front:  storefront.New(client, b, storefront.WithLogger(lg)),
		lg:     lg,
	}
	if refresh {
		if err := s.front.Refresh(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}
