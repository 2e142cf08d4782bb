package app

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/planthub/db"
	"github.com/xenking/planthub/internal/catalog"
	"github.com/xenking/planthub/internal/domain/order"
	"github.com/xenking/planthub/internal/domain/product"
	"github.com/xenking/planthub/internal/handler"
	"github.com/xenking/planthub/internal/signal"
	"github.com/xenking/planthub/internal/signal/kafka"
	"github.com/xenking/planthub/internal/signal/redisx"
	"github.com/xenking/planthub/internal/storage/memory"
	"github.com/xenking/planthub/internal/storage/postgres"
	"github.com/xenking/planthub/pkg/health"
	"github.com/xenking/planthub/pkg/httpmiddleware"
)

// stores is the catalog and order store pair selected by StorageConfig.
type stores struct {
	products product.Repository
	orders   order.Store
	close    func()
}

func openStores(ctx context.Context, lg *zap.Logger, cfg StorageConfig, hc *health.Health) (*stores, error) {
	switch cfg.Driver {
	case DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		if cfg.SeedFile != "" {
			products, err := catalog.ReadFile(cfg.SeedFile)
			if err != nil {
				pool.Close()
				return nil, errors.Wrap(err, "read seed catalog")
			}
			if err := postgres.SeedProducts(ctx, pool, products); err != nil {
				pool.Close()
				return nil, errors.Wrap(err, "seed products")
			}
			lg.Info("Seeded catalog", zap.Int("products", len(products)))
		}
		hc.Register(health.Readiness, health.Check{
			Name:    "postgres",
			Timeout: 5 * time.Second,
			Func:    health.PingCheck(pool),
		})
		return &stores{
			products: postgres.NewProductRepository(pool),
			orders:   postgres.NewOrderStore(pool),
			close:    pool.Close,
		}, nil
	default:
		var (
			products []product.Product
			err      error
		)
		if cfg.SeedFile != "" {
			products, err = catalog.ReadFile(cfg.SeedFile)
		} else {
			products, err = catalog.Read(bytes.NewReader(db.SeedProducts))
		}
		if err != nil {
			return nil, errors.Wrap(err, "read seed catalog")
		}
		lg.Warn("Using in-memory store, orders are lost on restart", zap.Int("products", len(products)))
		store := memory.New(products)
		return &stores{products: store, orders: store, close: func() {}}, nil
	}
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
	)

	healthSvc := health.New()
	healthSvc.Register(health.Liveness, health.Check{
		Name:    "goroutines",
		Timeout: time.Second,
		Func:    health.GoroutineCountCheck(10000),
	})

	st, err := openStores(ctx, lg, cfg.Storage, healthSvc)
	if err != nil {
		return err
	}
	defer st.close()

	g, gctx := errgroup.WithContext(ctx)

	// Stock-changed publishers.
	var (
		notifiers signal.Multi
		producer  *kafka.Producer
	)
	if len(cfg.Signal.KafkaBrokers) > 0 {
		producer = kafka.NewProducer(
			kafka.NewWriter(cfg.Signal.KafkaBrokers, cfg.Signal.KafkaTopic),
			cfg.Signal.KafkaBuffer,
			lg.Named("kafka"),
		)
		notifiers = append(notifiers, producer)
		g.Go(func() error {
			return producer.Run(context.WithoutCancel(gctx))
		})
		lg.Info("Publishing stock changes to Kafka",
			zap.Strings("brokers", cfg.Signal.KafkaBrokers),
			zap.String("topic", cfg.Signal.KafkaTopic),
		)
	}
	if cfg.Signal.RedisAddr != "" {
		rdb := redisx.NewClient(cfg.Signal.RedisAddr)
		defer func() { _ = rdb.Close() }()
		notifiers = append(notifiers, redisx.NewPublisher(rdb, cfg.Signal.RedisChannel))
		healthSvc.Register(health.Readiness, health.Check{
			Name:    "redis",
			Timeout: 2 * time.Second,
			Func: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		})
		lg.Info("Publishing stock changes to Redis",
			zap.String("addr", cfg.Signal.RedisAddr),
			zap.String("channel", cfg.Signal.RedisChannel),
		)
	}

	orderService, err := order.NewService(st.orders, cfg.Order.OrderService(),
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
		order.WithNotifier(notifiers),
	)
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	router := handler.NewRouter(handler.NewHandler(st.products, orderService), handler.RouterConfig{
		Service:        "planthub-api",
		Logger:         lg,
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
		Health:         healthSvc,
		CORS: httpmiddleware.CORSConfig{
			Origins: cfg.CORS.Origins,
			Headers: []string{"Content-Type", handler.IdempotencyKeyHeader, httpmiddleware.RequestIDHeader},
			Expose:  []string{httpmiddleware.RequestIDHeader},
			MaxAge:  cfg.CORS.MaxAge,
		},
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           router,
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		if producer != nil {
			producer.Close()
		}
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
