package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/planthub/internal/wire"
	"github.com/xenking/planthub/pkg/health"
	"github.com/xenking/planthub/pkg/httpmiddleware"
)

// RouterConfig holds the ambient dependencies of the HTTP server.
type RouterConfig struct {
	Service        string
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	CORS           httpmiddleware.CORSConfig
	// Health serves /livez and /readyz when set.
	Health *health.Health
}

// NewRouter mounts the API and the health probes behind the middleware chain.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	if cfg.Service == "" {
		cfg.Service = "planthub-api"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(cfg.CORS),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(cfg.Logger),
	)
	if cfg.TracerProvider != nil && cfg.MeterProvider != nil {
		r.Use(httpmiddleware.Instrument(cfg.Service, cfg.TracerProvider, cfg.MeterProvider))
	}
	r.Use(httpmiddleware.LogRequests())

	if cfg.Health != nil {
		r.Get("/livez", cfg.Health.LiveEndpoint)
		r.Get("/readyz", cfg.Health.ReadyEndpoint)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/{id}", h.GetProduct)
		r.Post("/orders", h.PlaceOrder)
		r.Get("/orders/{id}", h.GetOrder)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, wire.Error{Message: "Not found", Code: wire.CodeNotFound})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, wire.Error{Message: "Method not allowed", Code: wire.CodeInvalidRequest})
	})
	return r
}
