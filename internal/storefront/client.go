package storefront

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/planthub/internal/domain/order"
	"github.com/xenking/planthub/internal/domain/product"
	"github.com/xenking/planthub/internal/wire"
)

// ErrNotFound is wrapped by an *APIError for a 404 on a product or order.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response that does not map to a domain error.
type APIError struct {
	StatusCode int
	Body       wire.Error
}

func (e *APIError) Error() string {
	msg := e.Body.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("api: %d: %s", e.StatusCode, msg)
}

// Unwrap exposes the order sentinel matching the response, so callers can
// use errors.Is(err, order.ErrCommitFailed).
func (e *APIError) Unwrap() error {
	switch e.Body.Code {
	case wire.CodeCommitFailed:
		return order.ErrCommitFailed
	case wire.CodeNotFound:
		return ErrNotFound
	}
	return nil
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithReadRetries sets how many times a failed catalog or order read is
// retried. Order submission is never retried by the client.
func WithReadRetries(n int) ClientOption {
	return func(c *Client) { c.retries = n }
}

// Client talks to the storefront HTTP API.
type Client struct {
	base    *url.URL
	http    *http.Client
	retries int
}

// NewClient creates a Client for the API at baseURL, e.g.
// "http://localhost:8080".
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("invalid base url %q", baseURL)
	}
	c := &Client{
		base: u,
		http: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		retries: 3,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Products returns the catalog with current stock.
func (c *Client) Products(ctx context.Context) ([]product.Product, error) {
	data, err := c.get(ctx, "/api/products")
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return wire.DecodeProducts(data)
}

// Product returns one product, or an error wrapping ErrNotFound.
func (c *Client) Product(ctx context.Context, id string) (*product.Product, error) {
	data, err := c.get(ctx, "/api/products/"+url.PathEscape(id))
	if err != nil {
		return nil, errors.Wrapf(err, "get product %s", id)
	}
	p, err := wire.DecodeProduct(data)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Order returns a committed order.
func (c *Client) Order(ctx context.Context, id string) (*order.Order, error) {
	data, err := c.get(ctx, "/api/orders/"+url.PathEscape(id))
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", id)
	}
	return wire.DecodeOrder(data)
}

// PlaceOrder submits an order. Rejections are returned as the order
// package's typed errors: *order.ValidationError,
// *order.ProductNotFoundError or *order.InsufficientStockError. A failed
// commit is an *APIError wrapping order.ErrCommitFailed.
func (c *Client) PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (wire.OrderPlaced, error) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	wire.EncodePlaceOrder(e, req)

	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/api/orders"), bytes.NewReader(e.Bytes()))
	if err != nil {
		return wire.OrderPlaced{}, errors.Wrap(err, "create request")
	}
	hr.Header.Set("Content-Type", "application/json")
	if req.IdempotencyKey != "" {
		hr.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	status, data, err := c.do(hr)
	if err != nil {
		return wire.OrderPlaced{}, errors.Wrap(err, "place order")
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return wire.OrderPlaced{}, responseError(status, data)
	}
	return wire.DecodeOrderPlaced(data)
}

func (c *Client) url(path string) string {
	return c.base.String() + path
}

// get fetches path, retrying transport errors and 5xx responses.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	op := func() error {
		hr, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		status, body, err := c.do(hr)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			err := responseError(status, body)
			if status >= http.StatusInternalServerError {
				return err
			}
			return backoff.Permanent(err)
		}
		data = body
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(c.retries, 0))), ctx)); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) do(hr *http.Request) (int, []byte, error) {
	hr.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(hr)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, nil, errors.Wrap(err, "read body")
	}
	return resp.StatusCode, data, nil
}

// responseError converts an error response into the matching domain error.
func responseError(status int, data []byte) error {
	body, err := wire.DecodeError(data)
	if err != nil {
		body = wire.Error{Message: strings.TrimSpace(string(data))}
	}
	switch body.Code {
	case wire.CodeValidation:
		return &order.ValidationError{Field: body.Field, Message: body.Message}
	case wire.CodeProductNotFound:
		return &order.ProductNotFoundError{ProductID: body.ProductID}
	case wire.CodeInsufficientStock:
		return &order.InsufficientStockError{
			ProductID:   body.ProductID,
			ProductName: body.ProductName,
			Available:   body.Available,
			Requested:   body.Requested,
		}
	}
	return &APIError{StatusCode: status, Body: body}
}
