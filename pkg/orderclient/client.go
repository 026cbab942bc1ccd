// Package orderclient is the HTTP client other services use to look up and
// act on orders owned by orders-service.
package orderclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/elizov/khpi-corporate-systems/pkg/contracts"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNotFound        = errors.New("order not found")
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnavailable covers transport errors, 5xx answers and an open breaker.
	ErrUnavailable = errors.New("orders service unavailable")
)

// serviceRoles is asserted on every call; orders-service trusts the internal
// network the same way it trusts the gateway.
const serviceRoles = "ADMIN"

type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	sfg     singleflight.Group
}

type Options struct {
	Timeout time.Duration
	// Transport is wrapped with otelhttp. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
	// MaxFailures consecutive failures open the breaker for OpenTimeout.
	MaxFailures uint32
	OpenTimeout time.Duration
}

func New(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 10 * time.Second
	}

	maxFailures := opts.MaxFailures
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "orders-service",
		Timeout: opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// client mistakes say nothing about the health of the service
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidArgument)
		},
	})

	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(opts.Transport),
		},
		breaker: breaker,
	}
}

// GetOrder fetches the current snapshot of one order. Concurrent lookups of
// the same id share a single request. The shared request is detached from
// the caller that started it, so one caller giving up does not fail the
// others; each caller still returns as soon as its own ctx is done.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*contracts.OrderView, error) {
	ch := c.sfg.DoChan(orderID, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.http.Timeout)
		defer cancel()
		var order contracts.OrderView
		if err := c.do(shared, http.MethodGet, "/api/admin/orders/"+url.PathEscape(orderID), nil, &order); err != nil {
			return nil, err
		}
		return &order, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		order := *res.Val.(*contracts.OrderView)
		return &order, nil
	}
}

func (c *Client) ListByStatus(ctx context.Context, status string) ([]contracts.OrderView, error) {
	var orders []contracts.OrderView
	path := "/api/admin/orders?status=" + url.QueryEscape(status)
	if err := c.do(ctx, http.MethodGet, path, nil, &orders); err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []contracts.OrderView{}
	}
	return orders, nil
}

func (c *Client) Confirm(ctx context.Context, orderID, comment string) (*contracts.OrderEvent, error) {
	var event contracts.OrderEvent
	path := "/api/admin/orders/" + url.PathEscape(orderID) + "/confirm"
	if err := c.do(ctx, http.MethodPost, path, contracts.ConfirmRequest{Comment: comment}, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

func (c *Client) Cancel(ctx context.Context, orderID, reason string) (*contracts.OrderEvent, error) {
	var event contracts.OrderEvent
	path := "/api/admin/orders/" + url.PathEscape(orderID) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, contracts.CancelRequest{Reason: reason}, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	data, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-User-Roles", serviceRoles)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
		}
		if err := statusError(resp.StatusCode, respBody); err != nil {
			return nil, err
		}
		return respBody, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	var apiErr contracts.ErrorResponse
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Details
	if msg == "" {
		msg = apiErr.Error
	}

	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case status == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, status, msg)
	}
}
