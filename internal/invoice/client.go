// Package invoice is the HTTP client for a remote invoice service.
package invoice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Veraticus/spice-reconcile/internal/common"
	"github.com/Veraticus/spice-reconcile/internal/model"
	"github.com/Veraticus/spice-reconcile/internal/service"
)

// DefaultTimeout bounds one HTTP request when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of an error response is kept in messages.
const maxErrorBody = 512

var _ service.InvoiceStore = (*Client)(nil)

// Client implements service.InvoiceStore against a JSON API:
//
//	GET  /invoices?outstanding=true
//	GET  /invoices/{id}
//	POST /invoices/{id}/payments
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sends a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: invoice service URL %q", common.ErrInvalidConfig, baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type invoiceList struct {
	Invoices []model.Invoice `json:"invoices"`
}

// OutstandingInvoices fetches every invoice with an unpaid balance.
func (c *Client) OutstandingInvoices(ctx context.Context) ([]model.Invoice, error) {
	var list invoiceList
	if err := c.do(ctx, http.MethodGet, "/invoices?outstanding=true", nil, &list); err != nil {
		return nil, err
	}

	outstanding := list.Invoices[:0]
	for _, inv := range list.Invoices {
		if inv.IsOutstanding() {
			outstanding = append(outstanding, inv)
		}
	}
	return outstanding, nil
}

// GetInvoice fetches one invoice; a 404 maps to common.ErrNotFound.
func (c *Client) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	var inv model.Invoice
	if err := c.do(ctx, http.MethodGet, "/invoices/"+url.PathEscape(id), nil, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// RecordPayment posts the invoice's new paid state.
func (c *Client) RecordPayment(ctx context.Context, id string, update service.PaymentUpdate) error {
	return c.do(ctx, http.MethodPost, "/invoices/"+url.PathEscape(id)+"/payments", update, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	slog.Debug("Calling invoice service", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		// Timeouts and connection failures are worth another attempt.
		return &common.RetryableError{
			Err:       fmt.Errorf("%w: %s %s: %w", common.ErrInvoiceUnavailable, method, path, err),
			Retryable: true,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	if err := statusError(resp, method, path); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode invoice service response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response, method, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := fmt.Sprintf("%s %s: %d - %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", common.ErrNotFound, msg)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", common.ErrDuplicateEntry, msg)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", common.ErrRateLimit, msg)
	case resp.StatusCode >= 500:
		return &common.RetryableError{
			Err:       fmt.Errorf("%w: %s", common.ErrInvoiceUnavailable, msg),
			Retryable: true,
		}
	default:
		return fmt.Errorf("invoice service error: %s", msg)
	}
}
