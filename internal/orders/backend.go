package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"storefront/internal/callback"
)

// BackendClient posts a payment result to the order backend and returns
// the HTTP status it answered with.
type BackendClient interface {
	Finalize(ctx context.Context, p callback.Payload) (int, error)
}

// StatusError is returned for a non-2xx backend response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend responded %d", e.Code)
	}
	return fmt.Sprintf("backend responded %d: %s", e.Code, e.Body)
}

// HTTPBackend posts the payload as JSON to a fixed URL.
type HTTPBackend struct {
	url    string
	client *http.Client
}

// NewHTTPBackend uses http.DefaultClient when client is nil.
func NewHTTPBackend(url string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPBackend{url: url, client: client}
}

func (b *HTTPBackend) Finalize(ctx context.Context, p callback.Payload) (int, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", IdempotencyKey(p))

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// IdempotencyKey identifies one finalization of an order.
func IdempotencyKey(p callback.Payload) string {
	return "vnpay:" + p.OrderID
}
