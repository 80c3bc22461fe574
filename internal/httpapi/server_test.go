package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"storefront/internal/callback"
	"storefront/internal/cart"
	"storefront/internal/events"
	"storefront/internal/orders"
	"storefront/internal/orders/ledger"
	"storefront/internal/reconcile"
)

func discard(string, ...any) {}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type harness struct {
	ts         *httptest.Server
	client     *http.Client
	cart       *cart.InMemoryStore
	orders     *orders.InMemoryOrderStore
	ledger     *orders.InMemoryLedger
	published  *recordingPublisher
	finalizes  atomic.Int32
	hashSecret string
}

func newHarness(t *testing.T, hashSecret string) *harness {
	t.Helper()
	h := &harness{
		cart:       cart.NewInMemoryStore(),
		orders:     orders.NewInMemoryOrderStore(),
		ledger:     orders.NewInMemoryLedger(),
		published:  &recordingPublisher{},
		hashSecret: hashSecret,
	}

	var router http.Handler
	h.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/orders/finalize" {
			h.finalizes.Add(1)
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(h.ts.Close)

	backend := orders.NewHTTPBackend(h.ts.URL+"/api/orders/finalize", h.ts.Client())
	rec := reconcile.New(reconcile.Deps{
		Finalizer: orders.NewFinalizer(backend, h.ledger, orders.DefaultFinalizeTimeout, discard),
		Cart:      h.cart,
		Publisher: h.published,
		Logf:      discard,
	})
	srv := New(Deps{
		Reconciler: rec,
		Mounts:     reconcile.NewMountTable(0),
		Orders:     orders.NewService(h.orders, nil, discard),
		Cart:       h.cart,
		HashSecret: hashSecret,
		Logf:       discard,
	})
	router = srv.Router()

	client := *h.ts.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	h.client = &client
	return h
}

func (h *harness) get(t *testing.T, path, sid string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.ts.URL+path, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: sid})
	}
	resp, err := h.client.Do(req)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := h.client.Post(h.ts.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func returnQuery(orderID, amount, code, txID string) url.Values {
	q := url.Values{}
	if orderID != "" {
		q.Set(callback.ParamTxnRef, orderID)
	}
	q.Set(callback.ParamAmount, amount)
	q.Set(callback.ParamResponseCode, code)
	q.Set(callback.ParamTransactionNo, txID)
	return q
}

func location(t *testing.T, resp *http.Response) *url.URL {
	t.Helper()
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	return loc
}

func TestVNPayReturn_SuccessFinalizesAndClearsCart(t *testing.T) {
	h := newHarness(t, "")
	if err := h.cart.Add(context.Background(), "s1", cart.Item{ProductID: "p1", Quantity: 2, Price: 250000}); err != nil {
		t.Fatalf("seed cart: %v", err)
	}

	q := returnQuery("1001", "50000000", "00", "TX1")
	resp := h.get(t, "/payment/vnpay-return?"+q.Encode(), "s1")

	if got := resp.Header.Get("Location"); got != "/checkout/success?amount=500000&orderId=1001&transactionId=TX1" {
		t.Fatalf("unexpected location %q", got)
	}
	location(t, resp)

	items, _ := h.cart.Items(context.Background(), "s1")
	if len(items) != 0 {
		t.Fatalf("expected cart cleared, got %v", items)
	}
	order, err := h.orders.Get(context.Background(), "1001")
	if err != nil || order.Status != ledger.OrderStatusPaid || order.Amount != 500000 {
		t.Fatalf("expected paid order, got %+v err=%v", order, err)
	}
	if h.finalizes.Load() != 1 {
		t.Fatalf("expected 1 finalize call, got %d", h.finalizes.Load())
	}
	if h.published.count() != 1 {
		t.Fatalf("expected 1 reconciled event, got %d", h.published.count())
	}
}

func TestVNPayReturn_RepeatIsDuplicate(t *testing.T) {
	h := newHarness(t, "")
	path := "/payment/vnpay-return?" + returnQuery("1001", "50000000", "00", "TX1").Encode()

	first := location(t, h.get(t, path, "s1"))
	second := location(t, h.get(t, path, "s1"))

	if first.String() != second.String() {
		t.Fatalf("expected same navigation, got %s and %s", first, second)
	}
	if h.finalizes.Load() != 1 {
		t.Fatalf("expected 1 finalize call, got %d", h.finalizes.Load())
	}
	if h.published.count() != 1 {
		t.Fatalf("expected 1 reconciled event, got %d", h.published.count())
	}
}

func TestVNPayReturn_OtherSessionIsSkippedByLedger(t *testing.T) {
	h := newHarness(t, "")
	path := "/payment/vnpay-return?" + returnQuery("1001", "50000000", "00", "TX1").Encode()

	location(t, h.get(t, path, "s1"))
	loc := location(t, h.get(t, path, "s2"))

	if loc.Path != "/checkout/success" {
		t.Fatalf("expected success view, got %s", loc)
	}
	if h.finalizes.Load() != 1 {
		t.Fatalf("expected ledger to skip second finalize, got %d calls", h.finalizes.Load())
	}
}

func TestVNPayReturn_FailureKeepsCart(t *testing.T) {
	h := newHarness(t, "")
	_ = h.cart.Add(context.Background(), "s1", cart.Item{ProductID: "p1", Quantity: 1, Price: 1000})

	resp := h.get(t, "/payment/vnpay-return?"+returnQuery("1002", "100000", "24", "TX2").Encode(), "s1")
	loc := location(t, resp)

	if loc.Path != "/checkout/fail" {
		t.Fatalf("expected fail view, got %s", loc)
	}
	if loc.Query().Get("responseCode") != "24" || loc.Query().Get("message") != callback.MessageFor("24") {
		t.Fatalf("unexpected fail query %v", loc.Query())
	}
	items, _ := h.cart.Items(context.Background(), "s1")
	if len(items) != 1 {
		t.Fatalf("expected cart kept, got %v", items)
	}
}

func TestVNPayReturn_MissingOrderRoutesToError(t *testing.T) {
	h := newHarness(t, "")

	loc := location(t, h.get(t, "/payment/vnpay-return?"+returnQuery("", "100", "00", "TX3").Encode(), "s1"))

	if loc.Path != "/checkout/error" || loc.Query().Get("message") != reconcile.MessageOrderNotFound {
		t.Fatalf("unexpected error navigation %s", loc)
	}
	if h.finalizes.Load() != 0 {
		t.Fatalf("expected no finalize call, got %d", h.finalizes.Load())
	}
}

func TestVNPayReturn_Signature(t *testing.T) {
	h := newHarness(t, "secret")

	bad := returnQuery("1001", "50000000", "00", "TX1")
	bad.Set(callback.ParamSecureHash, "deadbeef")
	loc := location(t, h.get(t, "/payment/vnpay-return?"+bad.Encode(), "s1"))
	if loc.Path != "/checkout/error" || loc.Query().Get("message") != reconcile.MessageInvalidSignature {
		t.Fatalf("expected invalid signature navigation, got %s", loc)
	}
	if h.finalizes.Load() != 0 {
		t.Fatalf("expected no finalize call, got %d", h.finalizes.Load())
	}

	good := returnQuery("1001", "50000000", "00", "TX1")
	good.Set(callback.ParamSecureHash, callback.Sign(good, "secret"))
	loc = location(t, h.get(t, "/payment/vnpay-return?"+good.Encode(), "s1"))
	if loc.Path != "/checkout/success" {
		t.Fatalf("expected success navigation, got %s", loc)
	}
}

func TestVNPayReturn_IssuesSessionCookie(t *testing.T) {
	h := newHarness(t, "")

	resp := h.get(t, "/payment/vnpay-return?"+returnQuery("1001", "100", "00", "TX1").Encode(), "")

	var sid *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == SessionCookie {
			sid = c
		}
	}
	if sid == nil || sid.Value == "" || !sid.HttpOnly {
		t.Fatalf("expected http-only session cookie, got %v", resp.Cookies())
	}
}

func decodeError(t *testing.T, resp *http.Response) errorResponse {
	t.Helper()
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestFinalizeOrder(t *testing.T) {
	h := newHarness(t, "")
	payload := `{"orderId":"2001","amount":1000,"responseCode":"00","transactionId":"TX9","isSuccess":true}`

	resp := h.post(t, "/api/orders/finalize", payload)
	var first finalizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || first.Status != "finalized" || first.Order == nil || first.Order.Status != ledger.OrderStatusPaid {
		t.Fatalf("unexpected first response %d %+v", resp.StatusCode, first)
	}

	resp = h.post(t, "/api/orders/finalize", payload)
	var second finalizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || second.Status != "already_finalized" {
		t.Fatalf("unexpected second response %d %+v", resp.StatusCode, second)
	}
}

func TestFinalizeOrder_Validation(t *testing.T) {
	h := newHarness(t, "")

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid_json", body: `{"orderId":`},
		{name: "unknown_field", body: `{"orderId":"1","extra":true}`},
		{name: "trailing_value", body: `{"orderId":"1"}{}`},
		{name: "missing_order_id", body: `{"amount":10}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.post(t, "/api/orders/finalize", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
			if body := decodeError(t, resp); body.Status != "error" || body.Error.Kind != "bad_request" {
				t.Fatalf("unexpected body %+v", body)
			}
		})
	}
}

func TestGetOrder(t *testing.T) {
	h := newHarness(t, "")

	resp := h.get(t, "/api/orders/missing", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if body := decodeError(t, resp); body.Error.Kind != "not_found" {
		t.Fatalf("unexpected body %+v", body)
	}

	h.post(t, "/api/orders/finalize", `{"orderId":"3001","amount":5,"responseCode":"00","transactionId":"TX","isSuccess":true}`)
	resp = h.get(t, "/api/orders/3001", "")
	var order ledger.Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || order.OrderID != "3001" {
		t.Fatalf("unexpected order %d %+v", resp.StatusCode, order)
	}
}

func TestCartAPI(t *testing.T) {
	h := newHarness(t, "")

	req, _ := http.NewRequest(http.MethodPost, h.ts.URL+"/api/cart/items", bytes.NewBufferString(`{"productId":"p1","quantity":2,"price":100}`))
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "s9"})
	resp, err := h.client.Do(req)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	defer resp.Body.Close()

	var body cartResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || len(body.Items) != 1 || body.Total != 200 {
		t.Fatalf("unexpected cart %d %+v", resp.StatusCode, body)
	}

	resp = h.post(t, "/api/cart/items", `{"productId":"","quantity":1}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid item, got %d", resp.StatusCode)
	}
}

func TestCartAPI_NewSessionSeesOwnItems(t *testing.T) {
	h := newHarness(t, "")

	resp := h.post(t, "/api/cart/items", `{"productId":"p1","quantity":1,"price":10}`)
	var body cartResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Items) != 1 {
		t.Fatalf("expected item in freshly issued session, got %+v", body)
	}
}

func TestTerminalViews(t *testing.T) {
	h := newHarness(t, "")

	resp := h.get(t, "/checkout/fail?message=Giao+d%E1%BB%8Bch+b%E1%BB%8B+h%E1%BB%A7y&responseCode=24", "")
	raw, _ := io.ReadAll(resp.Body)
	page := string(raw)
	if resp.StatusCode != http.StatusOK || !strings.Contains(page, "Giao dịch bị hủy") || !strings.Contains(page, `href="/checkout"`) {
		t.Fatalf("unexpected fail page %d: %s", resp.StatusCode, page)
	}

	resp = h.get(t, "/checkout/success?amount=500000&orderId=1001&transactionId=TX1", "")
	raw, _ = io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "500000") || !strings.Contains(string(raw), "TX1") {
		t.Fatalf("unexpected success page: %s", raw)
	}

	resp = h.get(t, "/checkout/error", "")
	raw, _ = io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), reconcile.MessageOrderNotFound) {
		t.Fatalf("expected default error message: %s", raw)
	}

	resp = h.get(t, "/checkout/other", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown view, got %d", resp.StatusCode)
	}
}

func TestCheckoutPageShowsCart(t *testing.T) {
	h := newHarness(t, "")
	_ = h.cart.Add(context.Background(), "s1", cart.Item{ProductID: "p1", Quantity: 3, Price: 100})

	resp := h.get(t, "/checkout", "s1")
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), "300") {
		t.Fatalf("unexpected checkout page %d: %s", resp.StatusCode, raw)
	}
}

func TestLoggingSetsRequestID(t *testing.T) {
	var logged []string
	handler := Logging(func(format string, args ...any) {
		logged = append(logged, format)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))

	if rr.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
	if len(logged) != 1 {
		t.Fatalf("expected one log line, got %d", len(logged))
	}

	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "abc")
	handler.ServeHTTP(rr, req)
	if rr.Header().Get("X-Request-Id") != "abc" {
		t.Fatalf("expected inbound request id kept, got %q", rr.Header().Get("X-Request-Id"))
	}
}

type waiterFunc func(ctx context.Context) error

func (f waiterFunc) Wait(ctx context.Context) error { return f(ctx) }

func TestRateLimit(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	rr := httptest.NewRecorder()
	RateLimit(waiterFunc(func(context.Context) error { return context.Canceled }))(next).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusTooManyRequests || called {
		t.Fatalf("expected 429 without calling next, got %d called=%v", rr.Code, called)
	}

	rr = httptest.NewRecorder()
	RateLimit(nil)(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatalf("expected nil limiter to pass through")
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err    error
		kind   string
		status int
	}{
		{err: orders.ErrInvalidOrder, kind: "bad_request", status: http.StatusBadRequest},
		{err: cart.ErrInvalidItem, kind: "bad_request", status: http.StatusBadRequest},
		{err: ledger.ErrOrderNotFound, kind: "not_found", status: http.StatusNotFound},
		{err: context.DeadlineExceeded, kind: "timeout", status: http.StatusGatewayTimeout},
		{err: errors.New("boom"), kind: "internal", status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorKind(tt.err); got != tt.kind {
			t.Fatalf("errorKind(%v) = %q, want %q", tt.err, got, tt.kind)
		}
		if got := httpStatus(tt.err); got != tt.status {
			t.Fatalf("httpStatus(%v) = %d, want %d", tt.err, got, tt.status)
		}
	}
}

func TestNew_PanicsOnMissingDeps(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	New(Deps{})
}
