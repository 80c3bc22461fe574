// Package httpapi serves the VNPay return endpoint together with the order
// and cart API it depends on.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"storefront/internal/callback"
	"storefront/internal/cart"
	"storefront/internal/observability"
	"storefront/internal/orders/ledger"
	"storefront/internal/reconcile"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// CheckoutBase prefixes the terminal view paths.
const CheckoutBase = "/checkout"

const maxBodyBytes = 1 << 20

type reconciler interface {
	Run(ctx context.Context, m *reconcile.Mount, sessionID string, p callback.Payload, nav reconcile.Navigator) reconcile.Result
}

type orderService interface {
	Finalize(ctx context.Context, p callback.Payload) (ledger.Order, bool, error)
	Get(ctx context.Context, orderID string) (ledger.Order, error)
}

// Deps wires a Server. Reconciler, Mounts, Orders and Cart are required.
type Deps struct {
	Reconciler     reconciler
	Mounts         *reconcile.MountTable
	Orders         orderService
	Cart           cart.Store
	Feed           http.Handler
	Metrics        *observability.Metrics
	Limiter        Waiter
	HashSecret     string
	AllowedOrigins []string
	SecureCookies  bool
	Logf           func(format string, args ...any)
}

// Server serves the storefront HTTP API.
type Server struct {
	reconciler     reconciler
	mounts         *reconcile.MountTable
	orders         orderService
	cart           cart.Store
	feed           http.Handler
	metrics        *observability.Metrics
	limiter        Waiter
	hashSecret     string
	allowedOrigins []string
	secureCookies  bool
	views          *views
	logf           func(format string, args ...any)
}

// New returns a Server. It panics if a required dependency is nil.
func New(d Deps) *Server {
	switch {
	case d.Reconciler == nil:
		panic("httpapi.New: nil reconciler")
	case d.Mounts == nil:
		panic("httpapi.New: nil mount table")
	case d.Orders == nil:
		panic("httpapi.New: nil order service")
	case d.Cart == nil:
		panic("httpapi.New: nil cart store")
	}
	v, err := loadViews()
	if err != nil {
		panic(err)
	}
	logf := d.Logf
	if logf == nil {
		logf = log.Printf
	}
	return &Server{
		reconciler:     d.Reconciler,
		mounts:         d.Mounts,
		orders:         d.Orders,
		cart:           d.Cart,
		feed:           d.Feed,
		metrics:        d.Metrics,
		limiter:        d.Limiter,
		hashSecret:     d.HashSecret,
		allowedOrigins: d.AllowedOrigins,
		secureCookies:  d.SecureCookies,
		views:          v,
		logf:           logf,
	}
}

// Router builds the full handler chain.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(Instrument(s.metrics))

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.feed != nil {
		r.Handle("/admin/ws", s.feed)
	}

	api := r.NewRoute().Subrouter()
	api.Use(RateLimit(s.limiter))
	api.HandleFunc("/payment/vnpay-return", s.handleVNPayReturn).Methods(http.MethodGet)
	api.HandleFunc(CheckoutBase, s.handleCheckout).Methods(http.MethodGet)
	api.HandleFunc(CheckoutBase+"/{view:success|fail|error}", s.handleTerminalView).Methods(http.MethodGet)
	api.HandleFunc("/api/orders/finalize", s.handleFinalizeOrder).Methods(http.MethodPost)
	api.HandleFunc("/api/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/api/cart", s.handleGetCart).Methods(http.MethodGet)
	api.HandleFunc("/api/cart/items", s.handleAddCartItem).Methods(http.MethodPost)

	var h http.Handler = r
	if len(s.allowedOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins:   s.allowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost},
			AllowedHeaders:   []string{"Content-Type", "X-Request-Id"},
			AllowCredentials: true,
		}).Handler(h)
	}
	return Logging(s.logf)(h)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleVNPayReturn reconciles one gateway redirect and answers with a
// single 303 to the terminal view.
func (s *Server) handleVNPayReturn(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sid := s.session(w, r)

	if s.hashSecret != "" {
		if err := callback.Verify(q, s.hashSecret); err != nil {
			s.logf("vnpay return rejected order_id=%s: %v", q.Get(callback.ParamTxnRef), err)
			nav := reconcile.Target(reconcile.Errored(reconcile.MessageInvalidSignature))
			http.Redirect(w, r, nav.Path(CheckoutBase), http.StatusSeeOther)
			return
		}
	}

	p := callback.Parse(q)
	key := reconcile.MountKey(sid, p)
	m := s.mounts.Mount(key)
	stop := context.AfterFunc(r.Context(), func() { s.mounts.Release(m) })
	defer stop()

	var target string
	res := s.reconciler.Run(r.Context(), m, sid, p, reconcile.NavigatorFunc(func(nav reconcile.Navigation) {
		target = nav.Path(CheckoutBase)
	}))
	if res.Discarded {
		return
	}
	if err := res.Err(); err != nil && !errors.Is(err, reconcile.ErrGatewayFailure) {
		s.logf("vnpay return order_id=%s kind=%s: %v", p.OrderID, reconcile.Kind(err), err)
	}
	if target == "" {
		target = res.Navigation.Path(CheckoutBase)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Server) handleTerminalView(w http.ResponseWriter, r *http.Request) {
	s.views.render(w, http.StatusOK, terminalPage(mux.Vars(r)["view"], r))
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	sid := s.session(w, r)
	items, err := s.cart.Items(r.Context(), sid)
	if err != nil {
		s.logf("load cart session=%s: %v", sid, err)
		http.Error(w, "cart unavailable", http.StatusInternalServerError)
		return
	}
	s.views.render(w, http.StatusOK, pageData{View: checkoutView, Items: items, Total: cart.Total(items)})
}

type finalizeResponse struct {
	Status string        `json:"status"`
	Order  *ledger.Order `json:"order,omitempty"`
}

func (s *Server) handleFinalizeOrder(w http.ResponseWriter, r *http.Request) {
	var p callback.Payload
	if !decodeJSON(w, r, &p) {
		return
	}
	if p.OrderID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "orderId is required")
		return
	}

	order, already, err := s.orders.Finalize(r.Context(), p)
	if err != nil {
		s.logf("finalize order_id=%s key=%s: %v", p.OrderID, r.Header.Get("Idempotency-Key"), err)
		writeError(w, httpStatus(err), errorKind(err), "finalize failed")
		return
	}
	status := "finalized"
	if already {
		status = "already_finalized"
	}
	writeJSON(w, http.StatusOK, finalizeResponse{Status: status, Order: &order})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if !errors.Is(err, ledger.ErrOrderNotFound) {
			s.logf("get order: %v", err)
		}
		writeError(w, httpStatus(err), errorKind(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type cartResponse struct {
	Items []cart.Item `json:"items"`
	Total int64       `json:"total"`
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	s.writeCart(w, r, s.session(w, r))
}

func (s *Server) writeCart(w http.ResponseWriter, r *http.Request, sid string) {
	items, err := s.cart.Items(r.Context(), sid)
	if err != nil {
		s.logf("load cart session=%s: %v", sid, err)
		writeError(w, http.StatusInternalServerError, errorKind(err), "cart unavailable")
		return
	}
	writeJSON(w, http.StatusOK, cartResponse{Items: items, Total: cart.Total(items)})
}

func (s *Server) handleAddCartItem(w http.ResponseWriter, r *http.Request) {
	sid := s.session(w, r)
	var item cart.Item
	if !decodeJSON(w, r, &item) {
		return
	}
	if err := s.cart.Add(r.Context(), sid, item); err != nil {
		writeError(w, httpStatus(err), errorKind(err), err.Error())
		return
	}
	s.writeCart(w, r, sid)
}

// decodeJSON reads exactly one JSON value into v, answering 400 otherwise.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON")
		return false
	}
	return true
}
