package httpapi

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"storefront/internal/observability"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Waiter blocks until a request may proceed. *orders.RateLimiter implements it.
type Waiter interface {
	Wait(ctx context.Context) error
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Hijack passes through to the underlying writer for websocket upgrades.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijack")
	}
	if r.status == 0 {
		r.status = http.StatusSwitchingProtocols
	}
	return h.Hijack()
}

// Logging tags each request with an X-Request-Id and logs one line per request.
func Logging(logf func(format string, args ...any)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-Id")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", requestID)

			start := time.Now()
			rec := &responseRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			logf("request_id=%s method=%s path=%s status=%d bytes=%d duration=%s",
				requestID,
				r.Method,
				r.URL.Path,
				rec.status,
				rec.bytes,
				time.Since(start),
			)
		})
	}
}

// Instrument records a metrics span per matched route. 5xx responses count
// as errors.
func Instrument(metrics *observability.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			span := metrics.Start(r.Method + " " + routeName(r))
			rec := &responseRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			var err error
			if rec.status >= http.StatusInternalServerError {
				err = errStatus(rec.status)
			}
			span.End(err)
		})
	}
}

// RateLimit delays requests until limiter admits them. A canceled wait
// answers 429.
func RateLimit(limiter Waiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter != nil {
				if err := limiter.Wait(r.Context()); err != nil {
					writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

type errStatus int

func (e errStatus) Error() string {
	return http.StatusText(int(e))
}
