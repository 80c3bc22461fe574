package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"storefront/internal/cart"
	"storefront/internal/orders"
	"storefront/internal/orders/ledger"
)

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Status string       `json:"status"`
	Error  errorPayload `json:"error"`
}

var kindToStatus = map[string]int{
	"bad_request": http.StatusBadRequest,
	"not_found":   http.StatusNotFound,
	"timeout":     http.StatusGatewayTimeout,
	"canceled":    http.StatusRequestTimeout,
}

func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, orders.ErrInvalidOrder),
		errors.Is(err, cart.ErrSessionRequired),
		errors.Is(err, cart.ErrInvalidItem):
		return "bad_request"
	case errors.Is(err, ledger.ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}

func httpStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if s, ok := kindToStatus[errorKind(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorResponse{
		Status: "error",
		Error:  errorPayload{Kind: kind, Message: message},
	})
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
