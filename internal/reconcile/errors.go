package reconcile

import (
	"context"
	"errors"
)

var (
	ErrMalformedCallback   = errors.New("malformed callback")
	ErrGatewayFailure      = errors.New("gateway reported failure")
	ErrBackendSync         = errors.New("backend sync failed")
	ErrDuplicateInvocation = errors.New("duplicate invocation")
)

// Kind classifies a reconciliation error for logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrMalformedCallback):
		return "malformed_callback"

	case errors.Is(err, ErrGatewayFailure):
		return "gateway_failure"

	case errors.Is(err, ErrBackendSync):
		return "backend_sync_failure"

	case errors.Is(err, ErrDuplicateInvocation):
		return "duplicate_invocation"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

func outcomeErr(o Outcome) error {
	switch o.Status {
	case StatusError:
		return ErrMalformedCallback
	case StatusFailed:
		return ErrGatewayFailure
	default:
		return nil
	}
}
