// Package reconcile decides the shopper-facing result of a payment callback
// and runs the finalize-and-clear-cart sequence at most once per mount.
package reconcile

import (
	"net/url"
	"strconv"

	"storefront/internal/callback"
)

// MessageOrderNotFound is shown when the callback carries no order id.
const MessageOrderNotFound = "Không tìm thấy thông tin đơn hàng"

// MessageInvalidSignature is shown when the callback hash does not verify.
const MessageInvalidSignature = "Chữ ký không hợp lệ"

// Status tags the Outcome variant.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusError      Status = "error"
)

// Outcome is the reconciled result. Which fields are set depends on Status:
// Success has OrderID, Amount and TransactionID; Failed has OrderID, Message
// and ResponseCode; Error has Message.
type Outcome struct {
	Status        Status `json:"status"`
	OrderID       string `json:"orderId,omitempty"`
	Amount        int64  `json:"amount,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	Message       string `json:"message,omitempty"`
	ResponseCode  string `json:"responseCode,omitempty"`
}

// Processing is the only non-terminal outcome.
func Processing() Outcome { return Outcome{Status: StatusProcessing} }

// Success builds the Success variant.
func Success(orderID string, amount int64, transactionID string) Outcome {
	return Outcome{Status: StatusSuccess, OrderID: orderID, Amount: amount, TransactionID: transactionID}
}

// Failed builds the Failed variant.
func Failed(orderID, message, responseCode string) Outcome {
	return Outcome{Status: StatusFailed, OrderID: orderID, Message: message, ResponseCode: responseCode}
}

// Errored builds the Error variant.
func Errored(message string) Outcome {
	return Outcome{Status: StatusError, Message: message}
}

// Terminal reports whether no further transition is allowed.
func (o Outcome) Terminal() bool {
	switch o.Status {
	case StatusSuccess, StatusFailed, StatusError:
		return true
	default:
		return false
	}
}

// Route maps a payload to its outcome. The gateway signal is authoritative,
// so finalizeAttempted never changes the mapping; it is accepted so callers
// route the same way before and after the backend call.
func Route(p callback.Payload, finalizeAttempted bool) Outcome {
	switch {
	case !p.HasOrder():
		return Errored(MessageOrderNotFound)
	case p.IsSuccess:
		return Success(p.OrderID, p.Amount, p.TransactionID)
	default:
		return Failed(p.OrderID, callback.MessageFor(p.ResponseCode), p.ResponseCode)
	}
}

// View names one of the terminal checkout pages.
type View string

const (
	ViewSuccess View = "success"
	ViewFail    View = "fail"
	ViewError   View = "error"
)

// Navigation is a redirect to a terminal view with flat query parameters.
type Navigation struct {
	View  View
	Query url.Values
}

// Path returns the view path under base, e.g. "/checkout/success?...".
func (n Navigation) Path(base string) string {
	p := base + "/" + string(n.View)
	if len(n.Query) == 0 {
		return p
	}
	return p + "?" + n.Query.Encode()
}

// Target picks the view and parameters for a terminal outcome.
func Target(o Outcome) Navigation {
	switch o.Status {
	case StatusSuccess:
		return Navigation{View: ViewSuccess, Query: url.Values{
			"orderId":       {o.OrderID},
			"amount":        {strconv.FormatInt(o.Amount, 10)},
			"transactionId": {o.TransactionID},
		}}
	case StatusFailed:
		return Navigation{View: ViewFail, Query: url.Values{
			"message":      {o.Message},
			"responseCode": {o.ResponseCode},
		}}
	default:
		msg := o.Message
		if msg == "" {
			msg = MessageOrderNotFound
		}
		return Navigation{View: ViewError, Query: url.Values{"message": {msg}}}
	}
}

// Navigator performs the single navigation of a reconciliation.
type Navigator interface {
	Navigate(nav Navigation)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(Navigation)

// Navigate calls f(nav).
func (f NavigatorFunc) Navigate(nav Navigation) { f(nav) }
