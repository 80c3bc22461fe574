// Package callback turns the VNPay return redirect into a normalized payload.
//
// Parsing has no side effects; the response-code catalogue decides success.
package callback

import (
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Gateway query parameters read by Parse.
const (
	ParamTxnRef        = "vnp_TxnRef"
	ParamAmount        = "vnp_Amount"
	ParamResponseCode  = "vnp_ResponseCode"
	ParamTransactionNo = "vnp_TransactionNo"
	ParamSecureHash    = "vnp_SecureHash"
	ParamSecureHashTyp = "vnp_SecureHashType"
)

// amountScale is the factor VNPay applies to vnp_Amount (minor units).
const amountScale = 100

// Payload is the normalized gateway response for one callback.
type Payload struct {
	OrderID       string `json:"orderId"`
	Amount        int64  `json:"amount"`
	ResponseCode  string `json:"responseCode"`
	TransactionID string `json:"transactionId"`
	IsSuccess     bool   `json:"isSuccess"`
}

// HasOrder reports whether the callback identifies an order.
func (p Payload) HasOrder() bool {
	return p.OrderID != ""
}

// Parse extracts a Payload from the redirect query.
func Parse(q url.Values) Payload {
	code := strings.TrimSpace(q.Get(ParamResponseCode))
	if code == "" {
		code = UnknownCode
	}
	return Payload{
		OrderID:       strings.TrimSpace(q.Get(ParamTxnRef)),
		Amount:        parseAmount(q.Get(ParamAmount)),
		ResponseCode:  code,
		TransactionID: strings.TrimSpace(q.Get(ParamTransactionNo)),
		IsSuccess:     IsSuccessCode(code),
	}
}

func parseAmount(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if v < 0 {
			return 0
		}
		return v / amountScale
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return int64(f / amountScale)
}
