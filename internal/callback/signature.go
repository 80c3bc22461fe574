package callback

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strings"
)

var (
	// ErrMissingSignature is returned when vnp_SecureHash is absent.
	ErrMissingSignature = errors.New("callback signature missing")
	// ErrInvalidSignature is returned when vnp_SecureHash does not match.
	ErrInvalidSignature = errors.New("callback signature invalid")
)

// Sign computes the hex HMAC-SHA512 VNPay expects over the vnp_* fields.
func Sign(q url.Values, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(canonicalQuery(q)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks vnp_SecureHash against the configured hash secret.
func Verify(q url.Values, secret string) error {
	got := strings.TrimSpace(q.Get(ParamSecureHash))
	if got == "" {
		return ErrMissingSignature
	}
	want := Sign(q, secret)
	if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
		return ErrInvalidSignature
	}
	return nil
}

// canonicalQuery sorts vnp_* keys and joins url-encoded pairs, skipping
// the hash fields themselves and empty values.
func canonicalQuery(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		if !strings.HasPrefix(k, "vnp_") || k == ParamSecureHash || k == ParamSecureHashTyp {
			continue
		}
		if q.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(q.Get(k)))
	}
	return b.String()
}
