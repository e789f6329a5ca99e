// Package httpsign provides the signed-REST-with-retry primitive shared by
// every venue adapter: a pre-configured resty client and an HMAC-SHA256
// query/body signer. Each venue's wire format for what gets signed differs,
// so adapters compose this package rather than it dictating a shape.
package httpsign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

// RetryCount mirrors the original three-attempt retry loop every exchange
// call in the Python client performed around transient connection errors.
const RetryCount = 3

// NewClient returns a resty client pre-configured with the venue's base
// URL, a bounded timeout, and a retry policy that repeats on connection
// errors and 5xx responses — the Go-idiomatic replacement for the
// original's hand-rolled `while counter < RETRY_COUNT` loops. resty counts
// retries after the first attempt, so RetryCount-1 retries make
// RetryCount attempts in all.
func NewClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(RetryCount - 1).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})
}

// SignQuery HMAC-SHA256-signs a URL-encoded query string with secret and
// returns the hex digest, matching Binance's urlencode(params)-then-sign
// convention.
func SignQuery(secret string, params url.Values) string {
	return SignString(secret, params.Encode())
}

// SignString HMAC-SHA256-signs an arbitrary payload with secret and
// returns the hex digest.
func SignString(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// TimestampMs returns the current wall-clock time in Unix milliseconds,
// the timestamp both venues require in every signed request.
func TimestampMs(now time.Time) int64 {
	return now.UnixMilli()
}
