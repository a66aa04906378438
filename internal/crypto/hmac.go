package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names for HMAC-authenticated matcher requests.
const (
	HeaderAddress   = "CLEAR_ADDRESS"
	HeaderTimestamp = "CLEAR_TIMESTAMP"
	HeaderSignature = "CLEAR_SIGNATURE"
)

// maxTimestampSkew bounds how far a request timestamp may drift from server
// time before the request is rejected as a replay.
const maxTimestampSkew = 30 * time.Second

// HMACAuth holds the shared-secret credentials a matcher uses to
// authenticate API requests. The signature is
// HMAC-SHA256(secret, timestamp+method+path+body) encoded as base64.
type HMACAuth struct {
	Address string // matcher's hex address, echoed in CLEAR_ADDRESS
	Secret  string
}

// Headers returns the HTTP headers for an authenticated matcher request.
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)

	message := ts + method + path + body
	sig := hmacSHA256Base64([]byte(h.Secret), message)

	return map[string]string{
		HeaderAddress:   h.Address,
		HeaderTimestamp: ts,
		HeaderSignature: sig,
	}
}

// VerifyHMAC checks a request signature against the given secret. It rejects
// signatures whose timestamp is outside the allowed skew window.
func VerifyHMAC(secret, method, path, body, timestamp, signature string, now time.Time) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("crypto: invalid timestamp %q", timestamp)
	}

	drift := now.Sub(time.Unix(ts, 0))
	if drift < -maxTimestampSkew || drift > maxTimestampSkew {
		return fmt.Errorf("crypto: timestamp outside allowed window")
	}

	expected := hmacSHA256Base64([]byte(secret), timestamp+method+path+body)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return fmt.Errorf("crypto: signature mismatch")
	}
	return nil
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{address=%s, secret=%s}", h.Address, redact(h.Secret))
}
