package middleware

import (
	"bytes"
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/crypto"
)

// Auth returns middleware that validates API requests using either a Bearer
// token in the Authorization header or a static key in the X-API-Key header.
// If apiKey is empty, the middleware passes all requests through (disabled).
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// If no API key is configured, authentication is disabled.
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}

			// Constant-time comparison to prevent timing attacks.
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				writeUnauthorized(w, "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	// Check Authorization: Bearer <token>
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	// Check X-API-Key header.
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}

	return ""
}

// contextKey is the private type for request-context values set by this
// package.
type contextKey string

// matcherAddressKey carries the authenticated matcher's address.
const matcherAddressKey contextKey = "matcher_address"

// MatcherAddress returns the matcher address placed in the context by
// MatcherAuth. The second return is false if the request did not pass
// through MatcherAuth.
func MatcherAddress(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(matcherAddressKey).(common.Address)
	return addr, ok
}

// maxSignedBodySize bounds how much of a matcher request body is read for
// signature verification.
const maxSignedBodySize = 1 << 20 // 1 MiB

// MatcherAuth returns middleware that authenticates matcher requests using
// the HMAC scheme from the crypto package: the caller identifies itself via
// CLEAR_ADDRESS and signs timestamp+method+path+body with its shared secret.
// secretFor resolves a matcher address to its secret; unknown addresses are
// rejected. On success the matcher address is attached to the request
// context for the handler.
func MatcherAuth(secretFor func(common.Address) (string, bool), now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addrHex := r.Header.Get(crypto.HeaderAddress)
			timestamp := r.Header.Get(crypto.HeaderTimestamp)
			signature := r.Header.Get(crypto.HeaderSignature)
			if addrHex == "" || timestamp == "" || signature == "" {
				writeUnauthorized(w, "missing matcher authentication headers")
				return
			}
			if !common.IsHexAddress(addrHex) {
				writeUnauthorized(w, "invalid matcher address")
				return
			}
			addr := common.HexToAddress(addrHex)

			secret, ok := secretFor(addr)
			if !ok {
				writeUnauthorized(w, "unknown matcher")
				return
			}

			// The body is part of the signed message; read it fully and put
			// it back for the handler.
			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodySize))
			if err != nil {
				writeUnauthorized(w, "unreadable request body")
				return
			}
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			if err := crypto.VerifyHMAC(secret, r.Method, r.URL.Path, string(body), timestamp, signature, now()); err != nil {
				writeUnauthorized(w, "matcher authentication failed")
				return
			}

			ctx := context.WithValue(r.Context(), matcherAddressKey, addr)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
