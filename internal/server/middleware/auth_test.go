package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/crypto"
)

func TestAuthBearerAndAPIKey(t *testing.T) {
	handler := Auth("sekrit")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"no token", nil, http.StatusUnauthorized},
		{"bearer ok", map[string]string{"Authorization": "Bearer sekrit"}, http.StatusNoContent},
		{"bearer wrong", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"x-api-key ok", map[string]string{"X-API-Key": "sekrit"}, http.StatusNoContent},
		{"x-api-key wrong", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/fills", nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestAuthDisabledWhenKeyEmpty(t *testing.T) {
	handler := Auth("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/fills", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

var testMatcher = common.HexToAddress("0x00000000000000000000000000000000000000a3")

func matcherAuthHandler(t *testing.T, now time.Time) (http.Handler, *common.Address) {
	t.Helper()

	secretFor := func(addr common.Address) (string, bool) {
		if addr == testMatcher {
			return "topsecret", true
		}
		return "", false
	}

	var seen common.Address
	mw := MatcherAuth(secretFor, func() time.Time { return now })
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, ok := MatcherAddress(r.Context())
		if !ok {
			t.Error("matcher address missing from context")
		}
		seen = addr

		// The signed body must still be readable by the handler.
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		if string(body) != `{"a":1}` {
			t.Errorf("body = %q", body)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	return h, &seen
}

func signedRequest(path, body string, ts int64) *http.Request {
	auth := &crypto.HMACAuth{Address: testMatcher.Hex(), Secret: "topsecret"}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for k, v := range auth.HeadersAt(http.MethodPost, path, body, ts) {
		req.Header.Set(k, v)
	}
	return req
}

func TestMatcherAuthAccepts(t *testing.T) {
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	handler, seen := matcherAuthHandler(t, now)

	req := signedRequest("/api/settlements/matched", `{"a":1}`, now.Unix())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if *seen != testMatcher {
		t.Fatalf("context address = %s", seen.Hex())
	}
}

func TestMatcherAuthRejects(t *testing.T) {
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	handler, _ := matcherAuthHandler(t, now)

	t.Run("missing headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/settlements/matched", strings.NewReader(`{"a":1}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("unknown matcher", func(t *testing.T) {
		other := &crypto.HMACAuth{
			Address: "0x00000000000000000000000000000000000000bb",
			Secret:  "topsecret",
		}
		req := httptest.NewRequest(http.MethodPost, "/api/settlements/matched", strings.NewReader(`{"a":1}`))
		for k, v := range other.HeadersAt(http.MethodPost, "/api/settlements/matched", `{"a":1}`, now.Unix()) {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		req := signedRequest("/api/settlements/matched", `{"a":1}`, now.Unix())
		req.Body = io.NopCloser(strings.NewReader(`{"a":2}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("stale timestamp", func(t *testing.T) {
		req := signedRequest("/api/settlements/matched", `{"a":1}`, now.Add(-2*time.Minute).Unix())
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})
}
