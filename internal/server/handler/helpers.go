// Package handler contains the HTTP handlers for the clearing API. Handlers
// declare the service methods they need as local interfaces so the package
// never depends on concrete service implementations.
package handler

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a clearing sentinel to an HTTP status and writes the
// sentinel text as the error body. Unrecognized errors become a 500 with a
// generic message; the detail goes to the log, not the client.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	status := domainStatus(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

// domainStatus maps domain sentinels to HTTP status codes. Validation
// problems are 400s, authorization 403s, state conflicts 409s.
func domainStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidOrder),
		errors.Is(err, domain.ErrOrderExpired),
		errors.Is(err, domain.ErrBadSignature),
		errors.Is(err, domain.ErrOrderMismatch),
		errors.Is(err, domain.ErrSideMismatch),
		errors.Is(err, domain.ErrPriceNotCrossed),
		errors.Is(err, domain.ErrZeroPayment),
		errors.Is(err, domain.ErrInvalidEpoch),
		errors.Is(err, domain.ErrInvalidProof),
		errors.Is(err, domain.ErrOutcomeCountMismatch),
		errors.Is(err, domain.ErrLengthMismatch),
		errors.Is(err, domain.ErrFeeTooHigh),
		errors.Is(err, domain.ErrBatchTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrNotOrderOwner):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrUnknownMarket):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyFilled),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientInventory),
		errors.Is(err, domain.ErrInsufficientRoom),
		errors.Is(err, domain.ErrInsufficientPool),
		errors.Is(err, domain.ErrMarketClosed),
		errors.Is(err, domain.ErrMarketNotReady),
		errors.Is(err, domain.ErrTradingPaused),
		errors.Is(err, domain.ErrNotResolved),
		errors.Is(err, domain.ErrAlreadyResolved),
		errors.Is(err, domain.ErrZeroBalance),
		errors.Is(err, domain.ErrNoValidClaims),
		errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// parseHash parses a 0x-prefixed 32-byte hex string.
func parseHash(s string) (common.Hash, bool) {
	b, err := hexBytes(s, common.HashLength)
	if err != nil {
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

// parseAddress parses a 0x-prefixed 20-byte hex string.
func parseAddress(s string) (common.Address, bool) {
	b, err := hexBytes(s, common.AddressLength)
	if err != nil {
		return common.Address{}, false
	}
	return common.BytesToAddress(b), true
}

// hexBytes decodes an optionally 0x-prefixed hex string and checks its length.
func hexBytes(s string, wantLen int) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != wantLen {
		return nil, errors.New("handler: unexpected hex length")
	}
	return b, nil
}
