package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

func TestDomainStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidOrder, http.StatusBadRequest},
		{domain.ErrInvalidProof, http.StatusBadRequest},
		{domain.ErrBatchTooLarge, http.StatusBadRequest},
		{domain.ErrUnauthorized, http.StatusForbidden},
		{domain.ErrNotOrderOwner, http.StatusForbidden},
		{domain.ErrUnknownMarket, http.StatusNotFound},
		{domain.ErrAlreadyFilled, http.StatusConflict},
		{domain.ErrTradingPaused, http.StatusConflict},
		{domain.ErrInsufficientBalance, http.StatusConflict},
		{fmt.Errorf("pgx: connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := domainStatus(tc.err); got != tc.want {
			t.Errorf("domainStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}

	// Wrapped sentinels map the same as bare ones.
	wrapped := fmt.Errorf("engine: settle: %w", domain.ErrPriceNotCrossed)
	if got := domainStatus(wrapped); got != http.StatusBadRequest {
		t.Errorf("domainStatus(wrapped) = %d, want 400", got)
	}
}

func TestWriteDomainErrorHidesInternalDetail(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	req := httptest.NewRequest(http.MethodGet, "/api/fills", nil)
	rec := httptest.NewRecorder()

	writeDomainError(rec, logger, req, fmt.Errorf("pgx: dial tcp: secret-host refused"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := rec.Body.String(); body != `{"error":"internal server error"}` {
		t.Fatalf("body leaked detail: %s", body)
	}
}

func TestParseListOpts(t *testing.T) {
	cases := []struct {
		query              string
		wantLimit, wantOff int
	}{
		{"", 50, 0},
		{"?limit=10&offset=20", 10, 20},
		{"?limit=9999", 500, 0},
		{"?limit=-1&offset=-5", 50, 0},
		{"?limit=abc", 50, 0},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/api/fills"+tc.query, nil)
		opts := parseListOpts(r)
		if opts.Limit != tc.wantLimit || opts.Offset != tc.wantOff {
			t.Errorf("%q: got limit=%d offset=%d, want %d/%d",
				tc.query, opts.Limit, opts.Offset, tc.wantLimit, tc.wantOff)
		}
	}
}

func TestParseHashAndAddress(t *testing.T) {
	h, ok := parseHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	if !ok || h.Hex() != "0x1111111111111111111111111111111111111111111111111111111111111111" {
		t.Fatalf("parseHash: ok=%v hash=%s", ok, h.Hex())
	}
	if _, ok := parseHash("0x1111"); ok {
		t.Error("short hash accepted")
	}
	if _, ok := parseHash("zz"); ok {
		t.Error("non-hex hash accepted")
	}

	a, ok := parseAddress("0x00000000000000000000000000000000000000a3")
	if !ok || a != common.HexToAddress("0x00000000000000000000000000000000000000a3") {
		t.Fatalf("parseAddress: ok=%v addr=%s", ok, a.Hex())
	}
	if _, ok := parseAddress("0x1111111111111111111111111111111111111111111111111111111111111111"); ok {
		t.Error("hash-length address accepted")
	}
}
