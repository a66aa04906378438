package crypto

import (
	"strings"
	"testing"
	"time"
)

func TestHMACRoundTrip(t *testing.T) {
	auth := &HMACAuth{Address: "0xabc", Secret: "topsecret"}
	now := time.Date(2026, time.January, 2, 12, 0, 0, 0, time.UTC)

	headers := auth.HeadersAt("POST", "/api/settlements", `{"a":1}`, now.Unix())

	err := VerifyHMAC("topsecret", "POST", "/api/settlements", `{"a":1}`,
		headers[HeaderTimestamp], headers[HeaderSignature], now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	// Wrong secret, wrong body, wrong path all fail.
	cases := []struct {
		secret, method, path, body string
	}{
		{"other", "POST", "/api/settlements", `{"a":1}`},
		{"topsecret", "POST", "/api/settlements", `{"a":2}`},
		{"topsecret", "POST", "/api/claims", `{"a":1}`},
		{"topsecret", "GET", "/api/settlements", `{"a":1}`},
	}
	for i, c := range cases {
		err := VerifyHMAC(c.secret, c.method, c.path, c.body,
			headers[HeaderTimestamp], headers[HeaderSignature], now)
		if err == nil {
			t.Fatalf("case %d: tampered request verified", i)
		}
	}
}

func TestHMACTimestampWindow(t *testing.T) {
	auth := &HMACAuth{Address: "0xabc", Secret: "s"}
	now := time.Date(2026, time.January, 2, 12, 0, 0, 0, time.UTC)

	headers := auth.HeadersAt("GET", "/health", "", now.Unix())

	if err := VerifyHMAC("s", "GET", "/health", "", headers[HeaderTimestamp], headers[HeaderSignature], now.Add(29*time.Second)); err != nil {
		t.Fatalf("within window: %v", err)
	}
	if err := VerifyHMAC("s", "GET", "/health", "", headers[HeaderTimestamp], headers[HeaderSignature], now.Add(31*time.Second)); err == nil {
		t.Fatal("stale timestamp accepted")
	}
	if err := VerifyHMAC("s", "GET", "/health", "", "not-a-number", headers[HeaderSignature], now); err == nil {
		t.Fatal("garbage timestamp accepted")
	}
}

func TestHMACAuthStringRedactsSecret(t *testing.T) {
	auth := &HMACAuth{Address: "0xabc", Secret: "supersecretvalue"}
	s := auth.String()
	if strings.Contains(s, "supersecretvalue") {
		t.Fatalf("secret leaked: %s", s)
	}
	if !strings.Contains(s, "supe****") {
		t.Fatalf("unexpected redaction: %s", s)
	}
}
