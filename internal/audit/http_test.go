package audit

import (
	"net/http/httptest"
	"testing"
)

func TestRequestSource_ForwardedHeader(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/v1/settlements", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	r.Header.Set("User-Agent", "ledger-cli/1.0")

	src := RequestSource(r)
	if src.IP != "203.0.113.9" {
		t.Fatalf("expected first forwarded hop, got %q", src.IP)
	}
	if src.UserAgent != "ledger-cli/1.0" {
		t.Fatalf("unexpected user agent %q", src.UserAgent)
	}
}

func TestRequestSource_IgnoresGarbageHeaders(t *testing.T) {
	r := httptest.NewRequest("POST", "/api/v1/settlements", nil)
	r.Header.Set("X-Forwarded-For", "not-an-address")
	r.RemoteAddr = "192.0.2.4:51234"

	if src := RequestSource(r); src.IP != "192.0.2.4" {
		t.Fatalf("expected RemoteAddr host, got %q", src.IP)
	}
}

func TestRequestSource_RealIPFallback(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/settlements/1", nil)
	r.Header.Set("X-Real-IP", "2001:db8::1")

	if src := RequestSource(r); src.IP != "2001:db8::1" {
		t.Fatalf("expected real ip header, got %q", src.IP)
	}
}
