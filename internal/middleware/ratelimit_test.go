package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIPForRateLimit(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		remoteAddr string
		want       string
	}{
		{name: "forwarded single", forwarded: "203.0.113.1", remoteAddr: "198.51.100.10:1234", want: "203.0.113.1"},
		{name: "forwarded chain uses first valid", forwarded: " , bogus, 203.0.113.7 , 198.51.100.2", remoteAddr: "198.51.100.10:1234", want: "203.0.113.7"},
		{name: "forwarded garbage", forwarded: "bogus", remoteAddr: "198.51.100.10:1234", want: "198.51.100.10"},
		{name: "no forwarded header", remoteAddr: "198.51.100.10:1234", want: "198.51.100.10"},
		{name: "forwarded ipv6", forwarded: "2001:db8::1", remoteAddr: net.JoinHostPort("2001:db8::2", "443"), want: "2001:db8::1"},
		{name: "remote ipv6", remoteAddr: net.JoinHostPort("2001:db8::2", "443"), want: "2001:db8::2"},
		{name: "remote without port", remoteAddr: "203.0.113.1", want: "203.0.113.1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/generations", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if got := clientIPForRateLimit(req); got != tc.want {
				t.Fatalf("clientIPForRateLimit() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRateLimitRejectsAfterBurst(t *testing.T) {
	h := RateLimit(2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/generations", nil)
		req.RemoteAddr = ip + ":4000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := send("203.0.113.1"); rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
	rec := send("203.0.113.1")
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected 429 with Retry-After, got %d %q", rec.Code, rec.Header().Get("Retry-After"))
	}
	if rec := send("203.0.113.2"); rec.Code != http.StatusNoContent {
		t.Fatalf("other client limited: %d", rec.Code)
	}
}

func TestRateLimitDisabledPassesThrough(t *testing.T) {
	h := RateLimit(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/generations", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
}
