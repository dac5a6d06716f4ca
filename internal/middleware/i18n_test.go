package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

type assertError string

func (e assertError) Error() string { return string(e) }

func TestDetectLocale(t *testing.T) {
	tests := []struct {
		name     string
		xLocale  string
		accept   string
		fallback string
		country  string
		want     string
	}{
		{name: "x-locale wins over country", xLocale: "ID", country: "US", want: "id"},
		{name: "x-locale regional tag", xLocale: "id-ID", want: "id"},
		{name: "x-locale unparsable", xLocale: "!!", country: "ID", want: "en"},
		{name: "accept-language first choice", accept: "en-US,en;q=0.9", want: "en"},
		{name: "accept-language regional id", accept: "id-ID,en;q=0.8", want: "id"},
		{name: "q-values reorder to id", accept: "en;q=0.1, id;q=0.9", want: "id"},
		{name: "q-values reorder to en", accept: "id;q=0.2, en-GB;q=0.7", want: "en"},
		{name: "unsupported first choice skipped", accept: "fr-FR, id;q=0.5", want: "id"},
		{name: "country id", country: "ID", want: "id"},
		{name: "other country", country: "US", want: "en"},
		{name: "configured fallback", fallback: "id", want: "id"},
		{name: "default", want: "en"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.xLocale != "" {
				req.Header.Set("X-Locale", tc.xLocale)
			}
			if tc.accept != "" {
				req.Header.Set("Accept-Language", tc.accept)
			}
			if got := detectLocale(req, tc.fallback, tc.country); got != tc.want {
				t.Fatalf("detectLocale() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestI18NStoresLocaleAndCountry(t *testing.T) {
	var locale, country string
	h := I18N("en", func(ip string) (string, error) { return "id", nil })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale = LocaleFromContext(r.Context())
		country = CountryFromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if locale != "id" || country != "ID" {
		t.Fatalf("locale=%q country=%q", locale, country)
	}
}

func TestResolveCountry(t *testing.T) {
	lookupMY := func(ip string) (string, error) {
		if ip != "203.0.113.4" {
			return "", assertError("unexpected ip " + ip)
		}
		return "my", nil
	}
	tests := []struct {
		name    string
		headers map[string]string
		lookup  CountryLookup
		want    string
	}{
		{name: "edge header beats cdn header", headers: map[string]string{"X-Country-Code": "us", "CF-IPCountry": "id"}, want: "US"},
		{name: "cdn header", headers: map[string]string{"CF-IPCountry": "sg"}, lookup: lookupMY, want: "SG"},
		{name: "x-locale region", headers: map[string]string{"X-Locale": "en-AU"}, want: "AU"},
		{name: "accept-language region", headers: map[string]string{"Accept-Language": "en-GB,en;q=0.9"}, want: "GB"},
		{name: "bare id preference", headers: map[string]string{"Accept-Language": "en;q=0.1, id;q=0.9"}, want: "ID"},
		{name: "geoip lookup", lookup: lookupMY, want: "MY"},
		{name: "geoip error", lookup: func(string) (string, error) { return "", assertError("boom") }, want: ""},
		{name: "nothing known", want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "203.0.113.4:80"
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := ResolveCountry(req, tc.lookup); got != tc.want {
				t.Fatalf("ResolveCountry() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestContextDefaults(t *testing.T) {
	ctx := context.Background()
	if got := LocaleFromContext(ctx); got != "en" {
		t.Fatalf("default locale = %q", got)
	}
	if got := CountryFromContext(ctx); got != "" {
		t.Fatalf("default country = %q", got)
	}
	ctx = context.WithValue(ctx, LocaleKey, "id")
	if got := LocaleFromContext(ctx); got != "id" {
		t.Fatalf("stored locale = %q", got)
	}
}
