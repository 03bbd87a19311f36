package util

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func serveWithPolicy(policy SecurityPolicy, req *http.Request) *httptest.ResponseRecorder {
	h := WithSecurityHeaders(policy, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWithSecurityHeadersMarksDocumentsPrivate(t *testing.T) {
	policy := SecurityPolicy{HSTSMaxAge: time.Hour, VaryOn: []string{"Authorization", "X-Guest-Id"}}
	rec := serveWithPolicy(policy, httptest.NewRequest(http.MethodGet, "/api/me", nil))

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options mismatch: %q", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("Cache-Control mismatch: %q", got)
	}
	vary := rec.Header().Values("Vary")
	if len(vary) != 2 || vary[0] != "Authorization" || vary[1] != "X-Guest-Id" {
		t.Fatalf("Vary mismatch: %v", vary)
	}
	if got := rec.Header().Get("Content-Security-Policy"); got == "" {
		t.Fatalf("expected CSP header")
	}
	if got := rec.Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("did not expect HSTS for plain http, got %q", got)
	}
}

func TestWithSecurityHeadersHSTS(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}
	policy := SecurityPolicy{HSTSMaxAge: 24 * time.Hour, HSTSIncludeSubdomains: true, Trusted: trusted}

	tests := []struct {
		name   string
		remote string
		proto  string
		tls    bool
		policy SecurityPolicy
		want   string
	}{
		{name: "direct tls", remote: "198.51.100.1:443", tls: true, policy: policy, want: "max-age=86400; includeSubDomains"},
		{name: "trusted proxy asserts https", remote: "10.1.2.3:80", proto: "https", policy: policy, want: "max-age=86400; includeSubDomains"},
		{name: "untrusted peer cannot assert https", remote: "198.51.100.1:80", proto: "https", policy: policy},
		{name: "zero max age disables", remote: "198.51.100.1:443", tls: true, policy: SecurityPolicy{}},
		{name: "subdomains off", remote: "198.51.100.1:443", tls: true, policy: SecurityPolicy{HSTSMaxAge: time.Minute}, want: "max-age=60"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			req.RemoteAddr = tc.remote
			if tc.proto != "" {
				req.Header.Set("X-Forwarded-Proto", tc.proto)
			}
			if tc.tls {
				req.TLS = &tls.ConnectionState{}
			}
			rec := serveWithPolicy(tc.policy, req)
			if got := rec.Header().Get("Strict-Transport-Security"); got != tc.want {
				t.Fatalf("HSTS = %q, want %q", got, tc.want)
			}
		})
	}
}
