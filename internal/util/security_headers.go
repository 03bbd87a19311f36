package util

import (
	"net/http"
	"strconv"
	"time"
)

// SecurityPolicy configures WithSecurityHeaders.
type SecurityPolicy struct {
	// HSTSMaxAge is advertised on HTTPS requests. Zero disables HSTS.
	HSTSMaxAge            time.Duration
	HSTSIncludeSubdomains bool
	// Trusted decides whose X-Forwarded-Proto is believed.
	Trusted *TrustedProxies
	// VaryOn names the request headers that select whose document a
	// response carries.
	VaryOn []string
}

func (p SecurityPolicy) hsts() string {
	if p.HSTSMaxAge <= 0 {
		return ""
	}
	v := "max-age=" + strconv.FormatInt(int64(p.HSTSMaxAge/time.Second), 10)
	if p.HSTSIncludeSubdomains {
		v += "; includeSubDomains"
	}
	return v
}

// WithSecurityHeaders adds the headers every syncd response carries. User
// documents are private to one identity, so responses are never stored by
// shared caches and vary on the identity headers.
func WithSecurityHeaders(policy SecurityPolicy, next http.Handler) http.Handler {
	hsts := policy.hsts()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Permissions-Policy", "geolocation=(), camera=(), microphone=()")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")
		h.Set("Cache-Control", "no-store")
		for _, name := range policy.VaryOn {
			h.Add("Vary", name)
		}
		if hsts != "" && ForwardedProto(r, policy.Trusted) == "https" {
			h.Set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}
