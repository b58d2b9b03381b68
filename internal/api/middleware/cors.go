package middleware

import (
	"net/http"
	"strings"
)

// corsPolicy holds the precomputed origin set for the CORS middleware.
type corsPolicy struct {
	allowAll bool
	origins  map[string]struct{}
}

// resolve returns the Access-Control-Allow-Origin value for a request
// origin, or "" when the origin is not allowed.
func (p corsPolicy) resolve(origin string) string {
	if origin == "" {
		return ""
	}
	if p.allowAll {
		return "*"
	}
	if _, ok := p.origins[origin]; ok {
		return origin
	}
	return ""
}

// CORS returns middleware that answers cross-origin requests for the
// listed origins. A "*" entry allows every origin. With an empty list
// no CORS headers are ever sent; preflight requests still get a 204 so
// browsers fail fast instead of timing out.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := corsPolicy{origins: make(map[string]struct{}, len(allowedOrigins))}
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		switch {
		case o == "*":
			policy.allowAll = true
		case o != "":
			policy.origins[o] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allow := policy.resolve(r.Header.Get("Origin")); allow != "" {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", allow)
				if allow != "*" {
					h.Set("Vary", "Origin")
				}
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Max-Age", "300")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ParseCORSOrigins splits a comma-separated origin list, dropping empty
// entries. Empty input returns nil.
func ParseCORSOrigins(raw string) []string {
	var origins []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
