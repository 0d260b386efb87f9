package middleware

import (
	"net/http"
)

// SecurityHeaders adds security-related HTTP headers
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// uncacheable are the headers for conversion responses. Their download URLs
// point at files the sweeper removes, so neither browsers nor proxies may
// keep a copy.
var uncacheable = [][2]string{
	{"Cache-Control", "no-store, max-age=0"},
	{"Pragma", "no-cache"},
}

// NoCache marks conversion results and tool diagnostics as uncacheable.
func NoCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range uncacheable {
			h.Set(kv[0], kv[1])
		}
		next.ServeHTTP(w, r)
	})
}
