package server

import "net/http"

// developmentHeaders are set on every dev server response. They stay
// permissive enough for wasm and module scripts served from the same origin.
var developmentHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "SAMEORIGIN",
	"Referrer-Policy":        "same-origin",
	"Cache-Control":          "no-cache",
}

// securityHeaders applies developmentHeaders before next runs. Handlers may
// still override individual headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for name, value := range developmentHeaders {
			w.Header().Set(name, value)
		}
		next.ServeHTTP(w, r)
	})
}
