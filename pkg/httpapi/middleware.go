package httpapi

import (
	"net/http"
	"strings"

	"fleetpulse/pkg/config"
)

// corsMiddleware applies the permissive CORS policy: a request whose
// Origin appears in AllowedOrigins gets that origin echoed back, every
// other request gets "*".
func corsMiddleware(cfg config.CORSConfig) func(http.Handler) http.Handler {
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := "*"
			for _, o := range cfg.AllowedOrigins {
				if o != "*" && o == r.Header.Get("Origin") {
					origin = o
					break
				}
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", headers)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
