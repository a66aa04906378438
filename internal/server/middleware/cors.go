package middleware

import (
	"net/http"
	"strings"

	"github.com/alanyoungcy/clearinghouse/internal/crypto"
)

// allowedHeaders lists the request headers the API accepts cross-origin:
// the usual auth headers plus the matcher HMAC headers, so browser-based
// matcher dashboards can call the settlement routes.
var allowedHeaders = strings.Join([]string{
	"Content-Type",
	"Authorization",
	"X-API-Key",
	crypto.HeaderAddress,
	crypto.HeaderTimestamp,
	crypto.HeaderSignature,
}, ", ")

// CORS returns middleware that sets CORS headers for the allowed origins
// and short-circuits preflight requests. If allowedOrigins is empty, all
// origins are allowed.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(allowedOrigins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
