package middleware

import (
	"net/http"
	"strconv"
	"time"
)

// RequestObserver receives one observation per completed HTTP request.
type RequestObserver interface {
	ObserveRequest(method, path, status string, took time.Duration)
}

// Metrics returns middleware that records request duration histograms.
func Metrics(obs RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			next.ServeHTTP(rw, r)

			obs.ObserveRequest(r.Method, r.URL.Path, strconv.Itoa(rw.statusCode), time.Since(start))
		})
	}
}
