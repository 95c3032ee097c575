package middlewares

import (
	"encoding/json"
	"net/http"

	"github.com/dropDatabas3/idlink/internal/observability/logger"
)

// WithRecover atrapa pánicos del handler y responde 500.
func WithRecover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					rid := w.Header().Get("X-Request-ID")
					logger.L().Error("panic recovered",
						logger.RequestID(rid),
						logger.Path(r.URL.Path),
					)
					w.Header().Set("Content-Type", "application/json; charset=utf-8")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"error":      "internal_error",
						"request_id": rid,
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
