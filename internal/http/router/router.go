// Package router arma el router HTTP del servicio.
package router

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpx "github.com/dropDatabas3/idlink/internal/http"
	"github.com/dropDatabas3/idlink/internal/http/handlers"
	mw "github.com/dropDatabas3/idlink/internal/http/middlewares"
)

// Deps contiene las dependencias del router.
type Deps struct {
	OIDC *handlers.OIDCDeps

	// Ping verifica la salud del storage. Opcional.
	Ping func(ctx context.Context) error
}

// New construye el router con el middleware chain estándar:
// recover -> request id -> logging.
func New(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if deps.Ping != nil {
			if err := deps.Ping(req.Context()); err != nil {
				httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	if deps.OIDC != nil {
		handlers.NewOIDC(*deps.OIDC).Register(r)
	}

	return mw.Chain(r,
		mw.WithRecover(),
		mw.WithRequestID(),
		mw.WithLogging(),
	)
}
