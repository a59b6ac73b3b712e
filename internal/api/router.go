package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sungwon/notification-relay/internal/auth"
)

// RouterConfig holds the optional control surface settings.
type RouterConfig struct {
	// APIKeyHash, when set, puts POST /send behind bearer key authentication.
	APIKeyHash string
	// CORSOrigins lists the origins allowed to call the API from a browser.
	// "*" allows any origin; an empty list disables CORS headers.
	CORSOrigins []string
}

// NewRouter creates a chi.Mux with the control surface routes and middleware.
func NewRouter(svc sender, db databaseChecker, broker brokerChecker, rc RouterConfig, log zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	if len(rc.CORSOrigins) > 0 {
		r.Use(corsHandler(rc.CORSOrigins))
	}
	r.Use(CorrelationIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(MetricsMiddleware)
	r.Use(RecoverMiddleware(log))

	r.Get("/", BannerHandler())
	r.Group(func(r chi.Router) {
		if rc.APIKeyHash != "" {
			r.Use(auth.BearerAuth(auth.HashVerifier(rc.APIKeyHash)))
		}
		r.Post("/send", SendHandler(svc))
	})

	// Operational endpoints
	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(db, broker))
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// corsHandler answers preflight requests before routing, so OPTIONS /send
// never reaches the bearer key check.
func corsHandler(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPut,
			http.MethodPatch, http.MethodPost, http.MethodDelete,
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Correlation-ID"},
		MaxAge:         300,
	})
}
