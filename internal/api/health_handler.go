package api

import (
	"context"
	"net/http"
)

// databaseChecker reports whether the audit database is reachable.
type databaseChecker interface {
	Ready(ctx context.Context) error
}

// brokerChecker reports whether a broker consumer is attached.
type brokerChecker interface {
	Ready() bool
}

// HealthzHandler handles GET /healthz.
// Always returns 200 OK with {"status":"ok"}.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler handles GET /readyz. It returns 503 with a Retry-After
// header while the database or the broker connection is unavailable.
func ReadyzHandler(db databaseChecker, broker brokerChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ready(r.Context()); err != nil {
			w.Header().Set("Retry-After", "30")
			respondError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		if !broker.Ready() {
			w.Header().Set("Retry-After", "30")
			respondError(w, http.StatusServiceUnavailable, "broker unavailable")
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// BannerHandler handles GET / with a plain-text service banner.
func BannerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Email Service API"))
	}
}
