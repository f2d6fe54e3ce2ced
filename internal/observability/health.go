package observability

import (
	"context"
	"encoding/json"
	"net/http"
)

// ReadyCheck probes one subsystem. A nil return means ready.
type ReadyCheck func(ctx context.Context) error

// HealthHandler returns the liveness handler for /healthz. Liveness
// carries no dependency checks; a responding process is alive.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		writeHealth(rw, http.StatusOK, "ok")
	})
}

// ReadyHandler returns the readiness handler for /readyz. Every check
// must pass; the first failure yields HTTP 503.
func ReadyHandler(checks ...ReadyCheck) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		for _, check := range checks {
			if err := check(hr.Context()); err != nil {
				writeHealth(rw, http.StatusServiceUnavailable, "unavailable")

				return
			}
		}

		writeHealth(rw, http.StatusOK, "ok")
	})
}

func writeHealth(rw http.ResponseWriter, code int, status string) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)

	_ = json.NewEncoder(rw).Encode(map[string]string{"status": status})
}
