// Package http is the thin admin/health surface this service exposes.
// Everything else — message/stream/conversation mutation — happens through
// the Event Log and Job Queue, not a public HTTP API; this package only
// carries what an operator needs to confirm the process is alive.
package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/chatcore/eventsub/internal/api/respond"
	"github.com/chatcore/eventsub/internal/health"
)

// NewRouter builds the admin/health router. checker reports aggregate
// dependency health; version is surfaced for operator debugging.
func NewRouter(checker *health.ServiceHealthChecker, version string) *mux.Router {
	r := mux.NewRouter()
	h := &healthHandler{checker: checker, version: version}
	r.HandleFunc("/healthz", h.check).Methods(http.MethodGet)
	r.HandleFunc("/version", h.versionInfo).Methods(http.MethodGet)
	return r
}

type healthHandler struct {
	checker *health.ServiceHealthChecker
	version string
}

func (h *healthHandler) check(w http.ResponseWriter, r *http.Request) {
	if h.checker == nil || h.checker.IsHealthy() {
		respond.WriteJSON(w, http.StatusOK, map[string]string{"status": "UP"})
		return
	}
	respond.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "DOWN"})
}

func (h *healthHandler) versionInfo(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSON(w, http.StatusOK, map[string]string{"version": h.version})
}
