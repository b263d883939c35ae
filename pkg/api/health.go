package api

import (
	"net/http"

	"github.com/cuemby/sentinel/pkg/metrics"
)

// healthHandler implements the /health endpoint.
// This is a liveness check: 200 while the process serves requests, with
// per-component detail in the body.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metrics.GetHealth())
}

// readyHandler implements the /ready endpoint.
// Ready means storage is open, the API is listening and the poller has
// completed a tick.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(); err != nil {
			metrics.UpdateComponent(metrics.ComponentStorage, false, err.Error())
		} else {
			metrics.UpdateComponent(metrics.ComponentStorage, true, "ok")
		}
	}

	status := metrics.GetReadiness()
	code := http.StatusOK
	if status.Status != "ready" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}
