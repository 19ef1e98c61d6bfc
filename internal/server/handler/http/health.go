package http

import "net/http"

// Readiness reports whether storage is connected.
type Readiness interface {
	Ready() bool
}

// HealthHandler serves GET /healthz. The service answers before storage
// connects, so the probe distinguishes the two states.
type HealthHandler struct {
	Storage Readiness
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	state := "pending"
	if h.Storage.Ready() {
		state = "connected"
	}
	writeJSON(w, http.StatusOK, ok(envelope{"storage": state}))
}
