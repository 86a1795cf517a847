package handlers

import (
	"net/http"

	"github.com/kova98/feedgrep.ingest/models"
)

// StateSource reports the current state of every worker by feed name.
type StateSource interface {
	States() map[string]string
}

type HealthHandler struct {
	states StateSource
}

func NewHealthHandler(states StateSource) *HealthHandler {
	return &HealthHandler{states: states}
}

// GetHealth answers 503 once any worker has failed.
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) Result {
	workers := h.states.States()
	for _, state := range workers {
		if state == "FAILED" {
			return Unavailable(models.HealthResponse{Status: "failing", Workers: workers})
		}
	}
	return Ok(models.HealthResponse{Status: "ok", Workers: workers})
}
