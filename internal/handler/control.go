package handler

import (
	"net/http"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/sim"
)

// Controller is the control surface of a running simulation. Every
// method is safe to call from a goroutine other than the scheduler's.
type Controller interface {
	Pause() bool
	Unpause() bool
	Step() bool
	Kill() bool
	State() sim.State
	Now() domain.Tick
	TimeRemaining() int64
}

// ControlHandler handles HTTP requests that pause, resume, step and kill
// the simulation.
type ControlHandler struct {
	ctl Controller
}

// NewControlHandler creates a new ControlHandler.
func NewControlHandler(ctl Controller) *ControlHandler {
	return &ControlHandler{ctl: ctl}
}

// stateResponse is the JSON response of every control endpoint. Changed
// is false when the request was a no-op, for example pausing twice.
type stateResponse struct {
	State     string      `json:"state"`
	Tick      domain.Tick `json:"tick"`
	Remaining int64       `json:"remaining"`
	Changed   *bool       `json:"changed,omitempty"`
}

func (h *ControlHandler) respond(w http.ResponseWriter, changed *bool) {
	WriteJSON(w, http.StatusOK, stateResponse{
		State:     h.ctl.State().String(),
		Tick:      h.ctl.Now(),
		Remaining: h.ctl.TimeRemaining(),
		Changed:   changed,
	})
}

// State handles GET /sim/state.
func (h *ControlHandler) State(w http.ResponseWriter, r *http.Request) {
	h.respond(w, nil)
}

// Pause handles POST /sim/pause.
func (h *ControlHandler) Pause(w http.ResponseWriter, r *http.Request) {
	changed := h.ctl.Pause()
	h.respond(w, &changed)
}

// Resume handles POST /sim/resume.
func (h *ControlHandler) Resume(w http.ResponseWriter, r *http.Request) {
	changed := h.ctl.Unpause()
	h.respond(w, &changed)
}

// Step handles POST /sim/step.
func (h *ControlHandler) Step(w http.ResponseWriter, r *http.Request) {
	changed := h.ctl.Step()
	h.respond(w, &changed)
}

// Kill handles POST /sim/kill.
func (h *ControlHandler) Kill(w http.ResponseWriter, r *http.Request) {
	changed := h.ctl.Kill()
	h.respond(w, &changed)
}
