package controllers

import (
	"net/http"

	"github.com/rzbill/evlog/internal/eventlog"
	"github.com/rzbill/evlog/internal/runtime"
)

// GeneralController handles health, metrics and buffer usage.
type GeneralController struct {
	rt *runtime.Runtime
}

// NewGeneralController creates a new general controller.
func NewGeneralController(rt *runtime.Runtime) *GeneralController {
	return &GeneralController{rt: rt}
}

// RegisterRoutes registers general routes with the given mux.
func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/healthz", c.handleHealth)
	mux.HandleFunc("/v1/usage", c.handleUsage)
	mux.Handle("/metrics", c.rt.Metrics().Handler())
}

// handleHealth returns the health status of the service.
//
// Returns 200 OK with {"status": "ok"} if healthy, 503 Service Unavailable otherwise.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleUsage reports the ring descriptors and sequence counters.
func (c *GeneralController) handleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s := c.rt.Store()
	writeJSON(w, usageResp{
		High:          s.Usage(eventlog.ClassHigh),
		Normal:        s.Usage(eventlog.ClassNormal),
		RealTimeIndex: s.RealTimeIndex(),
		NormalIndex:   s.NormalIndex(),
	})
}
