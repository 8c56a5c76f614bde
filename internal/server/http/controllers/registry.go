package controllers

import (
	"net/http"

	"github.com/rzbill/evlog/internal/runtime"
	"github.com/rzbill/evlog/pkg/log"
)

// ControllerRegistry manages all HTTP controllers.
type ControllerRegistry struct {
	general *GeneralController
	events  *EventsController
	heep    *HeepController
}

// NewControllerRegistry creates a new controller registry.
func NewControllerRegistry(rt *runtime.Runtime, logger log.Logger) *ControllerRegistry {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &ControllerRegistry{
		general: NewGeneralController(rt),
		events:  NewEventsController(rt.Store(), logger),
		heep:    NewHeepController(rt.Heep(), logger),
	}
}

// RegisterAllRoutes registers all controller routes with the given mux.
//
// This sets up the health and metrics endpoints, the event log endpoints
// and the head-end endpoints.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.events.RegisterRoutes(mux)
	r.heep.RegisterRoutes(mux)
}
