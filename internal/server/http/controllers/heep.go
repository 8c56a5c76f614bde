package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rzbill/evlog/internal/heep"
	"github.com/rzbill/evlog/pkg/log"
)

// HeepStatusHeader carries the head-end method status of binary responses.
const HeepStatusHeader = "X-Heep-Status"

const maxHeepRequest = 1 << 10

// HeepController serves the head-end requests and the parameters.
type HeepController struct {
	h      *heep.Handler
	logger log.Logger
}

// NewHeepController creates a new head-end controller.
func NewHeepController(h *heep.Handler, logger log.Logger) *HeepController {
	return &HeepController{h: h, logger: logger.With(log.Component("http"))}
}

// RegisterRoutes registers head-end routes with the given mux.
func (c *HeepController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/heep/alarms/date", c.handleAlarmsByDate)
	mux.HandleFunc("/v1/heep/alarms/index", c.handleAlarmsByIndex)
	mux.HandleFunc("/v1/params", c.handleListParams)
	mux.HandleFunc("/v1/params/", c.handleParam)
}

func (c *HeepController) handleAlarmsByDate(w http.ResponseWriter, r *http.Request) {
	c.serveBinary(w, r, c.h.AlarmsByDate)
}

func (c *HeepController) handleAlarmsByIndex(w http.ResponseWriter, r *http.Request) {
	c.serveBinary(w, r, c.h.AlarmsByIndex)
}

func (c *HeepController) serveBinary(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, req []byte) heep.Response) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxHeepRequest))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	resp := fn(r.Context(), body)
	w.Header().Set(HeepStatusHeader, resp.Status.String())
	switch resp.Status {
	case heep.StatusOK, heep.StatusPartialContent:
		w.Header().Set("Content-Type", "application/octet-stream")
		if resp.Status == heep.StatusPartialContent {
			w.WriteHeader(http.StatusPartialContent)
		}
		_, _ = w.Write(resp.Payload)
	case heep.StatusBadRequest:
		w.WriteHeader(http.StatusBadRequest)
	default:
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

func (c *HeepController) handleListParams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	out := make([]paramResp, 0, len(heep.Params()))
	for _, name := range heep.Params() {
		v, err := c.h.GetParam(name)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		out = append(out, paramResp{Name: name, Value: v})
	}
	writeJSON(w, map[string]any{"params": out})
}

// handleParam reads (GET) or writes (PUT) /v1/params/{name}.
func (c *HeepController) handleParam(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/v1/params/")
	if name == "" || strings.Contains(name, "/") {
		writeError(w, http.StatusNotFound, "unknown parameter")
		return
	}
	switch r.Method {
	case http.MethodGet:
		v, err := c.h.GetParam(name)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, paramResp{Name: name, Value: v})
	case http.MethodPut:
		var req paramReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
			writeError(w, http.StatusBadRequest, "body must be {\"value\": 0..255}")
			return
		}
		if err := c.h.SetParam(name, *req.Value); err != nil {
			if errors.Is(err, heep.ErrNotHandled) {
				writeError(w, http.StatusMethodNotAllowed, err.Error())
				return
			}
			writeStoreError(w, err)
			return
		}
		writeJSON(w, paramResp{Name: name, Value: *req.Value})
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
