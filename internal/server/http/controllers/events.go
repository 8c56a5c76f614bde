package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/rzbill/evlog/internal/eventlog"
	"github.com/rzbill/evlog/internal/heep"
	"github.com/rzbill/evlog/pkg/log"
)

// EventsController exposes the event store over JSON.
type EventsController struct {
	store  *eventlog.Store
	logger log.Logger
}

// NewEventsController creates a new events controller.
func NewEventsController(store *eventlog.Store, logger log.Logger) *EventsController {
	return &EventsController{store: store, logger: logger.With(log.Component("http"))}
}

// RegisterRoutes registers event routes with the given mux.
//
// This method sets up HTTP endpoints for:
// - Logging, querying and clearing events (/v1/events)
// - Extraction and retirement of unsent events (/v1/events/log, /v1/events/sent)
// - Listing stored records (/v1/events/dump)
func (c *EventsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/events", c.handleEvents)
	mux.HandleFunc("/v1/events/log", c.handleGetLog)
	mux.HandleFunc("/v1/events/sent", c.handleMarkSent)
	mux.HandleFunc("/v1/events/dump", c.handleDump)
}

func (c *EventsController) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		c.handleLog(w, r)
	case http.MethodGet:
		c.handleQuery(w, r)
	case http.MethodDelete:
		c.handleClear(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleLog logs one event.
func (c *EventsController) handleLog(w http.ResponseWriter, r *http.Request) {
	var req logEventReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	pairs, err := fromPairsJSON(req.Pairs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ev := eventlog.Event{ID: req.EventID, ValueSize: req.ValueSize, Pairs: pairs, MarkSent: req.MarkSent}
	mode := eventlog.TimestampNow
	if req.Timestamp != nil {
		ev.Timestamp = *req.Timestamp
		mode = eventlog.TimestampProvided
	}
	act, details, err := c.store.LogEvent(r.Context(), req.Priority, ev, mode)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	status := http.StatusCreated
	if act != eventlog.ActionQueued {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(logEventResp{Action: act.String(), ReadingType: details.ReadingType, Index: details.Index})
}

// handleQuery runs an unsent, date or index query.
//
// Query parameters: type (unsent|date|index), start, end, severity and size.
func (c *EventsController) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	size, err := parseSize(q.Get("size"), heep.RecoveryBufferSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var query eventlog.Query
	switch q.Get("type") {
	case "", "unsent":
		query = eventlog.Unsent()
	case "date":
		start, err1 := parseUint(q.Get("start"), 32)
		end, err2 := parseUint(q.Get("end"), 32)
		if err1 != nil || err2 != nil {
			writeError(w, http.StatusBadRequest, "start and end must be unix seconds")
			return
		}
		query = eventlog.ByDate(uint32(start), uint32(end))
	case "index":
		start, err1 := parseUint(q.Get("start"), 8)
		end, err2 := parseUint(q.Get("end"), 8)
		sev, err3 := parseUint(q.Get("severity"), 8)
		if err1 != nil || err2 != nil || err3 != nil {
			writeError(w, http.StatusBadRequest, "start, end and severity must be 0..255")
			return
		}
		query = eventlog.ByIndex(uint8(start), uint8(end), eventlog.Severity(sev))
	default:
		writeError(w, http.StatusBadRequest, "type must be unsent, date or index")
		return
	}
	res, err := c.store.QueryBy(r.Context(), query, size)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	events, err := toEventsJSON(res.Data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, queryResp{Status: res.Status.String(), LastAlarmIndex: res.LastAlarmIndex, Events: events})
}

func (c *EventsController) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := c.store.ClearLog(r.Context()); err != nil {
		writeStoreError(w, err)
		return
	}
	c.logger.WithContext(r.Context()).Info("event log cleared over http")
	writeNoContent(w)
}

// handleGetLog extracts unsent events with the descriptors that retire them.
func (c *EventsController) handleGetLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	size, err := parseSize(r.URL.Query().Get("size"), heep.RecoveryBufferSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	batch, err := c.store.GetLog(r.Context(), size)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	events, err := toEventsJSON(batch.Data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sent := batch.Sent
	if sent == nil {
		sent = []eventlog.SentDescriptor{}
	}
	writeJSON(w, getLogResp{Status: batch.Status.String(), LastAlarmIndex: batch.LastAlarmIndex, Events: events, Sent: sent})
}

// handleMarkSent retires the records named by a list of descriptors.
func (c *EventsController) handleMarkSent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var list []eventlog.SentDescriptor
	if err := json.NewDecoder(r.Body).Decode(&list); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	n, err := c.store.MarkSent(r.Context(), list)
	if err != nil {
		// partial completion still reports what was processed
		c.logger.WithContext(r.Context()).Warn("mark sent incomplete", log.Int("processed", n), log.Err(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(errorStatus(err))
		_ = json.NewEncoder(w).Encode(map[string]any{"processed": n, "error": err.Error()})
		return
	}
	writeJSON(w, markSentResp{Processed: n})
}

// handleDump lists the stored records of one class, optionally filtered by
// a CEL expression.
func (c *EventsController) handleDump(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	q := r.URL.Query()
	class := eventlog.ClassHigh
	if v := q.Get("class"); v != "" {
		var err error
		if class, err = eventlog.ParseClass(v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	filter, err := eventlog.CompileFilter(q.Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := c.store.Records(r.Context(), class, filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]recordJSON, len(recs))
	for i, rec := range recs {
		out[i] = recordJSON{
			Offset:    rec.Offset,
			Size:      rec.Size,
			Index:     rec.AlarmIndex,
			Priority:  rec.Priority,
			EventID:   rec.EventID,
			Timestamp: rec.Timestamp,
			Sent:      rec.Sent,
			ValueSize: rec.ValueSize,
			Pairs:     toPairsJSON(rec.Pairs),
		}
	}
	writeJSON(w, map[string]any{"class": class, "records": out})
}
