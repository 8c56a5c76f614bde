package httpserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	cfgpkg "github.com/rzbill/evlog/internal/config"
	"github.com/rzbill/evlog/internal/heep"
	"github.com/rzbill/evlog/internal/runtime"
	logpkg "github.com/rzbill/evlog/pkg/log"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	logger, _ := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text", Outputs: []string{"null"}})
	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return New(rt, logger)
}

func do(t *testing.T, s *Server, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHealthHandler(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, http.MethodGet, "/v1/healthz", "")
	if w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, http.MethodGet, "/v1/healthz", "")
	if id := w.Header().Get(RequestIDHeader); len(id) != 36 {
		t.Fatalf("generated request id = %q", id)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	req.Header.Set(RequestIDHeader, "meter-42")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "meter-42" {
		t.Fatalf("request id = %q", got)
	}
}

func TestLogEventHandler(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name   string
		body   string
		status int
		action string
	}{
		{"realtime", `{"priority":200,"eventId":7,"timestamp":1000,"valueSize":2,"pairs":[{"key":5,"value":"0102"}]}`, http.StatusCreated, "queued"},
		{"below thresholds", `{"priority":10,"eventId":8}`, http.StatusOK, "dropped"},
		{"bad hex", `{"priority":200,"eventId":9,"valueSize":1,"pairs":[{"key":5,"value":"zz"}]}`, http.StatusBadRequest, ""},
		{"value too large", `{"priority":200,"eventId":9,"valueSize":16}`, http.StatusBadRequest, ""},
		{"bad json", `{"priority":`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/v1/events", tt.body)
			if w.Code != tt.status {
				t.Fatalf("status: %d body %s", w.Code, w.Body.String())
			}
			if tt.action == "" {
				return
			}
			var resp struct {
				Action      string `json:"action"`
				ReadingType uint16 `json:"readingType"`
				Index       uint8  `json:"index"`
			}
			decodeBody(t, w, &resp)
			if resp.Action != tt.action {
				t.Fatalf("action = %q", resp.Action)
			}
			if tt.action == "queued" && (resp.Index != 1 || resp.ReadingType != 1051) {
				t.Fatalf("details = %+v", resp)
			}
		})
	}
}

func TestQueryGetLogMarkSent(t *testing.T) {
	s := newTestServer(t)
	for _, body := range []string{
		`{"priority":200,"eventId":1,"timestamp":100}`,
		`{"priority":100,"eventId":2,"timestamp":200}`,
		`{"priority":100,"eventId":3,"timestamp":300,"markSent":true}`,
	} {
		if w := do(t, s, http.MethodPost, "/v1/events", body); w.Code != http.StatusCreated {
			t.Fatalf("log: %d %s", w.Code, w.Body.String())
		}
	}

	w := do(t, s, http.MethodGet, "/v1/events?type=date&start=150&end=400", "")
	if w.Code != http.StatusOK {
		t.Fatalf("query: %d", w.Code)
	}
	var q struct {
		Status string `json:"status"`
		Events []struct {
			EventID    uint16 `json:"eventId"`
			AlarmIndex uint8  `json:"alarmIndex"`
		} `json:"events"`
	}
	decodeBody(t, w, &q)
	if q.Status != "success" || len(q.Events) != 2 || q.Events[0].EventID != 2 || q.Events[1].AlarmIndex != 2 {
		t.Fatalf("query = %+v", q)
	}

	if w := do(t, s, http.MethodGet, "/v1/events?type=index&start=1&end=2&severity=9", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad severity: %d", w.Code)
	}

	w = do(t, s, http.MethodPost, "/v1/events/log?size=1000", "")
	if w.Code != http.StatusOK {
		t.Fatalf("getlog: %d", w.Code)
	}
	var batch struct {
		Events []struct {
			EventID uint16 `json:"eventId"`
		} `json:"events"`
		Sent []map[string]any `json:"sent"`
	}
	decodeBody(t, w, &batch)
	// High buffer events are stored already sent, so only event 2 is pending.
	if len(batch.Events) != 1 || len(batch.Sent) != 1 || batch.Events[0].EventID != 2 {
		t.Fatalf("batch = %+v, %d descriptors", batch.Events, len(batch.Sent))
	}
	sent, _ := json.Marshal(batch.Sent)
	w = do(t, s, http.MethodPost, "/v1/events/sent", string(sent))
	if w.Code != http.StatusOK {
		t.Fatalf("marksent: %d %s", w.Code, w.Body.String())
	}
	var ms struct {
		Processed int `json:"processed"`
	}
	decodeBody(t, w, &ms)
	if ms.Processed != 1 {
		t.Fatalf("processed = %d", ms.Processed)
	}

	w = do(t, s, http.MethodPost, "/v1/events/log", "")
	decodeBody(t, w, &batch)
	if len(batch.Events) != 0 || len(batch.Sent) != 0 {
		t.Fatalf("unsent after mark: %d", len(batch.Events))
	}
}

func TestDumpAndClear(t *testing.T) {
	s := newTestServer(t)
	for _, body := range []string{
		`{"priority":100,"eventId":10,"timestamp":1}`,
		`{"priority":120,"eventId":11,"timestamp":2}`,
	} {
		do(t, s, http.MethodPost, "/v1/events", body)
	}
	w := do(t, s, http.MethodGet, "/v1/events/dump?class=normal&filter="+url.QueryEscape("priority > 110"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("dump: %d %s", w.Code, w.Body.String())
	}
	var dump struct {
		Class   string `json:"class"`
		Records []struct {
			EventID uint16 `json:"eventId"`
			Index   uint8  `json:"index"`
		} `json:"records"`
	}
	decodeBody(t, w, &dump)
	if dump.Class != "normal" || len(dump.Records) != 1 || dump.Records[0].EventID != 11 || dump.Records[0].Index != 2 {
		t.Fatalf("dump = %+v", dump)
	}
	if w := do(t, s, http.MethodGet, "/v1/events/dump?filter="+url.QueryEscape("priority +"), ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad filter: %d", w.Code)
	}

	if w := do(t, s, http.MethodDelete, "/v1/events", ""); w.Code != http.StatusNoContent {
		t.Fatalf("clear: %d", w.Code)
	}
	w = do(t, s, http.MethodGet, "/v1/usage", "")
	var usage struct {
		Normal struct {
			Length uint32 `json:"length"`
		} `json:"normal"`
		NormalIndex uint8 `json:"normalIndex"`
	}
	decodeBody(t, w, &usage)
	if usage.Normal.Length != 0 || usage.NormalIndex != 0 {
		t.Fatalf("usage after clear = %+v", usage)
	}
}

func TestParamHandlers(t *testing.T) {
	s := newTestServer(t)
	w := do(t, s, http.MethodGet, "/v1/params/realtimeThreshold", "")
	var p struct {
		Name  string `json:"name"`
		Value uint8  `json:"value"`
	}
	decodeBody(t, w, &p)
	if w.Code != http.StatusOK || p.Value != 170 {
		t.Fatalf("get: %d %+v", w.Code, p)
	}
	if w := do(t, s, http.MethodPut, "/v1/params/amBuMaxTimeDiversity", `{"value":12}`); w.Code != http.StatusOK {
		t.Fatalf("put: %d %s", w.Code, w.Body.String())
	}
	decodeBody(t, do(t, s, http.MethodGet, "/v1/params/amBuMaxTimeDiversity", ""), &p)
	if p.Value != 12 {
		t.Fatalf("diversity = %d", p.Value)
	}
	tests := []struct {
		method, path, body string
		status             int
	}{
		{http.MethodPut, "/v1/params/amBuMaxTimeDiversity", `{"value":20}`, http.StatusBadRequest},
		{http.MethodPut, "/v1/params/realTimeAlarmIndexID", `{"value":1}`, http.StatusMethodNotAllowed},
		{http.MethodPut, "/v1/params/realtimeThreshold", `{}`, http.StatusBadRequest},
		{http.MethodGet, "/v1/params/nope", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		if w := do(t, s, tt.method, tt.path, tt.body); w.Code != tt.status {
			t.Fatalf("%s %s: %d, want %d", tt.method, tt.path, w.Code, tt.status)
		}
	}
	w = do(t, s, http.MethodGet, "/v1/params", "")
	var list struct {
		Params []json.RawMessage `json:"params"`
	}
	decodeBody(t, w, &list)
	if len(list.Params) != 6 {
		t.Fatalf("params = %d", len(list.Params))
	}
}

func TestHeepHandlers(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodPost, "/v1/events", `{"priority":200,"eventId":77,"timestamp":5}`)

	req := httptest.NewRequest(http.MethodPost, "/v1/heep/alarms/index", bytes.NewReader([]byte{1, 1, 3}))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Header().Get("X-Heep-Status") != "OK" {
		t.Fatalf("index: %d %s", w.Code, w.Header().Get("X-Heep-Status"))
	}
	blocks, err := heep.DecodeCompactRead(w.Body.Bytes())
	if err != nil || len(blocks) != 1 || len(blocks[0].Events) != 1 || blocks[0].Events[0].EventID != 77 {
		t.Fatalf("blocks = %+v, %v", blocks, err)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/heep/alarms/date", bytes.NewReader([]byte{0x00}))
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest || w.Header().Get("X-Heep-Status") != "BadRequest" {
		t.Fatalf("date: %d %s", w.Code, w.Header().Get("X-Heep-Status"))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	do(t, s, http.MethodPost, "/v1/events", `{"priority":100,"eventId":1}`)
	w := do(t, s, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `evlog_store_events_logged_total{class="normal"} 1`) {
		t.Fatalf("metrics missing store counter")
	}
}
