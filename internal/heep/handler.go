// Package heep formats event log content for the head end: the alarms by
// date and alarms by index requests answered with compact reads, and the
// event log parameters.
package heep

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/rzbill/evlog/internal/eventlog"
	"github.com/rzbill/evlog/pkg/log"
)

const (
	// RecoveryBufferSize bounds the data a single query may return.
	RecoveryBufferSize = 1155
	// MaxPayload bounds a response payload.
	MaxPayload = 1220
)

var (
	ErrBadRequest = errors.New("heep: bad request")
	// ErrNotHandled is returned for unknown or read-only parameters.
	ErrNotHandled = errors.New("heep: not handled")
)

// Status is the method status of a response.
type Status uint8

const (
	StatusOK Status = iota
	StatusPartialContent
	StatusBadRequest
	StatusServiceUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusPartialContent:
		return "PartialContent"
	case StatusBadRequest:
		return "BadRequest"
	case StatusServiceUnavailable:
		return "ServiceUnavailable"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Response is a handler result. Payload is empty unless the status is OK or
// PartialContent.
type Response struct {
	Status  Status
	Payload []byte
}

// Store is the part of the event store the handlers use.
type Store interface {
	QueryBy(ctx context.Context, q eventlog.Query, size int) (eventlog.QueryResult, error)
	Thresholds() (realtime, opportunistic uint8)
	SetThresholds(realtime, opportunistic uint8) error
	SetRealtimeThreshold(v uint8) error
	SetOpportunisticThreshold(v uint8) error
	MaxTimeDiversity() uint8
	SetMaxTimeDiversity(minutes uint8) error
	RealTimeAlarm() bool
	RealTimeIndex() uint8
	NormalIndex() uint8
}

// Handler answers head-end requests from a store.
type Handler struct {
	store  Store
	logger log.Logger
	now    func() time.Time
}

// New returns a handler. A nil logger discards output and a nil clock uses
// time.Now.
func New(store Store, logger log.Logger, now func() time.Time) *Handler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if now == nil {
		now = time.Now
	}
	return &Handler{store: store, logger: logger.With(log.Component("heep")), now: now}
}

// AlarmsByDate answers a date range list request: a quantity byte with the
// number of ranges in its high nibble, then start u32 | end u32 per range.
func (h *Handler) AlarmsByDate(ctx context.Context, req []byte) Response {
	if len(req) < 1 {
		return h.badRequest("alarms by date", "empty request")
	}
	n := int(req[0] >> 4)
	if n == 0 {
		return h.badRequest("alarms by date", "no time ranges")
	}
	if len(req) < 1+8*n {
		return h.badRequest("alarms by date", fmt.Sprintf("%d ranges need %d bytes, have %d", n, 1+8*n, len(req)))
	}
	queries := make([]eventlog.Query, n)
	for i := range queries {
		off := 1 + 8*i
		queries[i] = eventlog.ByDate(binary.BigEndian.Uint32(req[off:]), binary.BigEndian.Uint32(req[off+4:]))
	}
	return h.run(ctx, "alarms by date", queries)
}

// AlarmsByIndex answers an index range request: startIdx u8 | endIdx u8 |
// severity u8. The severity must be medium or high.
func (h *Handler) AlarmsByIndex(ctx context.Context, req []byte) Response {
	if len(req) < 3 {
		return h.badRequest("alarms by index", fmt.Sprintf("request is %d bytes", len(req)))
	}
	sev := eventlog.Severity(req[2])
	if sev != eventlog.SeverityMedium && sev != eventlog.SeverityHigh {
		return h.badRequest("alarms by index", fmt.Sprintf("severity %d", sev))
	}
	return h.run(ctx, "alarms by index", []eventlog.Query{eventlog.ByIndex(req[0], req[1], sev)})
}

func (h *Handler) run(ctx context.Context, op string, queries []eventlog.Query) Response {
	w := newCompactWriter(uint32(h.now().Unix()), MaxPayload)
	status := StatusOK
	for _, q := range queries {
		res, err := h.store.QueryBy(ctx, q, RecoveryBufferSize)
		if err != nil {
			if errors.Is(err, eventlog.ErrInvalid) {
				return h.badRequest(op, err.Error())
			}
			h.logger.Error("query failed", log.Str("op", op), log.Err(err))
			return Response{Status: StatusServiceUnavailable}
		}
		if res.Status == eventlog.StatusSizeLimitReached {
			status = StatusPartialContent
		}
		events, err := eventlog.SplitHeadEnd(res.Data)
		if err != nil {
			h.logger.Error("malformed query result", log.Str("op", op), log.Err(err))
			return Response{Status: StatusServiceUnavailable}
		}
		for _, e := range events {
			if !w.add(e) {
				status = StatusPartialContent
				break
			}
		}
	}
	h.logger.Debug("request answered", log.Str("op", op), log.Int("events", w.events), log.Str("status", status.String()))
	return Response{Status: status, Payload: w.bytes()}
}

func (h *Handler) badRequest(op, reason string) Response {
	h.logger.Info("bad request", log.Str("op", op), log.Str("reason", reason))
	return Response{Status: StatusBadRequest}
}
