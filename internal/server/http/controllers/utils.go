package controllers

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rzbill/evlog/internal/eventlog"
	"github.com/rzbill/evlog/internal/heep"
)

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response with the given data.
func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// writeNoContent writes a 204 No Content response.
func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// errorStatus maps store and handler errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, eventlog.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, heep.ErrNotHandled):
		return http.StatusNotFound
	case errors.Is(err, eventlog.ErrCorrupted), errors.Is(err, eventlog.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeStoreError(w http.ResponseWriter, err error) {
	writeError(w, errorStatus(err), err.Error())
}

// parseSize parses a buffer size; empty selects def.
func parseSize(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("size must be a non-negative integer")
	}
	return n, nil
}

func parseUint(s string, bits int) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, bits)
}

func toPairsJSON(pairs []eventlog.Pair) []pairJSON {
	out := make([]pairJSON, len(pairs))
	for i, p := range pairs {
		out[i] = pairJSON{Key: p.Key, Value: hex.EncodeToString(p.Value)}
	}
	return out
}

func fromPairsJSON(pairs []pairJSON) ([]eventlog.Pair, error) {
	out := make([]eventlog.Pair, len(pairs))
	for i, p := range pairs {
		v, err := hex.DecodeString(p.Value)
		if err != nil {
			return nil, errors.New("pair value must be hex")
		}
		out[i] = eventlog.Pair{Key: p.Key, Value: v}
	}
	return out, nil
}

func toEventsJSON(data []byte) ([]headEndJSON, error) {
	events, err := eventlog.SplitHeadEnd(data)
	if err != nil {
		return nil, err
	}
	out := make([]headEndJSON, len(events))
	for i, e := range events {
		out[i] = headEndJSON{
			EventID:    e.EventID,
			Timestamp:  e.Timestamp,
			ValueSize:  e.ValueSize,
			AlarmIndex: e.AlarmIndex(),
			Pairs:      toPairsJSON(e.Pairs),
		}
	}
	return out, nil
}
