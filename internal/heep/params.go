package heep

import (
	"fmt"
	"sort"

	"github.com/rzbill/evlog/pkg/log"
)

// Parameter names.
const (
	ParamRealtimeThreshold         = "realtimeThreshold"
	ParamOpportunisticThreshold    = "opportunisticThreshold"
	ParamRealTimeAlarm             = "realTimeAlarm"
	ParamMaxTimeDiversity          = "amBuMaxTimeDiversity"
	ParamRealTimeAlarmIndexID      = "realTimeAlarmIndexID"
	ParamOpportunisticAlarmIndexID = "opportunisticAlarmIndexID"
)

type param struct {
	get func(s Store) uint8
	set func(s Store, v uint8) error
}

var params = map[string]param{
	ParamRealtimeThreshold: {
		get: func(s Store) uint8 { rt, _ := s.Thresholds(); return rt },
		set: func(s Store, v uint8) error { return s.SetRealtimeThreshold(v) },
	},
	ParamOpportunisticThreshold: {
		get: func(s Store) uint8 { _, o := s.Thresholds(); return o },
		set: func(s Store, v uint8) error { return s.SetOpportunisticThreshold(v) },
	},
	ParamRealTimeAlarm: {
		get: func(s Store) uint8 {
			if s.RealTimeAlarm() {
				return 1
			}
			return 0
		},
	},
	ParamMaxTimeDiversity: {
		get: func(s Store) uint8 { return s.MaxTimeDiversity() },
		set: func(s Store, v uint8) error { return s.SetMaxTimeDiversity(v) },
	},
	ParamRealTimeAlarmIndexID:      {get: func(s Store) uint8 { return s.RealTimeIndex() }},
	ParamOpportunisticAlarmIndexID: {get: func(s Store) uint8 { return s.NormalIndex() }},
}

// Params lists the parameter names in sorted order.
func Params() []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetParam reads a parameter.
func (h *Handler) GetParam(name string) (uint8, error) {
	p, ok := params[name]
	if !ok {
		return 0, fmt.Errorf("%w: parameter %q", ErrNotHandled, name)
	}
	return p.get(h.store), nil
}

// SetParam writes a parameter. Read-only and unknown parameters return
// ErrNotHandled; values the store rejects keep the store's error.
func (h *Handler) SetParam(name string, v uint8) error {
	p, ok := params[name]
	if !ok || p.set == nil {
		return fmt.Errorf("%w: parameter %q is not writable", ErrNotHandled, name)
	}
	if err := p.set(h.store, v); err != nil {
		return err
	}
	h.logger.Info("parameter updated", log.Str("name", name), log.Uint("value", uint64(v)))
	return nil
}
