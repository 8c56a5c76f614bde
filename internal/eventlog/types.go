package eventlog

import (
	"fmt"
	"strings"
)

// Class selects one of the two ring buffers.
type Class uint8

const (
	ClassNormal Class = iota
	ClassHigh
)

var classNames = [...]string{ClassNormal: "normal", ClassHigh: "high"}

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// ParseClass accepts "high" or "normal".
func ParseClass(s string) (Class, error) {
	switch strings.ToLower(s) {
	case "high", "realtime", "real-time":
		return ClassHigh, nil
	case "normal", "opportunistic":
		return ClassNormal, nil
	}
	return 0, fmt.Errorf("%w: unknown class %q", ErrInvalid, s)
}

// MarshalText lets classes appear as names in JSON.
func (c Class) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Class) UnmarshalText(b []byte) error {
	v, err := ParseClass(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Severity scopes index queries to a single class.
type Severity uint8

const (
	SeverityMedium Severity = 2
	SeverityHigh   Severity = 3
)

// Class returns the buffer a severity addresses.
func (s Severity) Class() Class {
	if s == SeverityHigh {
		return ClassHigh
	}
	return ClassNormal
}

func (s Severity) valid() bool { return s == SeverityMedium || s == SeverityHigh }

// Action is the outcome of LogEvent.
type Action uint8

const (
	ActionQueued Action = iota
	ActionDropped
	ActionFailed
)

func (a Action) String() string {
	switch a {
	case ActionQueued:
		return "queued"
	case ActionDropped:
		return "dropped"
	case ActionFailed:
		return "failed"
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

func (a Action) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// TimestampMode selects where a logged event's timestamp comes from.
type TimestampMode uint8

const (
	// TimestampNow stamps the event with the store clock.
	TimestampNow TimestampMode = iota
	// TimestampProvided keeps Event.Timestamp.
	TimestampProvided
)

// Event is what producers log.
type Event struct {
	ID        uint16
	Timestamp uint32
	ValueSize uint8
	Pairs     []Pair
	// MarkSent stores the event as already sent; it is never handed to the
	// alarm sink.
	MarkSent bool
}

// LoggedDetails identifies a logged event for the head end.
type LoggedDetails struct {
	ReadingType uint16 `json:"readingType"`
	Index       uint8  `json:"index"`
}

// ReadingTypes are the reading type codes the head end knows the alarm
// indexes by.
type ReadingTypes struct {
	RealTimeIndex      uint16 `json:"realTimeIndex" yaml:"realTimeIndex"`
	OpportunisticIndex uint16 `json:"opportunisticIndex" yaml:"opportunisticIndex"`
	Invalid            uint16 `json:"invalid" yaml:"invalid"`
}

// DefaultReadingTypes are used when none are configured.
var DefaultReadingTypes = ReadingTypes{RealTimeIndex: 1051, OpportunisticIndex: 1052, Invalid: 0}

func (rt ReadingTypes) forClass(c Class) uint16 {
	if c == ClassHigh {
		return rt.RealTimeIndex
	}
	return rt.OpportunisticIndex
}

// Defaults seed the metadata of a freshly initialized store.
type Defaults struct {
	RealtimeThreshold      uint8 `json:"realtimeThreshold" yaml:"realtimeThreshold"`
	OpportunisticThreshold uint8 `json:"opportunisticThreshold" yaml:"opportunisticThreshold"`
	MaxTimeDiversity       uint8 `json:"maxTimeDiversity" yaml:"maxTimeDiversity"`
	RealTimeAlarm          bool  `json:"realTimeAlarm" yaml:"realTimeAlarm"`
}

const (
	DefaultRealtimeThreshold      = 170
	DefaultOpportunisticThreshold = 85
	DefaultMaxTimeDiversity       = 4
	// MaxTimeDiversity is the largest accepted diversity in minutes.
	MaxTimeDiversity = 15
	// MaxAlarmMemory bounds the head-end encoding of an opportunistic event,
	// alarm-index pair included.
	MaxAlarmMemory = 62
)

// DefaultDefaults returns the factory settings.
func DefaultDefaults() Defaults {
	return Defaults{
		RealtimeThreshold:      DefaultRealtimeThreshold,
		OpportunisticThreshold: DefaultOpportunisticThreshold,
		MaxTimeDiversity:       DefaultMaxTimeDiversity,
		RealTimeAlarm:          true,
	}
}
