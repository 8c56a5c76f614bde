package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rzbill/evlog/internal/alarm"
	"github.com/rzbill/evlog/internal/eventlog"
	pebblestore "github.com/rzbill/evlog/internal/storage/pebble"
	"github.com/rzbill/evlog/internal/uplink"
	"github.com/rzbill/evlog/pkg/log"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	DataDir string `json:"dataDir" yaml:"dataDir"`
	// Fsync is "always", "interval" or "never".
	Fsync        string            `json:"fsync" yaml:"fsync"`
	Store        StoreConfig       `json:"store" yaml:"store"`
	Defaults     eventlog.Defaults `json:"defaults" yaml:"defaults"`
	Coordinator  CoordinatorConfig `json:"coordinator" yaml:"coordinator"`
	ReadingTypes ReadingTypes      `json:"readingTypes" yaml:"readingTypes"`
	Uplink       uplink.Config     `json:"uplink" yaml:"uplink"`
	Log          log.Config        `json:"log" yaml:"log"`
}

// StoreConfig sizes the two partitions.
type StoreConfig struct {
	HighCapacity   uint32 `json:"highCapacity" yaml:"highCapacity"`
	NormalCapacity uint32 `json:"normalCapacity" yaml:"normalCapacity"`
}

// CoordinatorConfig bounds the alarm queue and outbound messages.
type CoordinatorConfig struct {
	QueueDepth      int `json:"queueDepth" yaml:"queueDepth"`
	MaxAlarms       int `json:"maxAlarms" yaml:"maxAlarms"`
	MaxMessageBytes int `json:"maxMessageBytes" yaml:"maxMessageBytes"`
}

// ReadingTypes holds the alarm-index reading types and the audit event ids.
type ReadingTypes struct {
	RealTimeIndex      uint16 `json:"realTimeIndex" yaml:"realTimeIndex"`
	OpportunisticIndex uint16 `json:"opportunisticIndex" yaml:"opportunisticIndex"`
	Invalid            uint16 `json:"invalid" yaml:"invalid"`
	CorruptedEvent     uint16 `json:"corruptedEvent" yaml:"corruptedEvent"`
	InitializedEvent   uint16 `json:"initializedEvent" yaml:"initializedEvent"`
}

// Store returns the reading types the event store stamps.
func (r ReadingTypes) Store() eventlog.ReadingTypes {
	return eventlog.ReadingTypes{RealTimeIndex: r.RealTimeIndex, OpportunisticIndex: r.OpportunisticIndex, Invalid: r.Invalid}
}

// Audit returns the audit event ids the coordinator logs.
func (r ReadingTypes) Audit() alarm.AuditEvents {
	return alarm.AuditEvents{CorruptedID: r.CorruptedEvent, InitializedID: r.InitializedEvent}
}

const (
	DefaultHighCapacity   = 40960
	DefaultNormalCapacity = 102400
	minCapacity           = 64
)

// Default returns built-in defaults.
func Default() Config {
	rt := eventlog.DefaultReadingTypes
	return Config{
		DataDir:  DefaultDataDir(),
		Fsync:    "always",
		Store:    StoreConfig{HighCapacity: DefaultHighCapacity, NormalCapacity: DefaultNormalCapacity},
		Defaults: eventlog.DefaultDefaults(),
		Coordinator: CoordinatorConfig{
			QueueDepth:      alarm.DefaultQueueDepth,
			MaxAlarms:       alarm.MaxAlarmsPerMessage,
			MaxMessageBytes: alarm.MaxMessageBytes,
		},
		ReadingTypes: ReadingTypes{
			RealTimeIndex:      rt.RealTimeIndex,
			OpportunisticIndex: rt.OpportunisticIndex,
			Invalid:            rt.Invalid,
			CorruptedEvent:     alarm.DefaultAuditEvents.CorruptedID,
			InitializedEvent:   alarm.DefaultAuditEvents.InitializedID,
		},
		Uplink: uplink.Config{Kind: uplink.KindLog, Stream: uplink.DefaultStream},
		Log:    log.Config{Level: "info", Format: "text", Outputs: []string{"console"}},
	}
}

// Load reads configuration from a JSON or YAML file (by extension) on top
// of the defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate reports every setting that breaks an invariant.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf("config: "+format, args...))
	}
	if c.DataDir == "" {
		bad("dataDir is required")
	}
	if _, err := pebblestore.ParseFsyncMode(c.Fsync); err != nil {
		bad("%v", err)
	}
	for name, size := range map[string]uint32{"store.highCapacity": c.Store.HighCapacity, "store.normalCapacity": c.Store.NormalCapacity} {
		if size < minCapacity || size%pebblestore.SectorSize != 0 {
			bad("%s %d must be at least %d and a multiple of %d", name, size, minCapacity, pebblestore.SectorSize)
		}
	}
	if c.Defaults.RealtimeThreshold < c.Defaults.OpportunisticThreshold {
		bad("defaults.realtimeThreshold %d is below opportunisticThreshold %d", c.Defaults.RealtimeThreshold, c.Defaults.OpportunisticThreshold)
	}
	if c.Defaults.MaxTimeDiversity > eventlog.MaxTimeDiversity {
		bad("defaults.maxTimeDiversity %d exceeds %d", c.Defaults.MaxTimeDiversity, eventlog.MaxTimeDiversity)
	}
	if c.Coordinator.QueueDepth < 1 {
		bad("coordinator.queueDepth must be at least 1")
	}
	if c.Coordinator.MaxAlarms < 1 || c.Coordinator.MaxAlarms > alarm.MaxAlarmsPerMessage {
		bad("coordinator.maxAlarms %d outside 1..%d", c.Coordinator.MaxAlarms, alarm.MaxAlarmsPerMessage)
	}
	// a message must hold its header and one maximal opportunistic alarm
	if c.Coordinator.MaxMessageBytes < 5+eventlog.MaxAlarmMemory || c.Coordinator.MaxMessageBytes > alarm.MaxMessageBytes {
		bad("coordinator.maxMessageBytes %d outside %d..%d", c.Coordinator.MaxMessageBytes, 5+eventlog.MaxAlarmMemory, alarm.MaxMessageBytes)
	}
	if c.ReadingTypes.RealTimeIndex == c.ReadingTypes.OpportunisticIndex {
		bad("readingTypes.realTimeIndex and opportunisticIndex must differ")
	}
	switch strings.ToLower(c.Uplink.Kind) {
	case "", uplink.KindLog:
	case uplink.KindRedis:
		if c.Uplink.RedisAddr == "" {
			bad("uplink.redisAddr is required for the redis uplink")
		}
	default:
		bad("uplink.kind %q is not log or redis", c.Uplink.Kind)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		bad("log.level: %v", err)
	}
	return errors.Join(errs...)
}
