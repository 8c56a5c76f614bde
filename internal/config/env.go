package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays EVLOG_* environment variables onto cfg. Values that do not
// parse are ignored.
func FromEnv(cfg *Config) {
	if v := os.Getenv("EVLOG_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("EVLOG_FSYNC"); v != "" {
		cfg.Fsync = v
	}
	envUint32("EVLOG_HIGH_CAPACITY", &cfg.Store.HighCapacity)
	envUint32("EVLOG_NORMAL_CAPACITY", &cfg.Store.NormalCapacity)
	envUint8("EVLOG_REALTIME_THRESHOLD", &cfg.Defaults.RealtimeThreshold)
	envUint8("EVLOG_OPPORTUNISTIC_THRESHOLD", &cfg.Defaults.OpportunisticThreshold)
	envUint8("EVLOG_MAX_TIME_DIVERSITY", &cfg.Defaults.MaxTimeDiversity)
	if v := os.Getenv("EVLOG_REAL_TIME_ALARM"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Defaults.RealTimeAlarm = b
		}
	}
	envInt("EVLOG_QUEUE_DEPTH", &cfg.Coordinator.QueueDepth)
	envInt("EVLOG_MAX_ALARMS", &cfg.Coordinator.MaxAlarms)
	envInt("EVLOG_MAX_MESSAGE_BYTES", &cfg.Coordinator.MaxMessageBytes)
	if v := os.Getenv("EVLOG_UPLINK"); v != "" {
		cfg.Uplink.Kind = v
	}
	if v := os.Getenv("EVLOG_REDIS_ADDR"); v != "" {
		cfg.Uplink.RedisAddr = v
	}
	if v := os.Getenv("EVLOG_REDIS_STREAM"); v != "" {
		cfg.Uplink.Stream = v
	}
	if v := os.Getenv("EVLOG_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("EVLOG_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("EVLOG_LOG_OUTPUTS"); v != "" {
		cfg.Log.Outputs = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Log.Outputs = append(cfg.Log.Outputs, p)
			}
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envUint8(key string, dst *uint8) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 8); err == nil {
			*dst = uint8(n)
		}
	}
}

func envUint32(key string, dst *uint32) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
		}
	}
}
