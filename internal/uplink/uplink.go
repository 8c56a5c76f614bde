// Package uplink delivers outbound alarm messages.
package uplink

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rzbill/evlog/internal/alarm"
	"github.com/rzbill/evlog/pkg/log"
)

// Kinds accepted by New.
const (
	KindLog   = "log"
	KindRedis = "redis"
)

// Config selects and configures a transmitter.
type Config struct {
	Kind string `json:"kind" yaml:"kind"`
	// Redis stream settings, used when Kind is "redis".
	RedisAddr string `json:"redisAddr" yaml:"redisAddr"`
	Stream    string `json:"stream" yaml:"stream"`
	MaxLen    int64  `json:"maxLen" yaml:"maxLen"`
}

// Transmitter is an alarm.Transmitter that owns resources.
type Transmitter interface {
	alarm.Transmitter
	Close() error
}

// New builds the transmitter cfg names.
func New(cfg Config, logger log.Logger) (Transmitter, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", KindLog:
		return NewLogTransmitter(logger), nil
	case KindRedis:
		t, err := NewRedisTransmitter(cfg.RedisAddr, cfg.Stream, cfg.MaxLen, logger)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, fmt.Errorf("uplink: unknown kind %q", cfg.Kind)
}

// LogTransmitter writes every message to the log.
type LogTransmitter struct {
	logger log.Logger
}

func NewLogTransmitter(logger log.Logger) *LogTransmitter {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &LogTransmitter{logger: logger.With(log.Component("uplink"))}
}

func (t *LogTransmitter) Transmit(ctx context.Context, msg alarm.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.logger.Info("alarm message",
		log.Str("id", msg.ID.String()),
		log.Int("alarms", msg.Alarms),
		log.Str("payload", hex.EncodeToString(msg.Payload)))
	return nil
}

func (t *LogTransmitter) Close() error { return nil }
