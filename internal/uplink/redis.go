package uplink

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/rzbill/evlog/internal/alarm"
	"github.com/rzbill/evlog/pkg/log"
)

// DefaultStream is the stream messages are appended to.
const DefaultStream = "evlog:alarms"

type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// RedisTransmitter appends each message to a Redis stream. Entries carry the
// message id, creation time, alarm count and raw payload.
type RedisTransmitter struct {
	client streamClient
	stream string
	maxLen int64
	logger log.Logger
}

// NewRedisTransmitter connects lazily; the first Transmit reports an
// unreachable server.
func NewRedisTransmitter(addr, stream string, maxLen int64, logger log.Logger) (*RedisTransmitter, error) {
	if addr == "" {
		return nil, errors.New("uplink: redis address is required")
	}
	return newRedisTransmitter(redis.NewClient(&redis.Options{Addr: addr}), stream, maxLen, logger), nil
}

func newRedisTransmitter(client streamClient, stream string, maxLen int64, logger log.Logger) *RedisTransmitter {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &RedisTransmitter{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger.With(log.Component("uplink"), log.Str("stream", stream)),
	}
}

func (t *RedisTransmitter) Transmit(ctx context.Context, msg alarm.Message) error {
	args := &redis.XAddArgs{
		Stream: t.stream,
		Values: map[string]interface{}{
			"id":         msg.ID.String(),
			"created_at": strconv.FormatInt(msg.CreatedAt.Unix(), 10),
			"alarms":     strconv.Itoa(msg.Alarms),
			"payload":    msg.Payload,
		},
	}
	if t.maxLen > 0 {
		args.MaxLen = t.maxLen
		args.Approx = true
	}
	entry, err := t.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("uplink: xadd %s: %w", t.stream, err)
	}
	t.logger.Debug("alarm message appended", log.Str("id", msg.ID.String()), log.Str("entry", entry))
	return nil
}

func (t *RedisTransmitter) Close() error { return t.client.Close() }
