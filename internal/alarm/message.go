package alarm

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/evlog/internal/eventlog"
)

const (
	// MaxAlarmsPerMessage is the capacity of the 4-bit alarm count.
	MaxAlarmsPerMessage = 15
	// MaxMessageBytes is the largest outbound payload.
	MaxMessageBytes = 1220

	messageHeaderSize = 5
)

// Message is an outbound alarm message:
// msgTime u32 | count<<4 | count compact events.
type Message struct {
	ID        uuid.UUID
	CreatedAt time.Time
	Payload   []byte
	Alarms    int
}

type builder struct {
	buf       []byte
	count     int
	maxAlarms int
	maxBytes  int
}

func newBuilder(msgTime uint32, maxAlarms, maxBytes int) *builder {
	b := &builder{buf: make([]byte, 0, maxBytes), maxAlarms: maxAlarms, maxBytes: maxBytes}
	b.buf = binary.BigEndian.AppendUint32(b.buf, msgTime)
	b.buf = append(b.buf, 0)
	return b
}

// add appends he when both caps allow it.
func (b *builder) add(he eventlog.HeadEndEvent) bool {
	if b.count >= b.maxAlarms || len(b.buf)+he.EncodedSize() > b.maxBytes {
		return false
	}
	b.buf = eventlog.AppendCompact(b.buf, he)
	b.count++
	return true
}

// finish stamps the alarm count and returns the payload.
func (b *builder) finish() []byte {
	b.buf[4] = byte(b.count) << 4
	return b.buf
}

// DecodeMessage splits a payload into its time and events.
func DecodeMessage(payload []byte) (uint32, []eventlog.HeadEndEvent, error) {
	if len(payload) < messageHeaderSize {
		return 0, nil, fmt.Errorf("alarm: short message (%d bytes)", len(payload))
	}
	msgTime := binary.BigEndian.Uint32(payload)
	n := int(payload[4] >> 4)
	rest := payload[messageHeaderSize:]
	events := make([]eventlog.HeadEndEvent, 0, n)
	for i := 0; i < n; i++ {
		e, used, err := eventlog.DecodeCompact(rest)
		if err != nil {
			return 0, nil, fmt.Errorf("alarm: event %d: %w", i, err)
		}
		events = append(events, e)
		rest = rest[used:]
	}
	if len(rest) != 0 {
		return 0, nil, fmt.Errorf("alarm: %d trailing bytes", len(rest))
	}
	return msgTime, events, nil
}
