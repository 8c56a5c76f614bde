package eventlog

import (
	"encoding/binary"
	"fmt"
)

// HeadEndHeaderSize is the encoded size of a head-end event before its pairs.
const HeadEndHeaderSize = 7

// HeadEndEvent is the wire-facing projection of a stored record. Pair 0 is
// always the synthetic alarm-index pair.
type HeadEndEvent struct {
	EventID   uint16 `json:"eventId"`
	Timestamp uint32 `json:"timestamp"`
	ValueSize uint8  `json:"valueSize"`
	Pairs     []Pair `json:"pairs"`
}

// Project converts a stored record for the head end. The alarm index is
// carried in the first byte of a pair keyed by readingType; a record without
// values is widened to one byte per value so the index fits.
func Project(rec Record, readingType uint16) HeadEndEvent {
	v := rec.ValueSize & 0x0F
	if v == 0 {
		v = 1
	}
	he := HeadEndEvent{
		EventID:   rec.EventID,
		Timestamp: rec.Timestamp,
		ValueSize: v,
		Pairs:     make([]Pair, 0, len(rec.Pairs)+1),
	}
	idx := make([]byte, v)
	idx[0] = rec.AlarmIndex
	he.Pairs = append(he.Pairs, Pair{Key: readingType, Value: idx})
	for _, p := range rec.Pairs {
		val := make([]byte, v)
		copy(val, p.Value)
		he.Pairs = append(he.Pairs, Pair{Key: p.Key, Value: val})
	}
	return he
}

// HeadEndSize is the encoded size of n pairs of valueSize bytes.
func HeadEndSize(n, valueSize int) int {
	return HeadEndHeaderSize + n*(KeySize+valueSize)
}

// EncodedSize is the number of bytes AppendHeadEnd adds.
func (e HeadEndEvent) EncodedSize() int {
	return HeadEndSize(len(e.Pairs), int(e.ValueSize))
}

// AppendHeadEnd appends the encoding of e:
// eventId u16 | timestamp u32 | pairs<<4|valueSize | pairs.
func AppendHeadEnd(dst []byte, e HeadEndEvent) []byte {
	dst = binary.BigEndian.AppendUint16(dst, e.EventID)
	dst = binary.BigEndian.AppendUint32(dst, e.Timestamp)
	dst = append(dst, byte(len(e.Pairs))<<4|e.ValueSize&0x0F)
	return appendPairs(dst, e.Pairs, int(e.ValueSize))
}

func appendPairs(dst []byte, pairs []Pair, valueSize int) []byte {
	for _, p := range pairs {
		dst = binary.BigEndian.AppendUint16(dst, p.Key)
		val := make([]byte, valueSize)
		copy(val, p.Value)
		dst = append(dst, val...)
	}
	return dst
}

// DecodeHeadEnd decodes one event from the front of b and returns the number
// of bytes consumed.
func DecodeHeadEnd(b []byte) (HeadEndEvent, int, error) {
	if len(b) < HeadEndHeaderSize {
		return HeadEndEvent{}, 0, fmt.Errorf("eventlog: short head-end event (%d bytes)", len(b))
	}
	e := HeadEndEvent{
		EventID:   binary.BigEndian.Uint16(b[0:2]),
		Timestamp: binary.BigEndian.Uint32(b[2:6]),
		ValueSize: b[6] & 0x0F,
	}
	n := int(b[6] >> 4)
	size := HeadEndSize(n, int(e.ValueSize))
	if len(b) < size {
		return HeadEndEvent{}, 0, fmt.Errorf("eventlog: head-end event needs %d bytes, have %d", size, len(b))
	}
	pos := HeadEndHeaderSize
	e.Pairs = make([]Pair, n)
	for i := range e.Pairs {
		e.Pairs[i].Key = binary.BigEndian.Uint16(b[pos:])
		pos += KeySize
		e.Pairs[i].Value = append([]byte(nil), b[pos:pos+int(e.ValueSize)]...)
		pos += int(e.ValueSize)
	}
	return e, size, nil
}

// SplitHeadEnd decodes a buffer of back to back head-end events.
func SplitHeadEnd(b []byte) ([]HeadEndEvent, error) {
	var out []HeadEndEvent
	for len(b) > 0 {
		e, n, err := DecodeHeadEnd(b)
		if err != nil {
			return out, err
		}
		out = append(out, e)
		b = b[n:]
	}
	return out, nil
}

// AlarmIndex returns the index carried by the synthetic pair.
func (e HeadEndEvent) AlarmIndex() uint8 {
	if len(e.Pairs) == 0 || len(e.Pairs[0].Value) == 0 {
		return 0
	}
	return e.Pairs[0].Value[0]
}

// AppendCompact appends e in compact read order:
// timestamp u32 | eventId u16 | pairs<<4|valueSize | pairs.
func AppendCompact(dst []byte, e HeadEndEvent) []byte {
	dst = binary.BigEndian.AppendUint32(dst, e.Timestamp)
	dst = binary.BigEndian.AppendUint16(dst, e.EventID)
	dst = append(dst, byte(len(e.Pairs))<<4|e.ValueSize&0x0F)
	return appendPairs(dst, e.Pairs, int(e.ValueSize))
}

// DecodeCompact decodes one compact read event from the front of b.
func DecodeCompact(b []byte) (HeadEndEvent, int, error) {
	if len(b) < HeadEndHeaderSize {
		return HeadEndEvent{}, 0, fmt.Errorf("eventlog: short compact event (%d bytes)", len(b))
	}
	// same fields as the head-end layout with timestamp and id swapped
	swapped := make([]byte, 0, len(b))
	swapped = append(swapped, b[4:6]...)
	swapped = append(swapped, b[0:4]...)
	swapped = append(swapped, b[6:]...)
	return DecodeHeadEnd(swapped)
}
