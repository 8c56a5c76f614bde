package eventlog

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the encoded size of a stored record header.
	HeaderSize = 12
	// KeySize is the encoded size of a pair key.
	KeySize = 2
	// MaxPairs leaves one slot of the 4-bit head-end pair count for the
	// synthetic alarm-index pair.
	MaxPairs = 14
	// MaxValueSize is the largest value size the 4-bit head-end field carries.
	MaxValueSize = 15
)

// keyHeader bit layout.
const (
	sentBit        = 1 << 15
	pairCountShift = 10
	valueSizeShift = 5
	fieldMask5     = 0x1F
)

// Pair is a name/value detail attached to an event.
type Pair struct {
	Key   uint16
	Value []byte
}

// Header is the fixed part of a stored record.
type Header struct {
	Size       uint16
	AlarmIndex uint8
	Priority   uint8
	EventID    uint16
	Timestamp  uint32
	Sent       bool
	PairCount  uint8
	ValueSize  uint8
}

// Record is a decoded stored record. Offset is the physical position of the
// record in its partition and is only set by scans.
type Record struct {
	Header
	Pairs  []Pair
	Offset uint32
}

func packKeyHeader(sent bool, pairs, valueSize uint8) uint16 {
	v := uint16(pairs&fieldMask5)<<pairCountShift | uint16(valueSize&fieldMask5)<<valueSizeShift
	if sent {
		v |= sentBit
	}
	return v
}

func unpackKeyHeader(v uint16) (sent bool, pairs, valueSize uint8) {
	return v&sentBit != 0, uint8(v>>pairCountShift) & fieldMask5, uint8(v>>valueSizeShift) & fieldMask5
}

func (h Header) put(b []byte) {
	binary.BigEndian.PutUint16(b[0:2], h.Size)
	b[2] = h.AlarmIndex
	b[3] = h.Priority
	binary.BigEndian.PutUint16(b[4:6], h.EventID)
	binary.BigEndian.PutUint32(b[6:10], h.Timestamp)
	binary.BigEndian.PutUint16(b[10:12], packKeyHeader(h.Sent, h.PairCount, h.ValueSize))
}

func decodeHeader(b []byte) Header {
	h := Header{
		Size:       binary.BigEndian.Uint16(b[0:2]),
		AlarmIndex: b[2],
		Priority:   b[3],
		EventID:    binary.BigEndian.Uint16(b[4:6]),
		Timestamp:  binary.BigEndian.Uint32(b[6:10]),
	}
	h.Sent, h.PairCount, h.ValueSize = unpackKeyHeader(binary.BigEndian.Uint16(b[10:12]))
	return h
}

// RecordSize is the encoded size of a record with n pairs of valueSize bytes.
func RecordSize(n, valueSize int) int {
	return HeaderSize + n*(KeySize+valueSize)
}

// EncodeRecord serializes r. Size is computed from the pairs; values shorter
// than ValueSize are zero padded and longer ones truncated.
func EncodeRecord(r Record) []byte {
	h := r.Header
	h.PairCount = uint8(len(r.Pairs))
	h.Size = uint16(RecordSize(len(r.Pairs), int(h.ValueSize)))
	out := make([]byte, h.Size)
	h.put(out)
	pos := HeaderSize
	for _, p := range r.Pairs {
		binary.BigEndian.PutUint16(out[pos:], p.Key)
		pos += KeySize
		copy(out[pos:pos+int(h.ValueSize)], p.Value)
		pos += int(h.ValueSize)
	}
	return out
}

// DecodeRecord parses a full record. The declared size must match len(b).
func DecodeRecord(b []byte) (Record, error) {
	if len(b) < HeaderSize {
		return Record{}, fmt.Errorf("%w: record of %d bytes", ErrCorrupted, len(b))
	}
	h := decodeHeader(b)
	if int(h.Size) != len(b) || int(h.Size) != RecordSize(int(h.PairCount), int(h.ValueSize)) {
		return Record{}, fmt.Errorf("%w: record declares %d bytes, %d pairs of %d, has %d",
			ErrCorrupted, h.Size, h.PairCount, h.ValueSize, len(b))
	}
	r := Record{Header: h, Pairs: make([]Pair, h.PairCount)}
	pos := HeaderSize
	for i := range r.Pairs {
		r.Pairs[i].Key = binary.BigEndian.Uint16(b[pos:])
		pos += KeySize
		r.Pairs[i].Value = append([]byte(nil), b[pos:pos+int(h.ValueSize)]...)
		pos += int(h.ValueSize)
	}
	return r, nil
}
