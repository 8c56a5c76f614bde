package eventlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/rzbill/evlog/internal/ringbuf"
)

const (
	metadataVersion = 1
	// MetadataSize is the encoded size of a version 1 metadata record.
	MetadataSize = 35
)

const (
	flagInitialized = 1 << iota
	flagRealTimeAlarm
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var errBadMetadata = errors.New("eventlog: bad metadata record")

// Metadata is the persisted state of the store.
type Metadata struct {
	High                   ringbuf.Descriptor
	Normal                 ringbuf.Descriptor
	HighSequence           uint8
	NormalSequence         uint8
	RealtimeThreshold      uint8
	OpportunisticThreshold uint8
	Initialized            bool
	RealTimeAlarm          bool
	MaxTimeDiversity       uint8
}

// MarshalBinary encodes m as a version 1 record.
func (m Metadata) MarshalBinary() ([]byte, error) {
	b := make([]byte, MetadataSize)
	b[0] = metadataVersion
	putDescriptor(b[1:13], m.High)
	putDescriptor(b[13:25], m.Normal)
	b[25] = m.HighSequence
	b[26] = m.NormalSequence
	b[27] = m.RealtimeThreshold
	b[28] = m.OpportunisticThreshold
	var flags byte
	if m.Initialized {
		flags |= flagInitialized
	}
	if m.RealTimeAlarm {
		flags |= flagRealTimeAlarm
	}
	b[29] = flags
	b[30] = m.MaxTimeDiversity
	binary.BigEndian.PutUint32(b[31:], crc32.Checksum(b[:31], castagnoli))
	return b, nil
}

// UnmarshalBinary decodes a version 1 record, rejecting unknown versions and
// checksum mismatches.
func (m *Metadata) UnmarshalBinary(b []byte) error {
	if len(b) != MetadataSize {
		return fmt.Errorf("%w: %d bytes", errBadMetadata, len(b))
	}
	if b[0] != metadataVersion {
		return fmt.Errorf("%w: version %d", errBadMetadata, b[0])
	}
	if got, want := crc32.Checksum(b[:31], castagnoli), binary.BigEndian.Uint32(b[31:]); got != want {
		return fmt.Errorf("%w: crc %08x, want %08x", errBadMetadata, got, want)
	}
	*m = Metadata{
		High:                   getDescriptor(b[1:13]),
		Normal:                 getDescriptor(b[13:25]),
		HighSequence:           b[25],
		NormalSequence:         b[26],
		RealtimeThreshold:      b[27],
		OpportunisticThreshold: b[28],
		Initialized:            b[29]&flagInitialized != 0,
		RealTimeAlarm:          b[29]&flagRealTimeAlarm != 0,
		MaxTimeDiversity:       b[30],
	}
	return nil
}

func putDescriptor(b []byte, d ringbuf.Descriptor) {
	binary.BigEndian.PutUint32(b[0:4], d.Start)
	binary.BigEndian.PutUint32(b[4:8], d.Length)
	binary.BigEndian.PutUint32(b[8:12], d.Capacity)
}

func getDescriptor(b []byte) ringbuf.Descriptor {
	return ringbuf.Descriptor{
		Start:    binary.BigEndian.Uint32(b[0:4]),
		Length:   binary.BigEndian.Uint32(b[4:8]),
		Capacity: binary.BigEndian.Uint32(b[8:12]),
	}
}

// MetadataStore persists the metadata record atomically. Load reports
// found=false when no record was ever saved.
type MetadataStore interface {
	Load() (data []byte, found bool, err error)
	Save(data []byte) error
}

// MemMetadata is an in-memory MetadataStore.
type MemMetadata struct {
	mu    sync.Mutex
	data  []byte
	saves int
	fail  error
}

func NewMemMetadata() *MemMetadata { return &MemMetadata{} }

func (m *MemMetadata) Load() ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, false, nil
	}
	return append([]byte(nil), m.data...), true, nil
}

func (m *MemMetadata) Save(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.data = append([]byte(nil), data...)
	m.saves++
	return nil
}

// Set replaces the stored bytes directly, bypassing Save.
func (m *MemMetadata) Set(data []byte) {
	m.mu.Lock()
	m.data = append([]byte(nil), data...)
	m.mu.Unlock()
}

// FailSaves makes every Save return err until called with nil.
func (m *MemMetadata) FailSaves(err error) {
	m.mu.Lock()
	m.fail = err
	m.mu.Unlock()
}

// Saves returns the number of successful saves.
func (m *MemMetadata) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
