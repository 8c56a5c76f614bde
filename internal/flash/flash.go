// Package flash defines the raw non-volatile partition contract the event log
// is built on and an in-memory implementation of it.
//
// A partition is a fixed-size byte-addressable region. Reads and writes may
// start at any offset. Erase is the only way to return bytes to the blank
// state, which reads back as 0xFF.
package flash

import (
	"errors"
	"fmt"
	"sync"
)

// Erased is the value an erased byte reads back as.
const Erased byte = 0xFF

var (
	// ErrOutOfRange is returned for accesses beyond the partition size.
	ErrOutOfRange = errors.New("flash: access out of range")
	// ErrInjected is returned by Mem when a fault was requested.
	ErrInjected = errors.New("flash: injected fault")
)

// Partition is a raw read/write/erase device.
type Partition interface {
	Name() string
	Size() uint32
	ReadAt(p []byte, off uint32) error
	WriteAt(p []byte, off uint32) error
	Erase(off, n uint32) error
}

// CheckRange validates [off, off+n) against size.
func CheckRange(size, off, n uint32) error {
	if uint64(off)+uint64(n) > uint64(size) {
		return fmt.Errorf("%w: off=%d n=%d size=%d", ErrOutOfRange, off, n, size)
	}
	return nil
}

// Mem is an in-memory Partition. The zero value is not usable; see NewMem.
type Mem struct {
	mu         sync.Mutex
	name       string
	data       []byte
	failReads  int
	failWrites int
	writes     int
	erases     int
}

// NewMem returns a blank partition of the given size.
func NewMem(name string, size uint32) *Mem {
	m := &Mem{name: name, data: make([]byte, size)}
	for i := range m.data {
		m.data[i] = Erased
	}
	return m
}

func (m *Mem) Name() string { return m.name }

func (m *Mem) Size() uint32 { return uint32(len(m.data)) }

func (m *Mem) ReadAt(p []byte, off uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads > 0 {
		m.failReads--
		return ErrInjected
	}
	if err := CheckRange(m.Size(), off, uint32(len(p))); err != nil {
		return err
	}
	copy(p, m.data[off:])
	return nil
}

func (m *Mem) WriteAt(p []byte, off uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites > 0 {
		m.failWrites--
		return ErrInjected
	}
	if err := CheckRange(m.Size(), off, uint32(len(p))); err != nil {
		return err
	}
	copy(m.data[off:], p)
	m.writes++
	return nil
}

func (m *Mem) Erase(off, n uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := CheckRange(m.Size(), off, n); err != nil {
		return err
	}
	for i := off; i < off+n; i++ {
		m.data[i] = Erased
	}
	m.erases++
	return nil
}

// FailReads makes the next n reads fail with ErrInjected.
func (m *Mem) FailReads(n int) {
	m.mu.Lock()
	m.failReads = n
	m.mu.Unlock()
}

// FailWrites makes the next n writes fail with ErrInjected.
func (m *Mem) FailWrites(n int) {
	m.mu.Lock()
	m.failWrites = n
	m.mu.Unlock()
}

// Raw returns the backing bytes. Mutating them bypasses the device, which is
// how tests inject corruption.
func (m *Mem) Raw() []byte { return m.data }

// Stats reports how many successful writes and erases were performed.
func (m *Mem) Stats() (writes, erases int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes, m.erases
}
