// Package ringbuf implements wrap-around reads and writes over a fixed-size
// byte device addressed by a (start, length, capacity) descriptor.
//
// The descriptor is a plain value. Scans copy it, consume records from the
// copy, and throw the copy away, which leaves the authoritative descriptor
// untouched.
package ringbuf

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSpace is returned by an append that does not fit in the free space.
	ErrNoSpace = errors.New("ringbuf: insufficient free space")
	// ErrUnderrun is returned when more bytes are requested than are stored.
	ErrUnderrun = errors.New("ringbuf: read beyond stored data")
	// ErrRange is returned for malformed descriptors.
	ErrRange = errors.New("ringbuf: descriptor out of range")
)

// Device is the subset of a flash partition the ring needs.
type Device interface {
	ReadAt(p []byte, off uint32) error
	WriteAt(p []byte, off uint32) error
}

// Descriptor locates the logical content of a ring.
type Descriptor struct {
	Start    uint32 `json:"start"`
	Length   uint32 `json:"length"`
	Capacity uint32 `json:"capacity"`
}

// Empty reports whether the ring holds no data.
func (d Descriptor) Empty() bool { return d.Length == 0 }

// Free returns the number of bytes that can be appended.
func (d Descriptor) Free() uint32 { return d.Capacity - d.Length }

// End returns the physical offset one past the newest byte.
func (d Descriptor) End() uint32 {
	if d.Capacity == 0 {
		return 0
	}
	return uint32((uint64(d.Start) + uint64(d.Length)) % uint64(d.Capacity))
}

// Valid reports whether the descriptor invariants hold.
func (d Descriptor) Valid() bool {
	return d.Capacity > 0 && d.Start < d.Capacity && d.Length <= d.Capacity
}

// Reset empties the ring and rewinds it to offset 0.
func (d *Descriptor) Reset() {
	d.Start = 0
	d.Length = 0
}

func (d Descriptor) String() string {
	return fmt.Sprintf("{start=%d length=%d capacity=%d}", d.Start, d.Length, d.Capacity)
}

// Write stores data in the ring.
//
// In append mode data goes after the newest byte and Length grows by
// len(data); the caller must have made room first. In overwrite mode data
// replaces bytes starting at Start and Length is unchanged, which is how a
// single field of an already stored record is rewritten.
//
// Length is only updated once every segment was written.
func Write(dev Device, d *Descriptor, data []byte, overwrite bool) (int, error) {
	if !d.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrRange, d)
	}
	n := uint32(len(data))
	var pos uint32
	if overwrite {
		if n > d.Length {
			return 0, fmt.Errorf("%w: overwrite of %d bytes over %d", ErrUnderrun, n, d.Length)
		}
		pos = d.Start
	} else {
		if n > d.Free() {
			return 0, fmt.Errorf("%w: need %d, free %d", ErrNoSpace, n, d.Free())
		}
		pos = d.End()
	}

	first := n
	if toEnd := d.Capacity - pos; first > toEnd {
		first = toEnd
	}
	if first > 0 {
		if err := dev.WriteAt(data[:first], pos); err != nil {
			return 0, err
		}
	}
	if first < n {
		if err := dev.WriteAt(data[first:], 0); err != nil {
			return int(first), err
		}
	}
	if !overwrite {
		d.Length += n
	}
	return int(n), nil
}

// Read fills dst from the oldest stored byte. With purge set the bytes are
// consumed, advancing Start and shrinking Length.
func Read(dev Device, d *Descriptor, dst []byte, purge bool) (int, error) {
	if !d.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrRange, d)
	}
	n := uint32(len(dst))
	if n > d.Length {
		return 0, fmt.Errorf("%w: want %d, have %d", ErrUnderrun, n, d.Length)
	}
	first := n
	if toEnd := d.Capacity - d.Start; first > toEnd {
		first = toEnd
	}
	if first > 0 {
		if err := dev.ReadAt(dst[:first], d.Start); err != nil {
			return 0, err
		}
	}
	if first < n {
		if err := dev.ReadAt(dst[first:], 0); err != nil {
			return 0, err
		}
	}
	if purge {
		d.advance(n)
	}
	return int(n), nil
}

// Discard consumes n bytes without reading them.
func Discard(d *Descriptor, n uint32) error {
	if n > d.Length {
		return fmt.Errorf("%w: discard %d, have %d", ErrUnderrun, n, d.Length)
	}
	d.advance(n)
	return nil
}

func (d *Descriptor) advance(n uint32) {
	d.Start = uint32((uint64(d.Start) + uint64(n)) % uint64(d.Capacity))
	d.Length -= n
}
