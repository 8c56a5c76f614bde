package ringbuf

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rzbill/evlog/internal/flash"
)

func newRing(t *testing.T, capacity uint32) (*flash.Mem, Descriptor) {
	t.Helper()
	return flash.NewMem("ring", capacity), Descriptor{Capacity: capacity}
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

func TestWrapRoundTripAllStarts(t *testing.T) {
	const capacity = 37
	for _, size := range []int{1, 5, 17, capacity} {
		for start := uint32(0); start < capacity; start++ {
			dev, d := newRing(t, capacity)
			d.Start = start
			data := pattern(size, byte(start))
			if _, err := Write(dev, &d, data, false); err != nil {
				t.Fatalf("size=%d start=%d write: %v", size, start, err)
			}
			if d.Length != uint32(size) {
				t.Fatalf("length=%d want %d", d.Length, size)
			}
			got := make([]byte, size)
			if _, err := Read(dev, &d, got, true); err != nil {
				t.Fatalf("size=%d start=%d read: %v", size, start, err)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("size=%d start=%d got %v want %v", size, start, got, data)
			}
			if !d.Empty() || d.Start != (start+uint32(size))%capacity {
				t.Fatalf("descriptor after purge %s", d)
			}
		}
	}
}

func TestAppendRequiresRoom(t *testing.T) {
	dev, d := newRing(t, 10)
	if _, err := Write(dev, &d, pattern(8, 0), false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Write(dev, &d, pattern(3, 0), false); !errors.Is(err, ErrNoSpace) {
		t.Fatalf("want ErrNoSpace, got %v", err)
	}
	if d.Length != 8 {
		t.Fatalf("failed append changed length: %s", d)
	}
}

func TestPeekLeavesDescriptor(t *testing.T) {
	dev, d := newRing(t, 16)
	if _, err := Write(dev, &d, pattern(6, 1), false); err != nil {
		t.Fatalf("write: %v", err)
	}
	before := d
	if _, err := Read(dev, &d, make([]byte, 4), false); err != nil {
		t.Fatalf("peek: %v", err)
	}
	if d != before {
		t.Fatalf("peek moved descriptor %s -> %s", before, d)
	}
	if _, err := Read(dev, &d, make([]byte, 7), false); !errors.Is(err, ErrUnderrun) {
		t.Fatalf("want ErrUnderrun, got %v", err)
	}
}

func TestOverwriteInPlaceAcrossEnd(t *testing.T) {
	dev, d := newRing(t, 10)
	d.Start = 7
	if _, err := Write(dev, &d, pattern(6, 0), false); err != nil {
		t.Fatalf("write: %v", err)
	}
	scratch := Descriptor{Start: 8, Length: 5, Capacity: 10}
	if _, err := Write(dev, &scratch, []byte{0xA, 0xB, 0xC}, true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if scratch.Length != 5 {
		t.Fatalf("overwrite changed length: %s", scratch)
	}
	got := make([]byte, 6)
	if _, err := Read(dev, &d, got, false); err != nil {
		t.Fatalf("read: %v", err)
	}
	if want := []byte{0, 0xA, 0xB, 0xC, 4, 5}; !bytes.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestFailedWriteKeepsLength(t *testing.T) {
	dev, d := newRing(t, 10)
	d.Start = 8
	dev.FailWrites(2)
	if _, err := Write(dev, &d, pattern(4, 0), false); err == nil {
		t.Fatalf("expected write failure")
	}
	if d.Length != 0 {
		t.Fatalf("length moved on failure: %s", d)
	}
}

// Conservation: a sequence of appends and whole-record discards keeps Length
// equal to the bytes logically present and never above capacity.
func TestConservation(t *testing.T) {
	dev, d := newRing(t, 64)
	var sizes []uint32
	var present uint32
	for i := 0; i < 200; i++ {
		size := uint32(3 + i%11)
		for d.Free() < size {
			if err := Discard(&d, sizes[0]); err != nil {
				t.Fatalf("discard: %v", err)
			}
			present -= sizes[0]
			sizes = sizes[1:]
		}
		if _, err := Write(dev, &d, pattern(int(size), byte(i)), false); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		sizes = append(sizes, size)
		present += size
		if d.Length != present || d.Length > d.Capacity {
			t.Fatalf("iteration %d: length=%d present=%d", i, d.Length, present)
		}
	}
}

func TestInvalidDescriptor(t *testing.T) {
	dev := flash.NewMem("x", 4)
	d := Descriptor{Start: 4, Capacity: 4}
	if _, err := Write(dev, &d, []byte{1}, false); !errors.Is(err, ErrRange) {
		t.Fatalf("want ErrRange, got %v", err)
	}
}
