package pebblestore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/evlog/internal/flash"
)

// SectorSize is the granularity partitions are stored at. Each sector is one
// Pebble value; a sector that was never written reads as erased.
const SectorSize = 4096

const partitionPrefix = "evl/part/"

// Partition is a flash.Partition persisted in Pebble.
type Partition struct {
	db   *DB
	name string
	size uint32
	// serializes read-modify-write of sectors
	mu sync.Mutex
}

var _ flash.Partition = (*Partition)(nil)

// OpenPartition returns the named partition of the given size. Reopening a
// partition with the same name sees the bytes written before.
func OpenPartition(db *DB, name string, size uint32) (*Partition, error) {
	if name == "" {
		return nil, errors.New("pebble: partition name is required")
	}
	if size == 0 {
		return nil, fmt.Errorf("pebble: partition %s has zero size", name)
	}
	return &Partition{db: db, name: name, size: size}, nil
}

func (p *Partition) Name() string { return p.name }

func (p *Partition) Size() uint32 { return p.size }

func (p *Partition) sectorKey(sector uint32) []byte {
	k := make([]byte, 0, len(partitionPrefix)+len(p.name)+5)
	k = append(k, partitionPrefix...)
	k = append(k, p.name...)
	k = append(k, '/')
	return binary.BigEndian.AppendUint32(k, sector)
}

func (p *Partition) loadSector(sector uint32) ([]byte, error) {
	v, err := p.db.Get(p.sectorKey(sector))
	if errors.Is(err, ErrNotFound) {
		blank := make([]byte, SectorSize)
		for i := range blank {
			blank[i] = flash.Erased
		}
		return blank, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pebble: partition %s sector %d: %w", p.name, sector, err)
	}
	if len(v) != SectorSize {
		return nil, fmt.Errorf("pebble: partition %s sector %d has %d bytes", p.name, sector, len(v))
	}
	return v, nil
}

// ReadAt fills b from offset off.
func (p *Partition) ReadAt(b []byte, off uint32) error {
	if err := flash.CheckRange(p.size, off, uint32(len(b))); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for done := 0; done < len(b); {
		pos := off + uint32(done)
		sector, in := pos/SectorSize, pos%SectorSize
		data, err := p.loadSector(sector)
		if err != nil {
			return err
		}
		done += copy(b[done:], data[in:])
	}
	return nil
}

// WriteAt stores b at offset off. All touched sectors commit in one batch.
func (p *Partition) WriteAt(b []byte, off uint32) error {
	if err := flash.CheckRange(p.size, off, uint32(len(b))); err != nil {
		return err
	}
	return p.modify(off, uint32(len(b)), func(dst []byte, done int) int {
		return copy(dst, b[done:])
	})
}

// Erase sets [off, off+n) back to 0xFF. Whole sectors are deleted; partial
// sectors are rewritten.
func (p *Partition) Erase(off, n uint32) error {
	if err := flash.CheckRange(p.size, off, n); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	if off == 0 && n == p.size {
		p.mu.Lock()
		defer p.mu.Unlock()
		last := (p.size + SectorSize - 1) / SectorSize
		return p.db.DeleteRange(p.sectorKey(0), p.sectorKey(last))
	}
	return p.modify(off, n, func(dst []byte, _ int) int {
		for i := range dst {
			dst[i] = flash.Erased
		}
		return len(dst)
	})
}

func (p *Partition) modify(off, n uint32, fill func(dst []byte, done int) int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.db.Update(context.Background(), func(batch *pebble.Batch) error {
		for done := uint32(0); done < n; {
			pos := off + done
			sector, in := pos/SectorSize, pos%SectorSize
			data, err := p.loadSector(sector)
			if err != nil {
				return err
			}
			end := in + (n - done)
			if end > SectorSize {
				end = SectorSize
			}
			done += uint32(fill(data[in:end], int(done)))
			if err := batch.Set(p.sectorKey(sector), data, nil); err != nil {
				return err
			}
		}
		return nil
	})
}
