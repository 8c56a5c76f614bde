package heep

import (
	"encoding/binary"
	"fmt"

	"github.com/rzbill/evlog/internal/eventlog"
)

const (
	// ReadingsPerBlock is the capacity of the 4-bit event quantity of one
	// compact read block.
	ReadingsPerBlock = 15
	blockHeaderSize  = 5
)

// compactWriter packs head-end events into chained compact read blocks:
// msgTime u32 | qty<<4, followed by up to 15 events. A block is only opened
// when an event needs it.
type compactWriter struct {
	buf     []byte
	msgTime uint32
	limit   int
	qtyAt   int
	qty     int
	events  int
}

func newCompactWriter(msgTime uint32, limit int) *compactWriter {
	w := &compactWriter{msgTime: msgTime, limit: limit}
	w.openBlock()
	return w
}

func (w *compactWriter) openBlock() {
	w.buf = binary.BigEndian.AppendUint32(w.buf, w.msgTime)
	w.qtyAt = len(w.buf)
	w.buf = append(w.buf, 0)
	w.qty = 0
}

// add reports false when e does not fit in the remaining space.
func (w *compactWriter) add(e eventlog.HeadEndEvent) bool {
	need := e.EncodedSize()
	if w.qty == ReadingsPerBlock {
		need += blockHeaderSize
	}
	if len(w.buf)+need > w.limit {
		return false
	}
	if w.qty == ReadingsPerBlock {
		w.buf[w.qtyAt] = byte(w.qty) << 4
		w.openBlock()
	}
	w.buf = eventlog.AppendCompact(w.buf, e)
	w.qty++
	w.events++
	return true
}

func (w *compactWriter) bytes() []byte {
	w.buf[w.qtyAt] = byte(w.qty) << 4
	return w.buf
}

// Block is one decoded compact read block.
type Block struct {
	MsgTime uint32
	Events  []eventlog.HeadEndEvent
}

// DecodeCompactRead splits a compact read payload into its blocks.
func DecodeCompactRead(b []byte) ([]Block, error) {
	var blocks []Block
	for len(b) > 0 {
		if len(b) < blockHeaderSize {
			return blocks, fmt.Errorf("heep: short block header (%d bytes)", len(b))
		}
		blk := Block{MsgTime: binary.BigEndian.Uint32(b)}
		n := int(b[4] >> 4)
		b = b[blockHeaderSize:]
		for i := 0; i < n; i++ {
			e, used, err := eventlog.DecodeCompact(b)
			if err != nil {
				return blocks, fmt.Errorf("heep: block %d event %d: %w", len(blocks), i, err)
			}
			blk.Events = append(blk.Events, e)
			b = b[used:]
		}
		blocks = append(blocks, blk)
	}
	return blocks, nil
}
