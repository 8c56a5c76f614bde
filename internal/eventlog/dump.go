package eventlog

import (
	"context"

	"github.com/rzbill/evlog/internal/ringbuf"
)

// Records returns the stored records of class c, oldest first, that pass f.
// It does not change the log unless it finds corruption, in which case the
// partition is recovered and ErrCorrupted returned.
func (s *Store) Records(ctx context.Context, c Class, f Filter) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []Record
	err := s.walk(c, func(rec Record, _ ringbuf.Descriptor) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if f.Match(c, rec) {
			out = append(out, rec)
		}
		return true, nil
	})
	return out, err
}
