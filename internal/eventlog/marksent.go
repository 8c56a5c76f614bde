package eventlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/rzbill/evlog/internal/ringbuf"
	"github.com/rzbill/evlog/pkg/log"
)

// MarkSent sets the sent bit of every listed record that still holds the
// listed event. Records that were evicted, replaced or already sent are
// skipped. It returns the number of records it rewrote; I/O errors of single
// entries are joined and do not stop the rest of the list.
func (s *Store) MarkSent(ctx context.Context, list []SentDescriptor) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	var (
		processed int
		errs      []error
	)
	for _, sd := range list {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		done, err := s.markOne(sd)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if done {
			processed++
		}
	}
	if err := s.critical(s.persist); err != nil {
		errs = append(errs, err)
	}
	if processed < len(list) {
		s.logger.Info("mark sent partially applied", log.Int("requested", len(list)), log.Int("processed", processed))
	}
	return processed, errors.Join(errs...)
}

func (s *Store) markOne(sd SentDescriptor) (bool, error) {
	if sd.Class != ClassHigh && sd.Class != ClassNormal {
		return false, fmt.Errorf("%w: class %d", ErrInvalid, sd.Class)
	}
	d := s.desc(sd.Class)
	if sd.Offset >= d.Capacity || sd.Size < HeaderSize || uint32(sd.Size) > d.Capacity {
		s.logger.Info("mark sent descriptor out of range", log.Any("descriptor", sd))
		return false, nil
	}
	part := s.parts[sd.Class]
	scratch := ringbuf.Descriptor{Start: sd.Offset, Length: uint32(sd.Size), Capacity: d.Capacity}
	var hdr [HeaderSize]byte
	if _, err := ringbuf.Read(part, &scratch, hdr[:], false); err != nil {
		return false, fmt.Errorf("eventlog: mark sent read at %d: %w", sd.Offset, err)
	}
	h := decodeHeader(hdr[:])
	if h.EventID != sd.EventID || h.Size != sd.Size {
		s.logger.Info("mark sent skipped, record changed",
			log.Uint("offset", uint64(sd.Offset)), log.Uint("want_event", uint64(sd.EventID)), log.Uint("found_event", uint64(h.EventID)))
		return false, nil
	}
	if h.Sent {
		return false, nil
	}
	h.Sent = true
	h.put(hdr[:])
	err := s.critical(func() error {
		_, err := ringbuf.Write(part, &scratch, hdr[:], true)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("eventlog: mark sent write at %d: %w", sd.Offset, err)
	}
	return true, nil
}
