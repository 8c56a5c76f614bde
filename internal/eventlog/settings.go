package eventlog

import (
	"context"
	"fmt"

	"github.com/rzbill/evlog/internal/ringbuf"
)

// Thresholds returns the realtime and opportunistic priority thresholds.
func (s *Store) Thresholds() (realtime, opportunistic uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.RealtimeThreshold, s.meta.OpportunisticThreshold
}

// SetThresholds changes both thresholds. realtime must not be below
// opportunistic.
func (s *Store) SetThresholds(realtime, opportunistic uint8) error {
	return s.update(func(m *Metadata) error {
		return setThresholds(m, realtime, opportunistic)
	})
}

// SetRealtimeThreshold changes the realtime threshold only.
func (s *Store) SetRealtimeThreshold(v uint8) error {
	return s.update(func(m *Metadata) error {
		return setThresholds(m, v, m.OpportunisticThreshold)
	})
}

// SetOpportunisticThreshold changes the opportunistic threshold only.
func (s *Store) SetOpportunisticThreshold(v uint8) error {
	return s.update(func(m *Metadata) error {
		return setThresholds(m, m.RealtimeThreshold, v)
	})
}

func setThresholds(m *Metadata, realtime, opportunistic uint8) error {
	if realtime < opportunistic {
		return fmt.Errorf("%w: %d < %d", ErrInvalidThresholds, realtime, opportunistic)
	}
	m.RealtimeThreshold, m.OpportunisticThreshold = realtime, opportunistic
	return nil
}

// MaxTimeDiversity returns the alarm transmission spread in minutes.
func (s *Store) MaxTimeDiversity() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.MaxTimeDiversity
}

func (s *Store) SetMaxTimeDiversity(minutes uint8) error {
	if minutes > MaxTimeDiversity {
		return fmt.Errorf("%w: %d > %d", ErrInvalidTimeDiversity, minutes, MaxTimeDiversity)
	}
	return s.update(func(m *Metadata) error {
		m.MaxTimeDiversity = minutes
		return nil
	})
}

// RealTimeAlarm reports whether real-time alarms are supported.
func (s *Store) RealTimeAlarm() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.RealTimeAlarm
}

// RealTimeIndex returns the last index assigned in the high buffer.
func (s *Store) RealTimeIndex() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.HighSequence
}

// NormalIndex returns the last index assigned in the normal buffer.
func (s *Store) NormalIndex() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.NormalSequence
}

// Usage returns the descriptor of class c.
func (s *Store) Usage(c Class) ringbuf.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.desc(c)
}

// Metadata returns a copy of the in-memory metadata.
func (s *Store) Metadata() Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// ReadingTypes returns the configured reading type codes.
func (s *Store) ReadingTypes() ReadingTypes { return s.types }

// update applies fn to a copy of the metadata under the store lock and
// persists the result. Nothing changes when fn fails.
func (s *Store) update(fn func(*Metadata) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	prev := s.meta
	next := s.meta
	if err := fn(&next); err != nil {
		return err
	}
	s.meta = next
	if err := s.critical(s.persist); err != nil {
		s.meta = prev
		return err
	}
	return nil
}

// ClearLog empties both buffers and resets the sequences. Thresholds and
// flags are kept.
func (s *Store) ClearLog(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.meta.HighSequence = 0
	s.meta.NormalSequence = 0
	s.meta.High.Reset()
	s.meta.Normal.Reset()
	if err := s.critical(s.persist); err != nil {
		return err
	}
	if err := s.eraseAll(); err != nil {
		return err
	}
	s.logger.Info("event log cleared")
	s.reportUsage()
	return nil
}
