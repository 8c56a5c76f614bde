package eventlog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rzbill/evlog/internal/flash"
	"github.com/rzbill/evlog/internal/ringbuf"
	"github.com/rzbill/evlog/pkg/log"
)

// Options configures Open.
type Options struct {
	High   flash.Partition
	Normal flash.Partition
	Meta   MetadataStore

	// Defaults seed a freshly initialized store. Zero thresholds select the
	// factory defaults.
	Defaults     Defaults
	ReadingTypes ReadingTypes

	Sink     AlarmSink
	Observer Observer
	Logger   log.Logger
	// Now is the store clock. Defaults to time.Now.
	Now func() time.Time
}

// Store is the dual ring buffer event log. All exported methods are safe for
// concurrent use and serialize on a single lock.
type Store struct {
	mu sync.Mutex
	// power guards every write that spans metadata and partition data. It is
	// only ever taken with mu held and never around an erase.
	power sync.Mutex

	meta   Metadata
	parts  [2]flash.Partition
	mstore MetadataStore
	types  ReadingTypes
	defs   Defaults
	sink   AlarmSink
	obs    Observer
	logger log.Logger
	now    func() time.Time
	closed bool
}

// Open loads the store from its metadata record, initializing it when the
// record is missing, unreadable or does not describe the given partitions.
func Open(opts Options) (*Store, error) {
	if opts.High == nil || opts.Normal == nil {
		return nil, errors.New("eventlog: both partitions are required")
	}
	if opts.Meta == nil {
		return nil, errors.New("eventlog: metadata store is required")
	}
	for _, p := range []flash.Partition{opts.High, opts.Normal} {
		if p.Size() < HeaderSize || p.Size() > 1<<24 {
			return nil, fmt.Errorf("eventlog: partition %s has unusable size %d", p.Name(), p.Size())
		}
	}
	s := &Store{
		mstore: opts.Meta,
		types:  opts.ReadingTypes,
		defs:   opts.Defaults,
		sink:   opts.Sink,
		obs:    opts.Observer,
		logger: opts.Logger,
		now:    opts.Now,
	}
	s.parts[ClassHigh] = opts.High
	s.parts[ClassNormal] = opts.Normal
	if s.types == (ReadingTypes{}) {
		s.types = DefaultReadingTypes
	}
	if s.defs.RealtimeThreshold == 0 && s.defs.OpportunisticThreshold == 0 {
		s.defs = DefaultDefaults()
	}
	if s.sink == nil {
		s.sink = noopSink{}
	}
	if s.obs == nil {
		s.obs = noopObserver{}
	}
	if s.logger == nil {
		s.logger = log.NewNopLogger()
	}
	s.logger = s.logger.With(log.Component("eventlog"))
	if s.now == nil {
		s.now = time.Now
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	s.reportUsage()
	return s, nil
}

func (s *Store) load() error {
	data, found, err := s.mstore.Load()
	if err != nil {
		return fmt.Errorf("eventlog: load metadata: %w", err)
	}
	if !found {
		s.logger.Info("no event log metadata, initializing")
		return s.initialize()
	}
	var m Metadata
	if err := m.UnmarshalBinary(data); err != nil {
		s.logger.Warn("event log metadata unreadable, reinitializing", log.Err(err))
		return s.initialize()
	}
	if reason := s.inconsistent(m); reason != "" {
		s.logger.Warn("event log metadata inconsistent, reinitializing", log.Str("reason", reason))
		return s.initialize()
	}
	s.meta = m
	s.logger.Info("event log loaded",
		log.Str("high", m.High.String()), log.Str("normal", m.Normal.String()),
		log.Uint("high_seq", uint64(m.HighSequence)), log.Uint("normal_seq", uint64(m.NormalSequence)))
	return nil
}

func (s *Store) inconsistent(m Metadata) string {
	switch {
	case !m.Initialized:
		return "not initialized"
	case m.High.Capacity != s.parts[ClassHigh].Size() || !m.High.Valid():
		return "high descriptor " + m.High.String()
	case m.Normal.Capacity != s.parts[ClassNormal].Size() || !m.Normal.Valid():
		return "normal descriptor " + m.Normal.String()
	case m.RealtimeThreshold < m.OpportunisticThreshold:
		return "thresholds"
	case m.MaxTimeDiversity > MaxTimeDiversity:
		return "time diversity"
	}
	return ""
}

// initialize writes factory metadata and erases both partitions.
func (s *Store) initialize() error {
	s.meta = Metadata{
		High:                   ringbuf.Descriptor{Capacity: s.parts[ClassHigh].Size()},
		Normal:                 ringbuf.Descriptor{Capacity: s.parts[ClassNormal].Size()},
		RealtimeThreshold:      s.defs.RealtimeThreshold,
		OpportunisticThreshold: s.defs.OpportunisticThreshold,
		Initialized:            true,
		RealTimeAlarm:          s.defs.RealTimeAlarm,
		MaxTimeDiversity:       s.defs.MaxTimeDiversity,
	}
	if err := s.critical(s.persist); err != nil {
		return err
	}
	return s.eraseAll()
}

func (s *Store) eraseAll() error {
	for _, c := range []Class{ClassHigh, ClassNormal} {
		p := s.parts[c]
		if err := p.Erase(0, p.Size()); err != nil {
			return fmt.Errorf("eventlog: erase %s partition: %w", c, err)
		}
	}
	return nil
}

// SetSink replaces the alarm sink. The coordinator is usually built after the
// store it consumes, so it is attached here.
func (s *Store) SetSink(sink AlarmSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sink == nil {
		sink = noopSink{}
	}
	s.sink = sink
}

// Close marks the store closed. Partitions and the metadata store are owned
// by the caller.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) desc(c Class) *ringbuf.Descriptor {
	if c == ClassHigh {
		return &s.meta.High
	}
	return &s.meta.Normal
}

func (s *Store) seq(c Class) *uint8 {
	if c == ClassHigh {
		return &s.meta.HighSequence
	}
	return &s.meta.NormalSequence
}

// critical runs fn inside the power section.
func (s *Store) critical(fn func() error) error {
	s.power.Lock()
	defer s.power.Unlock()
	return fn()
}

func (s *Store) persist() error {
	b, err := s.meta.MarshalBinary()
	if err != nil {
		return err
	}
	if err := s.mstore.Save(b); err != nil {
		return fmt.Errorf("eventlog: persist metadata: %w", err)
	}
	return nil
}

func (s *Store) reportUsage() {
	s.obs.BufferUsage(ClassHigh, s.meta.High)
	s.obs.BufferUsage(ClassNormal, s.meta.Normal)
}

func (s *Store) notLogged() LoggedDetails {
	return LoggedDetails{ReadingType: s.types.Invalid}
}

func (s *Store) classFor(priority uint8) (Class, bool) {
	switch {
	case priority >= s.meta.RealtimeThreshold:
		return ClassHigh, true
	case priority >= s.meta.OpportunisticThreshold:
		return ClassNormal, true
	}
	return 0, false
}

func (s *Store) validate(c Class, ev Event) error {
	if len(ev.Pairs) > MaxPairs {
		return fmt.Errorf("%w: %d > %d", ErrTooManyPairs, len(ev.Pairs), MaxPairs)
	}
	if ev.ValueSize > MaxValueSize {
		return fmt.Errorf("%w: %d > %d", ErrValueSize, ev.ValueSize, MaxValueSize)
	}
	for _, p := range ev.Pairs {
		if len(p.Value) > int(ev.ValueSize) {
			return fmt.Errorf("%w: pair %d value has %d bytes, value size is %d", ErrValueSize, p.Key, len(p.Value), ev.ValueSize)
		}
	}
	if c == ClassNormal {
		v := int(ev.ValueSize)
		if v == 0 {
			v = 1
		}
		if size := HeadEndSize(len(ev.Pairs)+1, v); size > MaxAlarmMemory {
			return fmt.Errorf("%w: head-end size %d > %d", ErrEventTooLarge, size, MaxAlarmMemory)
		}
	}
	if size := RecordSize(len(ev.Pairs), int(ev.ValueSize)); uint32(size) > s.desc(c).Capacity {
		return fmt.Errorf("%w: record size %d exceeds %s capacity", ErrEventTooLarge, size, c)
	}
	return nil
}

// LogEvent stores an event in the buffer its priority selects.
//
// Events below the opportunistic threshold are dropped without error. Invalid
// events fail with an error wrapping ErrInvalid. High-class events that are
// not marked sent are handed to the alarm sink once stored.
func (s *Store) LogEvent(ctx context.Context, priority uint8, ev Event, mode TimestampMode) (Action, LoggedDetails, error) {
	if err := ctx.Err(); err != nil {
		return ActionFailed, LoggedDetails{ReadingType: s.types.Invalid}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ActionFailed, s.notLogged(), ErrClosed
	}

	class, ok := s.classFor(priority)
	if !ok {
		s.logger.Debug("event below thresholds", log.Uint("event_id", uint64(ev.ID)), log.Uint("priority", uint64(priority)))
		s.obs.EventDropped("priority")
		return ActionDropped, s.notLogged(), nil
	}
	if err := s.validate(class, ev); err != nil {
		s.logger.Info("event rejected", log.Uint("event_id", uint64(ev.ID)), log.Err(err))
		s.obs.EventDropped("invalid")
		return ActionFailed, s.notLogged(), err
	}

	ts := ev.Timestamp
	if mode == TimestampNow {
		ts = uint32(s.now().Unix())
	}
	idx := *s.seq(class) + 1
	if idx == 0 {
		idx = 1
	}
	rec := Record{
		Header: Header{
			AlarmIndex: idx,
			Priority:   priority,
			EventID:    ev.ID,
			Timestamp:  ts,
			Sent:       ev.MarkSent || class == ClassHigh,
			ValueSize:  ev.ValueSize,
		},
		Pairs: ev.Pairs,
	}
	buf := EncodeRecord(rec)
	rec.Size = uint16(len(buf))
	rec.PairCount = uint8(len(ev.Pairs))

	off, err := s.append(class, buf, idx)
	if err != nil {
		s.logger.Error("event write failed", log.Str("class", class.String()), log.Uint("event_id", uint64(ev.ID)), log.Err(err))
		s.obs.EventDropped("write")
		return ActionFailed, s.notLogged(), err
	}
	rec.Offset = off
	s.obs.EventLogged(class, len(buf))
	s.obs.BufferUsage(class, *s.desc(class))

	if class == ClassHigh && !ev.MarkSent {
		s.sink.AlarmLogged(rec)
	}
	return ActionQueued, LoggedDetails{ReadingType: s.types.forClass(class), Index: idx}, nil
}

// append makes room for buf, writes it and commits the new sequence value.
// It returns the physical offset of the record.
func (s *Store) append(c Class, buf []byte, idx uint8) (uint32, error) {
	d := s.desc(c)
	part := s.parts[c]
	n := uint32(len(buf))
	if n > d.Free() {
		prev := *d
		freed, err := s.makeRoom(part, d, n-d.Free())
		switch {
		case errors.Is(err, ErrCorrupted):
			s.logger.Error("corruption while making room", log.Str("class", c.String()), log.Err(err))
			if rerr := s.recover(c); rerr != nil {
				return 0, rerr
			}
		case err != nil:
			if freed > 0 {
				_ = s.critical(s.persist)
			}
			return 0, err
		case freed > 0:
			if err := s.critical(s.persist); err != nil {
				*d = prev
				return 0, err
			}
		}
	}

	off := d.End()
	err := s.critical(func() error {
		if _, err := ringbuf.Write(part, d, buf, false); err != nil {
			return fmt.Errorf("eventlog: write %s record: %w", c, err)
		}
		*s.seq(c) = idx
		return s.persist()
	})
	return off, err
}

// makeRoom discards the oldest whole records of d until need bytes were
// freed.
func (s *Store) makeRoom(part flash.Partition, d *ringbuf.Descriptor, need uint32) (uint32, error) {
	var hdr [2]byte
	var freed uint32
	for freed < need {
		if d.Length < HeaderSize {
			return freed, fmt.Errorf("%w: %d stray bytes while %d more are needed", ErrCorrupted, d.Length, need-freed)
		}
		if _, err := ringbuf.Read(part, d, hdr[:], false); err != nil {
			return freed, fmt.Errorf("eventlog: read record size: %w", err)
		}
		size := uint32(binary.BigEndian.Uint16(hdr[:]))
		if size < HeaderSize || size > d.Length {
			return freed, fmt.Errorf("%w: record at %d declares %d bytes, %d stored", ErrCorrupted, d.Start, size, d.Length)
		}
		if err := ringbuf.Discard(d, size); err != nil {
			return freed, err
		}
		freed += size
	}
	return freed, nil
}

// recover resets the descriptor of c, persists it and erases the partition.
// Erasing an already empty partition is harmless.
func (s *Store) recover(c Class) error {
	last := *s.seq(c)
	d := s.desc(c)
	s.logger.Error("erasing corrupted partition",
		log.Str("class", c.String()), log.Str("descriptor", d.String()), log.Uint("last_index", uint64(last)))
	d.Reset()
	if err := s.critical(s.persist); err != nil {
		return err
	}
	part := s.parts[c]
	if err := part.Erase(0, part.Size()); err != nil {
		return fmt.Errorf("eventlog: erase %s partition: %w", c, err)
	}
	s.obs.CorruptionRecovered(c)
	s.obs.BufferUsage(c, *d)
	s.sink.LogCleared(ClearedInfo{Class: c, ReadingType: s.types.forClass(c), LastIndex: last})
	return nil
}
