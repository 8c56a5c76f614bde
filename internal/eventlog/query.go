package eventlog

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/rzbill/evlog/internal/flash"
	"github.com/rzbill/evlog/internal/ringbuf"
	"github.com/rzbill/evlog/pkg/log"
)

// QueryKind selects the predicate of a query.
type QueryKind uint8

const (
	// QueryUnsent matches every record whose sent bit is clear.
	QueryUnsent QueryKind = iota
	// QueryByDate matches timestamps in [Start, End].
	QueryByDate
	// QueryByIndex matches the circular alarm index range [Start, End] of one
	// severity. The newest physical copy of an index wins.
	QueryByIndex
)

func (k QueryKind) String() string {
	switch k {
	case QueryUnsent:
		return "unsent"
	case QueryByDate:
		return "date"
	case QueryByIndex:
		return "index"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Query describes which records to extract.
type Query struct {
	Kind     QueryKind
	Start    uint32
	End      uint32
	Severity Severity
}

func Unsent() Query { return Query{Kind: QueryUnsent} }

func ByDate(start, end uint32) Query { return Query{Kind: QueryByDate, Start: start, End: end} }

func ByIndex(start, end uint8, sev Severity) Query {
	return Query{Kind: QueryByIndex, Start: uint32(start), End: uint32(end), Severity: sev}
}

func (q Query) validate() error {
	switch q.Kind {
	case QueryUnsent:
	case QueryByDate:
		if q.Start > q.End {
			return fmt.Errorf("%w: date range %d..%d", ErrInvalidQuery, q.Start, q.End)
		}
	case QueryByIndex:
		if !q.Severity.valid() {
			return fmt.Errorf("%w: severity %d", ErrInvalidQuery, q.Severity)
		}
		if q.Start > 0xFF || q.End > 0xFF {
			return fmt.Errorf("%w: index range %d..%d", ErrInvalidQuery, q.Start, q.End)
		}
	default:
		return fmt.Errorf("%w: kind %d", ErrInvalidQuery, q.Kind)
	}
	return nil
}

func (q Query) scans(c Class) bool {
	return q.Kind != QueryByIndex || q.Severity.Class() == c
}

func (q Query) match(h Header) bool {
	switch q.Kind {
	case QueryUnsent:
		return !h.Sent
	case QueryByDate:
		return h.Timestamp >= q.Start && h.Timestamp <= q.End
	case QueryByIndex:
		idx := uint32(h.AlarmIndex)
		if q.Start <= q.End {
			return idx >= q.Start && idx <= q.End
		}
		return idx <= q.End || idx >= q.Start
	}
	return false
}

// Status tells whether an extraction returned every match.
type Status uint8

const (
	StatusSuccess Status = iota
	// StatusSizeLimitReached means a matching record did not fit; the results
	// are valid but partial.
	StatusSizeLimitReached
)

func (s Status) String() string {
	if s == StatusSizeLimitReached {
		return "size-limit-reached"
	}
	return "success"
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// QueryResult is the output of QueryBy. Data holds back to back head-end
// events, see SplitHeadEnd.
type QueryResult struct {
	Status         Status
	Data           []byte
	LastAlarmIndex uint8
	Events         int
}

// SentDescriptor locates a record returned by GetLog so MarkSent can retire
// it.
type SentDescriptor struct {
	EventID uint16 `json:"eventId"`
	Class   Class  `json:"class"`
	Offset  uint32 `json:"offset"`
	Size    uint16 `json:"size"`
}

// LogBatch is the output of GetLog.
type LogBatch struct {
	Status         Status
	Data           []byte
	LastAlarmIndex uint8
	Events         int
	Sent           []SentDescriptor
}

type extraction struct {
	limit     int
	data      []byte
	lastIndex uint8
	events    int
	passback  bool
	sent      []SentDescriptor
}

// QueryBy extracts the records matching q into at most size bytes. The high
// buffer is scanned first and the normal buffer gets the remaining space; an
// index query only scans the buffer its severity selects.
func (s *Store) QueryBy(ctx context.Context, q Query, size int) (QueryResult, error) {
	if err := q.validate(); err != nil {
		return QueryResult{}, err
	}
	if size < 0 {
		return QueryResult{}, fmt.Errorf("%w: size %d", ErrInvalidQuery, size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return QueryResult{}, ErrClosed
	}
	x := &extraction{limit: size}
	status, err := s.extract(ctx, q, x)
	if err != nil {
		return QueryResult{}, err
	}
	return QueryResult{Status: status, Data: x.data, LastAlarmIndex: x.lastIndex, Events: x.events}, nil
}

// GetLog returns every unsent record of both buffers that fits in size bytes,
// with the descriptors MarkSent needs to retire them.
func (s *Store) GetLog(ctx context.Context, size int) (LogBatch, error) {
	if size < 0 {
		return LogBatch{}, fmt.Errorf("%w: size %d", ErrInvalidQuery, size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return LogBatch{}, ErrClosed
	}
	x := &extraction{limit: size, passback: true}
	status, err := s.extract(ctx, Unsent(), x)
	if err != nil {
		return LogBatch{}, err
	}
	return LogBatch{Status: status, Data: x.data, LastAlarmIndex: x.lastIndex, Events: x.events, Sent: x.sent}, nil
}

func (s *Store) extract(ctx context.Context, q Query, x *extraction) (Status, error) {
	status := StatusSuccess
	var err error
	for _, c := range []Class{ClassHigh, ClassNormal} {
		if !q.scans(c) {
			continue
		}
		if err = ctx.Err(); err != nil {
			break
		}
		var st Status
		st, err = s.loadBuffer(c, q, x)
		if err != nil {
			break
		}
		if st == StatusSizeLimitReached {
			status = st
		}
	}
	// scans may have recovered a partition
	if perr := s.critical(s.persist); perr != nil && err == nil {
		err = perr
	}
	return status, err
}

// loadBuffer scans class c from oldest to newest on a copy of its
// descriptor and appends matching records to x.
func (s *Store) loadBuffer(c Class, q Query, x *extraction) (Status, error) {
	part := s.parts[c]
	readingType := s.types.forClass(c)
	status := StatusSuccess
	err := s.walk(c, func(rec Record, rest ringbuf.Descriptor) (bool, error) {
		if !q.match(rec.Header) {
			return true, nil
		}
		if q.Kind == QueryByIndex {
			newer, err := laterIndex(part, rest, rec.AlarmIndex)
			if err != nil {
				return false, err
			}
			if newer {
				return true, nil
			}
		}
		he := Project(rec, readingType)
		if he.EncodedSize() > x.limit-len(x.data) {
			status = StatusSizeLimitReached
			return false, nil
		}
		x.data = AppendHeadEnd(x.data, he)
		x.lastIndex = rec.AlarmIndex
		x.events++
		if x.passback {
			x.sent = append(x.sent, SentDescriptor{EventID: rec.EventID, Class: c, Offset: rec.Offset, Size: rec.Size})
		}
		return true, nil
	})
	return status, err
}

// walk calls fn for every record of class c, oldest first, together with
// the descriptor of the records after it. The live descriptor is not
// touched. A malformed record recovers the partition and returns
// ErrCorrupted.
func (s *Store) walk(c Class, fn func(rec Record, rest ringbuf.Descriptor) (bool, error)) error {
	cur := *s.desc(c)
	part := s.parts[c]
	var hdr [HeaderSize]byte
	for !cur.Empty() {
		if cur.Length < HeaderSize {
			return s.scanCorrupted(c, fmt.Errorf("%w: %d stray bytes at %d", ErrCorrupted, cur.Length, cur.Start))
		}
		if _, err := ringbuf.Read(part, &cur, hdr[:], false); err != nil {
			return fmt.Errorf("eventlog: read %s header: %w", c, err)
		}
		h := decodeHeader(hdr[:])
		if h.Size < HeaderSize || uint32(h.Size) > cur.Length {
			return s.scanCorrupted(c, fmt.Errorf("%w: record at %d declares %d bytes, %d stored", ErrCorrupted, cur.Start, h.Size, cur.Length))
		}
		offset := cur.Start
		raw := make([]byte, h.Size)
		if _, err := ringbuf.Read(part, &cur, raw, true); err != nil {
			return fmt.Errorf("eventlog: read %s record: %w", c, err)
		}
		rec, err := DecodeRecord(raw)
		if err != nil {
			return s.scanCorrupted(c, err)
		}
		rec.Offset = offset
		more, err := fn(rec, cur)
		if err != nil || !more {
			return err
		}
	}
	return nil
}

func (s *Store) scanCorrupted(c Class, cause error) error {
	s.logger.Error("corrupted record found during scan", log.Str("class", c.String()), log.Err(cause))
	if err := s.recover(c); err != nil {
		return fmt.Errorf("%w (recovery failed: %v)", cause, err)
	}
	return cause
}

// laterIndex reports whether a record with index idx is stored in the part of
// the ring after's descriptor covers. Malformed records end the search; the
// main scan reports them.
func laterIndex(part flash.Partition, after ringbuf.Descriptor, idx uint8) (bool, error) {
	var hdr [3]byte
	for after.Length >= HeaderSize {
		if _, err := ringbuf.Read(part, &after, hdr[:], false); err != nil {
			return false, fmt.Errorf("eventlog: obsolete index scan: %w", err)
		}
		if hdr[2] == idx {
			return true, nil
		}
		size := uint32(binary.BigEndian.Uint16(hdr[:2]))
		if size < HeaderSize || size > after.Length {
			return false, nil
		}
		_ = ringbuf.Discard(&after, size)
	}
	return false, nil
}
