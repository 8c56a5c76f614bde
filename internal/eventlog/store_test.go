package eventlog

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rzbill/evlog/internal/flash"
	"github.com/rzbill/evlog/internal/ringbuf"
)

type recordingSink struct {
	mu      sync.Mutex
	alarms  []Record
	cleared []ClearedInfo
}

func (r *recordingSink) AlarmLogged(rec Record) {
	r.mu.Lock()
	r.alarms = append(r.alarms, rec)
	r.mu.Unlock()
}

func (r *recordingSink) LogCleared(info ClearedInfo) {
	r.mu.Lock()
	r.cleared = append(r.cleared, info)
	r.mu.Unlock()
}

type testStore struct {
	*Store
	high, normal *flash.Mem
	record       *MemMetadata
	sink         *recordingSink
}

var testClock = time.Unix(1_700_000_000, 0)

func newTestStore(t *testing.T, highSize, normalSize uint32) *testStore {
	t.Helper()
	ts := &testStore{
		high:   flash.NewMem("alarm-high", highSize),
		normal: flash.NewMem("alarm-normal", normalSize),
		record: NewMemMetadata(),
		sink:   &recordingSink{},
	}
	ts.Store = ts.reopen(t)
	return ts
}

func (ts *testStore) reopen(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{
		High:   ts.high,
		Normal: ts.normal,
		Meta:   ts.record,
		Sink:   ts.sink,
		Now:    func() time.Time { return testClock },
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

// event builds an event whose stored record is RecordSize(pairs, valueSize)
// bytes long.
func event(id uint16, ts uint32, pairs int, valueSize uint8) Event {
	ev := Event{ID: id, Timestamp: ts, ValueSize: valueSize}
	for i := 0; i < pairs; i++ {
		ev.Pairs = append(ev.Pairs, Pair{Key: uint16(100 + i), Value: bytes.Repeat([]byte{byte(i + 1)}, int(valueSize))})
	}
	return ev
}

func mustLog(t *testing.T, s *Store, priority uint8, ev Event) LoggedDetails {
	t.Helper()
	act, d, err := s.LogEvent(context.Background(), priority, ev, TimestampProvided)
	if err != nil || act != ActionQueued {
		t.Fatalf("log event %d: action=%v err=%v", ev.ID, act, err)
	}
	return d
}

func records(t *testing.T, s *Store, c Class) []Record {
	t.Helper()
	recs, err := s.Records(context.Background(), c, Filter{})
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	return recs
}

func eventIDs(recs []Record) []uint16 {
	ids := make([]uint16, len(recs))
	for i, r := range recs {
		ids[i] = r.EventID
	}
	return ids
}

func equalIDs(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOpenInitializesFreshStore(t *testing.T) {
	ts := newTestStore(t, 256, 512)
	m := ts.Metadata()
	if !m.Initialized || m.High.Capacity != 256 || m.Normal.Capacity != 512 {
		t.Fatalf("metadata %+v", m)
	}
	if m.RealtimeThreshold != DefaultRealtimeThreshold || m.OpportunisticThreshold != DefaultOpportunisticThreshold {
		t.Fatalf("thresholds %d/%d", m.RealtimeThreshold, m.OpportunisticThreshold)
	}
	if ts.record.Saves() == 0 {
		t.Fatalf("metadata not persisted")
	}
}

func TestLogEventClassification(t *testing.T) {
	ts := newTestStore(t, 256, 256)
	ctx := context.Background()
	tests := []struct {
		priority uint8
		want     Action
		class    Class
		rt       uint16
	}{
		{84, ActionDropped, 0, DefaultReadingTypes.Invalid},
		{85, ActionQueued, ClassNormal, DefaultReadingTypes.OpportunisticIndex},
		{169, ActionQueued, ClassNormal, DefaultReadingTypes.OpportunisticIndex},
		{170, ActionQueued, ClassHigh, DefaultReadingTypes.RealTimeIndex},
		{255, ActionQueued, ClassHigh, DefaultReadingTypes.RealTimeIndex},
	}
	for _, tt := range tests {
		act, d, err := ts.LogEvent(ctx, tt.priority, event(1, 10, 1, 1), TimestampProvided)
		if err != nil {
			t.Fatalf("priority %d: %v", tt.priority, err)
		}
		if act != tt.want || d.ReadingType != tt.rt {
			t.Fatalf("priority %d: action=%v details=%+v", tt.priority, act, d)
		}
	}
	if got := len(records(t, ts.Store, ClassHigh)); got != 2 {
		t.Fatalf("high records=%d", got)
	}
	if got := len(records(t, ts.Store, ClassNormal)); got != 2 {
		t.Fatalf("normal records=%d", got)
	}
	if len(ts.sink.alarms) != 2 {
		t.Fatalf("sink saw %d alarms", len(ts.sink.alarms))
	}
}

func TestLogEventRejectsInvalid(t *testing.T) {
	ts := newTestStore(t, 512, 512)
	tooLong := event(1, 1, 1, 2)
	tooLong.Pairs[0].Value = []byte{1, 2, 3}
	tests := []struct {
		name     string
		priority uint8
		ev       Event
		want     error
	}{
		{"too many pairs", 200, event(1, 1, MaxPairs+1, 1), ErrTooManyPairs},
		{"value size", 200, event(1, 1, 1, MaxValueSize+1), ErrValueSize},
		{"value longer than size", 200, tooLong, ErrValueSize},
		// 7 + 3*(2+15) = 58 fits, 7 + 4*(2+15) = 75 does not
		{"opportunistic too large", 100, event(1, 1, 3, 15), ErrEventTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			act, d, err := ts.LogEvent(context.Background(), tt.priority, tt.ev, TimestampProvided)
			if !errors.Is(err, tt.want) || !errors.Is(err, ErrInvalid) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
			if act != ActionFailed || d.Index != 0 {
				t.Fatalf("action=%v details=%+v", act, d)
			}
		})
	}
	if _, _, err := ts.LogEvent(context.Background(), 100, event(1, 1, 2, 15), TimestampProvided); err != nil {
		t.Fatalf("opportunistic event of 58 bytes rejected: %v", err)
	}
}

func TestTimestampModes(t *testing.T) {
	ts := newTestStore(t, 256, 256)
	ctx := context.Background()
	if _, _, err := ts.LogEvent(ctx, 100, event(1, 42, 0, 0), TimestampNow); err != nil {
		t.Fatalf("log: %v", err)
	}
	if _, _, err := ts.LogEvent(ctx, 100, event(2, 42, 0, 0), TimestampProvided); err != nil {
		t.Fatalf("log: %v", err)
	}
	recs := records(t, ts.Store, ClassNormal)
	if recs[0].Timestamp != uint32(testClock.Unix()) || recs[1].Timestamp != 42 {
		t.Fatalf("timestamps %d %d", recs[0].Timestamp, recs[1].Timestamp)
	}
}

// Records of 40, 48 and 60 bytes in a 100 byte buffer: the third needs both
// older records evicted.
func TestMakeRoomEvictsOldestWholeRecords(t *testing.T) {
	ts := newTestStore(t, 100, 256)
	sizes := []struct {
		pairs int
		vs    uint8
		want  int
	}{{2, 12, 40}, {3, 10, 48}, {3, 14, 60}}
	for i, sz := range sizes {
		if got := RecordSize(sz.pairs, int(sz.vs)); got != sz.want {
			t.Fatalf("record size %d, want %d", got, sz.want)
		}
		mustLog(t, ts.Store, 200, event(uint16(i+1), 1, sz.pairs, sz.vs))
		if i == 1 {
			if u := ts.Usage(ClassHigh); u.Length != 88 {
				t.Fatalf("after two records %s", u)
			}
		}
	}
	if got := eventIDs(records(t, ts.Store, ClassHigh)); !equalIDs(got, []uint16{3}) {
		t.Fatalf("remaining events %v", got)
	}
	if u := ts.Usage(ClassHigh); u.Length != 60 || u.Start != 88 {
		t.Fatalf("descriptor %s", u)
	}
}

func TestMakeRoomFreesOnlyWhatIsNeeded(t *testing.T) {
	ts := newTestStore(t, 100, 256)
	// five 20 byte records fill the buffer
	for i := 1; i <= 5; i++ {
		mustLog(t, ts.Store, 200, event(uint16(i), 1, 1, 6))
	}
	// a 24 byte record needs 24 bytes: two records go, not three
	mustLog(t, ts.Store, 200, event(6, 1, 1, 10))
	if got := eventIDs(records(t, ts.Store, ClassHigh)); !equalIDs(got, []uint16{3, 4, 5, 6}) {
		t.Fatalf("remaining events %v", got)
	}
}

func TestConservationAcrossWrap(t *testing.T) {
	ts := newTestStore(t, 97, 256)
	for i := 0; i < 300; i++ {
		mustLog(t, ts.Store, 200, event(uint16(i), uint32(i), i%4, uint8(i%7)))
		recs := records(t, ts.Store, ClassHigh)
		var sum uint32
		for _, r := range recs {
			sum += uint32(r.Size)
		}
		u := ts.Usage(ClassHigh)
		if u.Length != sum || u.Length > u.Capacity {
			t.Fatalf("iteration %d: descriptor %s, records sum %d", i, u, sum)
		}
		if last := recs[len(recs)-1]; last.EventID != uint16(i) {
			t.Fatalf("iteration %d: newest record is %d", i, last.EventID)
		}
	}
}

func TestSequenceRollover(t *testing.T) {
	ts := newTestStore(t, 4096, 256)
	ts.Store.meta.HighSequence = 253
	var got []uint8
	for i := 0; i < 5; i++ {
		got = append(got, mustLog(t, ts.Store, 200, event(1, 1, 0, 0)).Index)
	}
	if want := []uint8{254, 255, 1, 2, 3}; !bytes.Equal(got, want) {
		t.Fatalf("indexes %v want %v", got, want)
	}
	if ts.RealTimeIndex() != 3 || ts.NormalIndex() != 0 {
		t.Fatalf("sequences %d/%d", ts.RealTimeIndex(), ts.NormalIndex())
	}
}

func TestWriteFailureLeavesStateUnchanged(t *testing.T) {
	ts := newTestStore(t, 256, 256)
	mustLog(t, ts.Store, 200, event(1, 1, 1, 1))
	before := ts.Metadata()
	ts.high.FailWrites(1)
	act, d, err := ts.LogEvent(context.Background(), 200, event(2, 1, 1, 1), TimestampProvided)
	if err == nil || act != ActionFailed || d.Index != 0 {
		t.Fatalf("action=%v details=%+v err=%v", act, d, err)
	}
	if after := ts.Metadata(); after != before {
		t.Fatalf("metadata moved: %+v -> %+v", before, after)
	}
	if len(ts.sink.alarms) != 1 {
		t.Fatalf("failed event reached the sink")
	}
}

func TestWriteFailureAfterEvictionPersistsEviction(t *testing.T) {
	ts := newTestStore(t, 256, 100)
	mustLog(t, ts.Store, 100, event(1, 1, 2, 12))
	mustLog(t, ts.Store, 100, event(2, 2, 3, 10))
	if u := ts.Usage(ClassNormal); u.Length != 88 {
		t.Fatalf("usage before eviction: %s", u.String())
	}
	ts.normal.FailWrites(1)
	if _, _, err := ts.LogEvent(context.Background(), 100, event(3, 3, 3, 14), TimestampProvided); err == nil {
		t.Fatalf("expected write failure")
	}
	mem := ts.Usage(ClassNormal)
	if mem.Length != 0 {
		t.Fatalf("in-memory descriptor kept evicted records: %s", mem.String())
	}
	if got := eventIDs(records(t, ts.Store, ClassNormal)); len(got) != 0 {
		t.Fatalf("records after failed write: %v", got)
	}

	s2 := ts.reopen(t)
	if got := s2.Usage(ClassNormal); got != mem {
		t.Fatalf("persisted descriptor %s, in memory %s", got.String(), mem.String())
	}
	if got := eventIDs(records(t, s2, ClassNormal)); len(got) != 0 {
		t.Fatalf("evicted records came back: %v", got)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	ts := newTestStore(t, 256, 256)
	mustLog(t, ts.Store, 200, event(7, 70, 1, 2))
	mustLog(t, ts.Store, 100, event(8, 80, 1, 2))
	if err := ts.SetThresholds(190, 90); err != nil {
		t.Fatalf("thresholds: %v", err)
	}
	s2 := ts.reopen(t)
	if rt, o := s2.Thresholds(); rt != 190 || o != 90 {
		t.Fatalf("thresholds %d/%d", rt, o)
	}
	if got := eventIDs(records(t, s2, ClassHigh)); !equalIDs(got, []uint16{7}) {
		t.Fatalf("high %v", got)
	}
	if got := eventIDs(records(t, s2, ClassNormal)); !equalIDs(got, []uint16{8}) {
		t.Fatalf("normal %v", got)
	}
	if s2.RealTimeIndex() != 1 || s2.NormalIndex() != 1 {
		t.Fatalf("sequences %d/%d", s2.RealTimeIndex(), s2.NormalIndex())
	}
}

func TestReopenWithBadMetadataReinitializes(t *testing.T) {
	ts := newTestStore(t, 256, 256)
	mustLog(t, ts.Store, 200, event(7, 70, 1, 2))
	data, _, _ := ts.record.Load()
	data[5] ^= 0xFF
	ts.record.Set(data)

	s2 := ts.reopen(t)
	if u := s2.Usage(ClassHigh); !u.Empty() {
		t.Fatalf("descriptor survived bad crc: %s", u)
	}
	if !bytes.Equal(ts.high.Raw(), bytes.Repeat([]byte{flash.Erased}, 256)) {
		t.Fatalf("high partition not erased")
	}
}

func TestReopenWithResizedPartitionReinitializes(t *testing.T) {
	ts := newTestStore(t, 256, 256)
	mustLog(t, ts.Store, 200, event(7, 70, 1, 2))
	ts.high = flash.NewMem("alarm-high", 512)
	s2 := ts.reopen(t)
	if u := s2.Usage(ClassHigh); u.Capacity != 512 || !u.Empty() {
		t.Fatalf("descriptor %s", u)
	}
}

func TestConcurrentSingleThresholdSets(t *testing.T) {
	ts := newTestStore(t, 256, 256)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if err := ts.SetRealtimeThreshold(210); err != nil {
				t.Errorf("set realtime: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if err := ts.SetOpportunisticThreshold(50); err != nil {
				t.Errorf("set opportunistic: %v", err)
				return
			}
		}
	}()
	wg.Wait()
	if rt, o := ts.Thresholds(); rt != 210 || o != 50 {
		t.Fatalf("thresholds %d/%d, want 210/50", rt, o)
	}
	if rt, o := ts.reopen(t).Thresholds(); rt != 210 || o != 50 {
		t.Fatalf("persisted thresholds %d/%d, want 210/50", rt, o)
	}
}

func TestSettingsValidation(t *testing.T) {
	ts := newTestStore(t, 256, 256)
	if err := ts.SetThresholds(80, 90); !errors.Is(err, ErrInvalidThresholds) {
		t.Fatalf("want ErrInvalidThresholds, got %v", err)
	}
	if err := ts.SetOpportunisticThreshold(200); !errors.Is(err, ErrInvalidThresholds) {
		t.Fatalf("want ErrInvalidThresholds, got %v", err)
	}
	if err := ts.SetRealtimeThreshold(171); err != nil {
		t.Fatalf("set realtime: %v", err)
	}
	if err := ts.SetMaxTimeDiversity(16); !errors.Is(err, ErrInvalidTimeDiversity) {
		t.Fatalf("want ErrInvalidTimeDiversity, got %v", err)
	}
	if err := ts.SetMaxTimeDiversity(15); err != nil || ts.MaxTimeDiversity() != 15 {
		t.Fatalf("diversity %d err %v", ts.MaxTimeDiversity(), err)
	}

	ts.record.FailSaves(errors.New("disk full"))
	if err := ts.SetMaxTimeDiversity(3); err == nil {
		t.Fatalf("expected persist failure")
	}
	if ts.MaxTimeDiversity() != 15 {
		t.Fatalf("failed update was applied")
	}
}

func TestClearLogKeepsThresholds(t *testing.T) {
	ts := newTestStore(t, 256, 256)
	_ = ts.SetThresholds(200, 100)
	mustLog(t, ts.Store, 210, event(1, 1, 1, 1))
	mustLog(t, ts.Store, 150, event(2, 1, 1, 1))
	if err := ts.ClearLog(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	m := ts.Metadata()
	if !m.High.Empty() || !m.Normal.Empty() || m.HighSequence != 0 || m.NormalSequence != 0 {
		t.Fatalf("metadata after clear %+v", m)
	}
	if m.RealtimeThreshold != 200 || m.OpportunisticThreshold != 100 {
		t.Fatalf("thresholds lost: %+v", m)
	}
	if d := mustLog(t, ts.Store, 210, event(3, 1, 0, 0)); d.Index != 1 {
		t.Fatalf("index after clear %d", d.Index)
	}
}

func TestClosedStore(t *testing.T) {
	ts := newTestStore(t, 256, 256)
	_ = ts.Close()
	if _, _, err := ts.LogEvent(context.Background(), 200, event(1, 1, 0, 0), TimestampProvided); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}

func TestObserverSeesUsage(t *testing.T) {
	obs := &countingObserver{}
	s, err := Open(Options{
		High:     flash.NewMem("h", 128),
		Normal:   flash.NewMem("n", 128),
		Meta:     NewMemMetadata(),
		Observer: obs,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	mustLog(t, s, 200, event(1, 1, 1, 1))
	_, _, _ = s.LogEvent(context.Background(), 1, event(1, 1, 1, 1), TimestampProvided)
	if obs.logged != 1 || obs.dropped["priority"] != 1 || obs.usage[ClassHigh].Length != 15 {
		t.Fatalf("observer %+v", obs)
	}
}

type countingObserver struct {
	logged    int
	dropped   map[string]int
	recovered int
	usage     map[Class]ringbuf.Descriptor
}

func (o *countingObserver) EventLogged(Class, int) { o.logged++ }

func (o *countingObserver) EventDropped(reason string) {
	if o.dropped == nil {
		o.dropped = map[string]int{}
	}
	o.dropped[reason]++
}

func (o *countingObserver) CorruptionRecovered(Class) { o.recovered++ }

func (o *countingObserver) BufferUsage(c Class, d ringbuf.Descriptor) {
	if o.usage == nil {
		o.usage = map[Class]ringbuf.Descriptor{}
	}
	o.usage[c] = d
}
