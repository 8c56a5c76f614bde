package eventlog

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rzbill/evlog/internal/flash"
)

func query(t *testing.T, s *Store, q Query, size int) (QueryResult, []HeadEndEvent) {
	t.Helper()
	res, err := s.QueryBy(context.Background(), q, size)
	if err != nil {
		t.Fatalf("query %v: %v", q.Kind, err)
	}
	events, err := SplitHeadEnd(res.Data)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(events) != res.Events {
		t.Fatalf("decoded %d events, result says %d", len(events), res.Events)
	}
	return res, events
}

func heIDs(events []HeadEndEvent) []uint16 {
	ids := make([]uint16, len(events))
	for i, e := range events {
		ids[i] = e.EventID
	}
	return ids
}

func TestQueryByDateInclusive(t *testing.T) {
	ts := newTestStore(t, 512, 512)
	for i, stamp := range []uint32{50, 150, 250} {
		mustLog(t, ts.Store, 100, event(uint16(i+1), stamp, 1, 2))
	}
	_, events := query(t, ts.Store, ByDate(100, 200), 1024)
	if got := heIDs(events); !equalIDs(got, []uint16{2}) {
		t.Fatalf("events %v", got)
	}
	_, events = query(t, ts.Store, ByDate(50, 250), 1024)
	if got := heIDs(events); !equalIDs(got, []uint16{1, 2, 3}) {
		t.Fatalf("bounds not inclusive: %v", got)
	}
	if _, err := ts.QueryBy(context.Background(), ByDate(200, 100), 1024); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("want ErrInvalidQuery, got %v", err)
	}
}

func TestQueryScansHighThenNormal(t *testing.T) {
	ts := newTestStore(t, 512, 512)
	mustLog(t, ts.Store, 100, event(1, 10, 0, 0))
	mustLog(t, ts.Store, 200, event(2, 10, 0, 0))
	_, events := query(t, ts.Store, ByDate(0, 100), 1024)
	if got := heIDs(events); !equalIDs(got, []uint16{2, 1}) {
		t.Fatalf("order %v", got)
	}
}

// Two records carry index 5: one at offset 0 and a newer one at offset 80.
func TestQueryByIndexNewestCopyWins(t *testing.T) {
	ts := newTestStore(t, 100, 256)
	ts.Store.meta.HighSequence = 4
	mustLog(t, ts.Store, 200, event(1, 1, 1, 6)) // index 5 at 0
	mustLog(t, ts.Store, 200, event(2, 2, 1, 6)) // index 6 at 20
	mustLog(t, ts.Store, 200, event(3, 3, 1, 6)) // index 7 at 40
	mustLog(t, ts.Store, 200, event(4, 4, 1, 6)) // index 8 at 60
	ts.Store.meta.HighSequence = 4
	mustLog(t, ts.Store, 200, event(9, 9, 1, 6)) // index 5 at 80

	recs := records(t, ts.Store, ClassHigh)
	if recs[0].Offset != 0 || recs[4].Offset != 80 || recs[4].AlarmIndex != 5 {
		t.Fatalf("layout %+v", recs)
	}

	_, events := query(t, ts.Store, ByIndex(5, 5, SeverityHigh), 1024)
	if got := heIDs(events); !equalIDs(got, []uint16{9}) {
		t.Fatalf("index 5 returned %v", got)
	}
	_, events = query(t, ts.Store, ByIndex(5, 7, SeverityHigh), 1024)
	if got := heIDs(events); !equalIDs(got, []uint16{2, 3, 9}) {
		t.Fatalf("index 5..7 returned %v", got)
	}
	if events[2].AlarmIndex() != 5 {
		t.Fatalf("alarm index pair %v", events[2].Pairs[0])
	}
}

func TestQueryByIndexWrapsThroughZero(t *testing.T) {
	ts := newTestStore(t, 1024, 256)
	ts.Store.meta.HighSequence = 247
	for i := 0; i < 10; i++ { // indexes 248..255, 1, 2
		mustLog(t, ts.Store, 200, event(uint16(i), 1, 0, 0))
	}
	_, events := query(t, ts.Store, ByIndex(250, 1, SeverityHigh), 1024)
	var idx []uint8
	for _, e := range events {
		idx = append(idx, e.AlarmIndex())
	}
	if want := []uint8{250, 251, 252, 253, 254, 255, 1}; !bytes.Equal(idx, want) {
		t.Fatalf("indexes %v want %v", idx, want)
	}
}

func TestQueryByIndexSeverityScopesClass(t *testing.T) {
	ts := newTestStore(t, 256, 256)
	mustLog(t, ts.Store, 200, event(1, 1, 0, 0))
	mustLog(t, ts.Store, 100, event(2, 1, 0, 0))
	_, events := query(t, ts.Store, ByIndex(1, 1, SeverityMedium), 1024)
	if got := heIDs(events); !equalIDs(got, []uint16{2}) {
		t.Fatalf("medium severity returned %v", got)
	}
	if _, err := ts.QueryBy(context.Background(), ByIndex(1, 1, 1), 1024); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("want ErrInvalidQuery, got %v", err)
	}
}

func TestQuerySizeLimitReachedEmitsNothing(t *testing.T) {
	ts := newTestStore(t, 256, 256)
	mustLog(t, ts.Store, 200, event(1, 1, 2, 4)) // head-end 7 + 3*6 = 25
	res, err := ts.QueryBy(context.Background(), ByDate(0, 10), 24)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Status != StatusSizeLimitReached || res.Events != 0 || len(res.Data) != 0 {
		t.Fatalf("result %+v", res)
	}
	res, _ = query(t, ts.Store, ByDate(0, 10), 25)
	if res.Status != StatusSuccess || res.Events != 1 || res.LastAlarmIndex != 1 {
		t.Fatalf("exact fit %+v", res)
	}
}

func TestQuerySizeLimitInHighPassIsReported(t *testing.T) {
	ts := newTestStore(t, 256, 256)
	mustLog(t, ts.Store, 200, event(1, 1, 2, 4)) // 25 bytes
	mustLog(t, ts.Store, 200, event(2, 1, 2, 4)) // 25 bytes
	mustLog(t, ts.Store, 100, event(3, 1, 0, 0)) // 10 bytes
	res, events := query(t, ts.Store, ByDate(0, 10), 40)
	if res.Status != StatusSizeLimitReached {
		t.Fatalf("status %v", res.Status)
	}
	if got := heIDs(events); !equalIDs(got, []uint16{1, 3}) {
		t.Fatalf("events %v", got)
	}
}

func TestGetLogAndMarkSentIdempotent(t *testing.T) {
	ts := newTestStore(t, 256, 256)
	ctx := context.Background()
	mustLog(t, ts.Store, 200, event(1, 1, 1, 1)) // high, stored sent
	mustLog(t, ts.Store, 100, event(2, 1, 1, 1))
	mustLog(t, ts.Store, 100, event(3, 1, 1, 1))
	marked := event(4, 1, 1, 1)
	marked.MarkSent = true
	mustLog(t, ts.Store, 100, marked)

	batch, err := ts.GetLog(ctx, 1024)
	if err != nil {
		t.Fatalf("get log: %v", err)
	}
	if batch.Events != 2 || len(batch.Sent) != 2 || batch.LastAlarmIndex != 2 {
		t.Fatalf("batch %+v", batch)
	}
	if sd := batch.Sent[1]; sd.EventID != 3 || sd.Class != ClassNormal || sd.Offset != 15 || sd.Size != 15 {
		t.Fatalf("descriptor %+v", sd)
	}

	n, err := ts.MarkSent(ctx, batch.Sent)
	if err != nil || n != 2 {
		t.Fatalf("mark sent n=%d err=%v", n, err)
	}
	raw := append([]byte(nil), ts.normal.Raw()...)
	n, err = ts.MarkSent(ctx, batch.Sent)
	if err != nil || n != 0 {
		t.Fatalf("second mark sent n=%d err=%v", n, err)
	}
	if !bytes.Equal(raw, ts.normal.Raw()) {
		t.Fatalf("second mark sent changed storage")
	}
	batch, _ = ts.GetLog(ctx, 1024)
	if batch.Events != 0 {
		t.Fatalf("unsent after mark sent: %+v", batch)
	}
	for _, r := range records(t, ts.Store, ClassNormal) {
		if !r.Sent {
			t.Fatalf("record %d not sent", r.EventID)
		}
	}
}

func TestMarkSentSkipsReplacedRecords(t *testing.T) {
	ts := newTestStore(t, 256, 45)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		mustLog(t, ts.Store, 100, event(uint16(i), 1, 1, 1))
	}
	batch, _ := ts.GetLog(ctx, 1024)
	// evicts event 1, its slot now holds event 4
	mustLog(t, ts.Store, 100, event(4, 1, 1, 1))
	n, err := ts.MarkSent(ctx, batch.Sent)
	if err != nil || n != 2 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	recs := records(t, ts.Store, ClassNormal)
	if recs[2].EventID != 4 || recs[2].Sent {
		t.Fatalf("replacement record touched: %+v", recs[2])
	}
}

func TestMarkSentReportsIOErrors(t *testing.T) {
	ts := newTestStore(t, 256, 256)
	ctx := context.Background()
	mustLog(t, ts.Store, 100, event(1, 1, 1, 1))
	mustLog(t, ts.Store, 100, event(2, 1, 1, 1))
	batch, _ := ts.GetLog(ctx, 1024)
	ts.normal.FailWrites(1)
	n, err := ts.MarkSent(ctx, batch.Sent)
	if !errors.Is(err, flash.ErrInjected) || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestCorruptionIsIsolated(t *testing.T) {
	ts := newTestStore(t, 256, 256)
	mustLog(t, ts.Store, 200, event(1, 1, 1, 1))
	mustLog(t, ts.Store, 200, event(2, 1, 1, 1))
	mustLog(t, ts.Store, 100, event(3, 1, 1, 1))
	normalBefore := ts.Usage(ClassNormal)
	normalRaw := append([]byte(nil), ts.normal.Raw()...)

	// second high record now claims 3 bytes
	ts.high.Raw()[15] = 0
	ts.high.Raw()[16] = 3

	_, err := ts.QueryBy(context.Background(), Unsent(), 1024)
	if !errors.Is(err, ErrCorrupted) {
		t.Fatalf("want ErrCorrupted, got %v", err)
	}
	if u := ts.Usage(ClassHigh); !u.Empty() || u.Start != 0 {
		t.Fatalf("high descriptor %s", u)
	}
	if !bytes.Equal(ts.high.Raw(), bytes.Repeat([]byte{flash.Erased}, 256)) {
		t.Fatalf("high partition not erased")
	}
	if ts.Usage(ClassNormal) != normalBefore || !bytes.Equal(normalRaw, ts.normal.Raw()) {
		t.Fatalf("normal buffer touched")
	}
	if len(ts.sink.cleared) != 1 {
		t.Fatalf("cleared notifications %v", ts.sink.cleared)
	}
	if c := ts.sink.cleared[0]; c.Class != ClassHigh || c.LastIndex != 2 || c.ReadingType != DefaultReadingTypes.RealTimeIndex {
		t.Fatalf("cleared info %+v", c)
	}

	// usable right away, the sequence continues
	if d := mustLog(t, ts.Store, 200, event(4, 1, 1, 1)); d.Index != 3 {
		t.Fatalf("index after recovery %d", d.Index)
	}
	// the recovered state was persisted
	s2 := ts.reopen(t)
	if got := eventIDs(records(t, s2, ClassHigh)); !equalIDs(got, []uint16{4}) {
		t.Fatalf("after reopen %v", got)
	}
}

func TestCorruptionWhileMakingRoomRecoversAndWrites(t *testing.T) {
	ts := newTestStore(t, 60, 256)
	for i := 1; i <= 4; i++ {
		mustLog(t, ts.Store, 200, event(uint16(i), 1, 1, 1)) // 15 bytes each
	}
	ts.high.Raw()[0] = 0xFF // oldest record claims 65295 bytes

	act, d, err := ts.LogEvent(context.Background(), 200, event(5, 1, 1, 1), TimestampProvided)
	if err != nil || act != ActionQueued || d.Index != 5 {
		t.Fatalf("action=%v details=%+v err=%v", act, d, err)
	}
	if got := eventIDs(records(t, ts.Store, ClassHigh)); !equalIDs(got, []uint16{5}) {
		t.Fatalf("records %v", got)
	}
	if len(ts.sink.cleared) != 1 || ts.sink.cleared[0].LastIndex != 4 {
		t.Fatalf("cleared %v", ts.sink.cleared)
	}
}

func TestTransientReadErrorIsNotCorruption(t *testing.T) {
	ts := newTestStore(t, 256, 256)
	mustLog(t, ts.Store, 200, event(1, 1, 1, 1))
	ts.high.FailReads(1)
	_, err := ts.QueryBy(context.Background(), Unsent(), 1024)
	if !errors.Is(err, flash.ErrInjected) || errors.Is(err, ErrCorrupted) {
		t.Fatalf("err %v", err)
	}
	if ts.Usage(ClassHigh).Empty() {
		t.Fatalf("read error erased the buffer")
	}
}

func TestRecordsFilter(t *testing.T) {
	ts := newTestStore(t, 256, 256)
	mustLog(t, ts.Store, 100, event(10, 5, 1, 1))
	mustLog(t, ts.Store, 120, event(11, 6, 1, 1))
	mustLog(t, ts.Store, 120, event(12, 7, 0, 0))
	f, err := CompileFilter(`priority == 120 && size(pairs) > 0 && pairs[100] == "01"`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	recs, err := ts.Records(context.Background(), ClassNormal, f)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if got := eventIDs(recs); !equalIDs(got, []uint16{11}) {
		t.Fatalf("filtered %v", got)
	}
	if _, err := CompileFilter(`priority + 1`); !errors.Is(err, ErrInvalid) {
		t.Fatalf("non-boolean filter accepted: %v", err)
	}
	if _, err := CompileFilter(`nope(`); err == nil {
		t.Fatalf("bad syntax accepted")
	}
}
