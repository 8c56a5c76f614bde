// Package eventlog implements the dual ring buffer event log.
//
// # Overview
//
// Events are stored in one of two ring buffers, each backed by its own flash
// partition: the high buffer for priorities at or above the realtime
// threshold and the normal buffer for priorities at or above the
// opportunistic threshold. Lower priorities are dropped. A small metadata
// record holds both ring descriptors, the per-class sequence counters and the
// settings; it is rewritten after every mutation.
//
// Records are stored as a 12 byte header followed by key/value pairs:
//
//	size u16 | alarmIndex u8 | priority u8 | eventId u16 | timestamp u32 | keyHeader u16
//	keyHeader: bit 15 sent, bits 14..10 pair count, bits 9..5 value size
//
// When a buffer is full the oldest whole records are evicted. A record whose
// size cannot be right is treated as corruption: the affected partition is
// erased, its descriptor reset, and the alarm sink told so audit events can
// be logged. The other buffer is never touched.
//
// API surface
//
//	s, _ := eventlog.Open(eventlog.Options{High: high, Normal: normal, Meta: meta})
//	act, details, _ := s.LogEvent(ctx, 180, eventlog.Event{ID: 42}, eventlog.TimestampNow)
//
//	// extract unsent events and retire them once delivered
//	batch, _ := s.GetLog(ctx, 1024)
//	_, _ = s.MarkSent(ctx, batch.Sent)
//
//	// range queries, newest copy of an index wins
//	res, _ := s.QueryBy(ctx, eventlog.ByIndex(250, 3, eventlog.SeverityHigh), 1155)
//	events, _ := eventlog.SplitHeadEnd(res.Data)
package eventlog
