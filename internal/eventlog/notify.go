package eventlog

import "github.com/rzbill/evlog/internal/ringbuf"

// AlarmSink receives store notifications. Calls are made with the store lock
// held and must not block or call back into the store.
type AlarmSink interface {
	// AlarmLogged is called for every high-class event stored unsent.
	AlarmLogged(rec Record)
	// LogCleared is called after a partition was erased to recover from
	// corruption.
	LogCleared(info ClearedInfo)
}

// ClearedInfo describes a recovered partition.
type ClearedInfo struct {
	Class       Class
	ReadingType uint16
	// LastIndex is the sequence value before the wipe.
	LastIndex uint8
}

// Observer receives store measurements.
type Observer interface {
	EventLogged(class Class, bytes int)
	EventDropped(reason string)
	CorruptionRecovered(class Class)
	BufferUsage(class Class, d ringbuf.Descriptor)
}

type noopSink struct{}

func (noopSink) AlarmLogged(Record)     {}
func (noopSink) LogCleared(ClearedInfo) {}

type noopObserver struct{}

func (noopObserver) EventLogged(Class, int)                {}
func (noopObserver) EventDropped(string)                   {}
func (noopObserver) CorruptionRecovered(Class)             {}
func (noopObserver) BufferUsage(Class, ringbuf.Descriptor) {}
