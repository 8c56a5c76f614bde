// Package alarm batches newly logged high priority events into outbound
// alarm messages.
//
// The coordinator is the store's AlarmSink. The store hands it records with
// its lock held, so the hand-off is a non-blocking send on a bounded queue;
// a full queue drops the alarm with a warning. The first alarm of a cycle
// starts a message and a timer with a random delay of up to the configured
// time diversity. Later alarms join the message until it holds 15 alarms or
// no longer fits, after which they are dropped. When the timer fires the
// message is finalized and handed to the Transmitter.
//
// Corruption recovery notifications make the coordinator log the two audit
// events through the store.
package alarm

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/evlog/internal/eventlog"
	"github.com/rzbill/evlog/pkg/log"
)

const (
	// DefaultQueueDepth is the size of the inbound queue.
	DefaultQueueDepth = 10

	CorruptedPriority   = 172
	InitializedPriority = 171
)

// AuditEvents are the event ids logged after a partition was recovered.
type AuditEvents struct {
	CorruptedID   uint16 `json:"corruptedId" yaml:"corruptedId"`
	InitializedID uint16 `json:"initializedId" yaml:"initializedId"`
}

// DefaultAuditEvents are used when none are configured.
var DefaultAuditEvents = AuditEvents{CorruptedID: 3801, InitializedID: 3802}

// Store is the part of the event store the coordinator uses.
type Store interface {
	LogEvent(ctx context.Context, priority uint8, ev eventlog.Event, mode eventlog.TimestampMode) (eventlog.Action, eventlog.LoggedDetails, error)
	MaxTimeDiversity() uint8
}

// Transmitter delivers finished messages.
type Transmitter interface {
	Transmit(ctx context.Context, msg Message) error
}

// Observer receives coordinator measurements.
type Observer interface {
	AlarmQueued()
	AlarmDropped(reason string)
	MessageSent(alarms, bytes int)
	TransmitFailed()
}

type noopObserver struct{}

func (noopObserver) AlarmQueued()         {}
func (noopObserver) AlarmDropped(string)  {}
func (noopObserver) MessageSent(int, int) {}
func (noopObserver) TransmitFailed()      {}

// Options configures a Coordinator.
type Options struct {
	Store       Store
	Transmitter Transmitter
	// IndexReadingType keys the alarm-index pair of every outbound alarm.
	IndexReadingType uint16
	Audit            AuditEvents

	QueueDepth      int
	MaxAlarms       int
	MaxMessageBytes int

	Observer Observer
	Logger   log.Logger
	Now      func() time.Time
	// Jitter returns a value in [0, n). Defaults to a seeded math/rand source.
	Jitter func(n int64) int64
}

type signalKind uint8

const (
	sigAlarm signalKind = iota
	sigCleared
)

type signal struct {
	kind    signalKind
	rec     eventlog.Record
	cleared eventlog.ClearedInfo
}

// Coordinator is the alarm delivery loop. It implements eventlog.AlarmSink.
type Coordinator struct {
	opts   Options
	queue  chan signal
	obs    Observer
	logger log.Logger

	// owned by Run
	msg   *builder
	timer *time.Timer

	mu      sync.Mutex
	running bool
}

var _ eventlog.AlarmSink = (*Coordinator)(nil)

// New returns a coordinator. Run must be called for it to do anything.
func New(opts Options) (*Coordinator, error) {
	if opts.Store == nil || opts.Transmitter == nil {
		return nil, errors.New("alarm: store and transmitter are required")
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if opts.MaxAlarms <= 0 || opts.MaxAlarms > MaxAlarmsPerMessage {
		opts.MaxAlarms = MaxAlarmsPerMessage
	}
	if opts.MaxMessageBytes <= 0 || opts.MaxMessageBytes > MaxMessageBytes {
		opts.MaxMessageBytes = MaxMessageBytes
	}
	if opts.IndexReadingType == 0 {
		opts.IndexReadingType = eventlog.DefaultReadingTypes.RealTimeIndex
	}
	if opts.Audit == (AuditEvents{}) {
		opts.Audit = DefaultAuditEvents
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Jitter == nil {
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		opts.Jitter = rng.Int63n
	}
	c := &Coordinator{
		opts:   opts,
		queue:  make(chan signal, opts.QueueDepth),
		obs:    opts.Observer,
		logger: opts.Logger,
	}
	if c.obs == nil {
		c.obs = noopObserver{}
	}
	if c.logger == nil {
		c.logger = log.NewNopLogger()
	}
	c.logger = c.logger.With(log.Component("alarm"))
	return c, nil
}

// AlarmLogged queues rec for the next message. It never blocks.
func (c *Coordinator) AlarmLogged(rec eventlog.Record) {
	c.post(signal{kind: sigAlarm, rec: rec}, "alarm")
}

// LogCleared queues the audit events of a recovered partition. It never
// blocks.
func (c *Coordinator) LogCleared(info eventlog.ClearedInfo) {
	c.post(signal{kind: sigCleared, cleared: info}, "cleared")
}

func (c *Coordinator) post(s signal, what string) {
	select {
	case c.queue <- s:
		if s.kind == sigAlarm {
			c.obs.AlarmQueued()
		}
	default:
		c.logger.Warn("alarm queue full, dropping", log.Str("signal", what),
			log.Uint("event_id", uint64(s.rec.EventID)), log.Uint("index", uint64(s.rec.AlarmIndex)))
		c.obs.AlarmDropped("queue-full")
	}
}

// Run consumes the queue until ctx is done. A message in progress at that
// point is transmitted before Run returns.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("alarm: coordinator already running")
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	c.timer = time.NewTimer(time.Hour)
	stopTimer(c.timer)
	defer c.timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if c.msg != nil {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.flush(flushCtx)
				cancel()
			}
			return nil
		case s := <-c.queue:
			switch s.kind {
			case sigAlarm:
				c.addAlarm(s.rec)
			case sigCleared:
				c.logAudit(ctx, s.cleared)
			}
		case <-c.timer.C:
			c.flush(ctx)
		}
	}
}

func (c *Coordinator) addAlarm(rec eventlog.Record) {
	he := eventlog.Project(rec, c.opts.IndexReadingType)
	if c.msg == nil {
		now := c.opts.Now()
		c.msg = newBuilder(uint32(now.Unix()), c.opts.MaxAlarms, c.opts.MaxMessageBytes)
		delay := c.diversity()
		resetTimer(c.timer, delay)
		c.logger.Info("alarm message started", log.Duration("delay", delay))
	}
	if !c.msg.add(he) {
		c.logger.Warn("alarm message full, dropping alarm",
			log.Uint("event_id", uint64(rec.EventID)), log.Uint("index", uint64(rec.AlarmIndex)),
			log.Int("alarms", c.msg.count), log.Int("bytes", len(c.msg.buf)))
		c.obs.AlarmDropped("message-full")
		return
	}
	c.logger.Debug("alarm added", log.Uint("event_id", uint64(rec.EventID)), log.Int("alarms", c.msg.count))
}

func (c *Coordinator) diversity() time.Duration {
	max := int64(c.opts.Store.MaxTimeDiversity()) * int64(time.Minute)
	if max <= 0 {
		return 0
	}
	return time.Duration(c.opts.Jitter(max))
}

func (c *Coordinator) flush(ctx context.Context) {
	b := c.msg
	c.msg = nil
	if b == nil {
		return
	}
	msg := Message{ID: uuid.New(), CreatedAt: c.opts.Now(), Payload: b.finish(), Alarms: b.count}
	if err := c.opts.Transmitter.Transmit(ctx, msg); err != nil {
		c.logger.Error("alarm message transmit failed", log.Str("id", msg.ID.String()), log.Err(err))
		c.obs.TransmitFailed()
		return
	}
	c.logger.Info("alarm message sent", log.Str("id", msg.ID.String()), log.Int("alarms", msg.Alarms), log.Int("bytes", len(msg.Payload)))
	c.obs.MessageSent(msg.Alarms, len(msg.Payload))
}

func (c *Coordinator) logAudit(ctx context.Context, info eventlog.ClearedInfo) {
	pair := eventlog.Pair{Key: info.ReadingType, Value: []byte{info.LastIndex}}
	events := []struct {
		priority uint8
		id       uint16
	}{
		{CorruptedPriority, c.opts.Audit.CorruptedID},
		{InitializedPriority, c.opts.Audit.InitializedID},
	}
	for _, e := range events {
		ev := eventlog.Event{ID: e.id, ValueSize: 1, Pairs: []eventlog.Pair{pair}}
		act, _, err := c.opts.Store.LogEvent(ctx, e.priority, ev, eventlog.TimestampNow)
		if err != nil || act != eventlog.ActionQueued {
			c.logger.Error("audit event not logged", log.Uint("event_id", uint64(e.id)),
				log.Str("action", act.String()), log.Err(err))
		}
	}
	c.logger.Warn("event log recovered from corruption", log.Str("class", info.Class.String()),
		log.Uint("last_index", uint64(info.LastIndex)))
}
