package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rzbill/evlog/internal/alarm"
	cfgpkg "github.com/rzbill/evlog/internal/config"
	"github.com/rzbill/evlog/internal/eventlog"
	"github.com/rzbill/evlog/internal/heep"
	"github.com/rzbill/evlog/internal/metrics"
	pebblestore "github.com/rzbill/evlog/internal/storage/pebble"
	"github.com/rzbill/evlog/internal/uplink"
	"github.com/rzbill/evlog/pkg/log"
)

// Names of the storage objects inside the database.
const (
	HighPartition   = "alarm-high"
	NormalPartition = "alarm-normal"
	MetadataRecord  = "evl-meta"
)

var healthKey = []byte("evl/health")

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger log.Logger
	// Metrics is created when nil.
	Metrics *metrics.Metrics
	// Transmitter overrides the uplink the config selects.
	Transmitter uplink.Transmitter
	// Now is the clock of the store, coordinator and head-end handlers.
	Now func() time.Time
}

// Runtime wires storage, the event store and alarm delivery for a
// single-node instance.
type Runtime struct {
	db      *pebblestore.DB
	store   *eventlog.Store
	coord   *alarm.Coordinator
	heep    *heep.Handler
	tx      uplink.Transmitter
	metrics *metrics.Metrics
	config  cfgpkg.Config
	logger  log.Logger
}

// Open initializes the underlying storage and returns a Runtime. The
// coordinator does not deliver anything until Run is called.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	fsync, err := pebblestore.ParseFsyncMode(cfg.Fsync)
	if err != nil {
		return nil, err
	}
	db, err := pebblestore.Open(pebblestore.Options{DataDir: cfg.DataDir, Fsync: fsync, Metrics: m, Logger: logger})
	if err != nil {
		return nil, err
	}
	rt := &Runtime{db: db, metrics: m, config: cfg, logger: logger.With(log.Component("runtime"))}
	if err := rt.build(opts, logger); err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.logger.Info("runtime opened", log.Str("data_dir", cfg.DataDir), log.Str("fsync", cfg.Fsync))
	return rt, nil
}

func (r *Runtime) build(opts Options, logger log.Logger) error {
	cfg := opts.Config
	high, err := pebblestore.OpenPartition(r.db, HighPartition, cfg.Store.HighCapacity)
	if err != nil {
		return err
	}
	normal, err := pebblestore.OpenPartition(r.db, NormalPartition, cfg.Store.NormalCapacity)
	if err != nil {
		return err
	}
	r.store, err = eventlog.Open(eventlog.Options{
		High:         high,
		Normal:       normal,
		Meta:         pebblestore.OpenRecord(r.db, MetadataRecord),
		Defaults:     cfg.Defaults,
		ReadingTypes: cfg.ReadingTypes.Store(),
		Observer:     r.metrics,
		Logger:       logger,
		Now:          opts.Now,
	})
	if err != nil {
		return fmt.Errorf("runtime: open event store: %w", err)
	}

	r.tx = opts.Transmitter
	if r.tx == nil {
		if r.tx, err = uplink.New(cfg.Uplink, logger); err != nil {
			return err
		}
	}
	r.coord, err = alarm.New(alarm.Options{
		Store:            r.store,
		Transmitter:      r.tx,
		IndexReadingType: cfg.ReadingTypes.RealTimeIndex,
		Audit:            cfg.ReadingTypes.Audit(),
		QueueDepth:       cfg.Coordinator.QueueDepth,
		MaxAlarms:        cfg.Coordinator.MaxAlarms,
		MaxMessageBytes:  cfg.Coordinator.MaxMessageBytes,
		Observer:         r.metrics,
		Logger:           logger,
		Now:              opts.Now,
	})
	if err != nil {
		return err
	}
	r.store.SetSink(r.coord)
	r.heep = heep.New(r.store, logger, opts.Now)
	return nil
}

// Run delivers alarms until ctx is done.
func (r *Runtime) Run(ctx context.Context) error {
	return r.coord.Run(ctx)
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	var errs []error
	if r.store != nil {
		r.store.SetSink(nil)
		errs = append(errs, r.store.Close())
	}
	if r.tx != nil {
		errs = append(errs, r.tx.Close())
		r.tx = nil
	}
	if r.db != nil {
		errs = append(errs, r.db.Close())
		r.db = nil
	}
	return errors.Join(errs...)
}

// CheckHealth performs a simple health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.db == nil {
		return errors.New("db not open")
	}
	if _, err := r.db.Get(healthKey); err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
		return err
	}
	return nil
}

// Store returns the event store.
func (r *Runtime) Store() *eventlog.Store { return r.store }

// Coordinator returns the alarm coordinator.
func (r *Runtime) Coordinator() *alarm.Coordinator { return r.coord }

// Heep returns the head-end request handlers.
func (r *Runtime) Heep() *heep.Handler { return r.heep }

func (r *Runtime) Metrics() *metrics.Metrics { return r.metrics }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
