package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/evlog/pkg/log"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = pebble.ErrNotFound

// FsyncMode selects when committed writes reach the WAL on disk.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways syncs every commit. A lost partition write is a lost
	// alarm, so this is the default.
	FsyncModeAlways
	// FsyncModeInterval lets Pebble coalesce WAL syncs within FsyncInterval.
	FsyncModeInterval
	FsyncModeNever
)

const defaultFsyncInterval = 5 * time.Millisecond

// ParseFsyncMode maps a config string to a FsyncMode. Empty means always.
func ParseFsyncMode(s string) (FsyncMode, error) {
	switch s {
	case "", "always":
		return FsyncModeAlways, nil
	case "interval":
		return FsyncModeInterval, nil
	case "never":
		return FsyncModeNever, nil
	}
	return FsyncModeUnspecified, fmt.Errorf("pebble: unknown fsync mode %q", s)
}

type Options struct {
	DataDir       string
	Fsync         FsyncMode
	FsyncInterval time.Duration
	// Metrics observes reads and commits. Optional.
	Metrics MetricsHook
	// Logger receives Pebble's own messages. Optional.
	Logger log.Logger
}

// MetricsHook is the storage observation surface.
type MetricsHook interface {
	ObserveWrite(elapsed time.Duration, bytes int)
	ObserveRead(elapsed time.Duration, bytes int)
	ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveWrite(time.Duration, int)            {}
func (noopMetrics) ObserveRead(time.Duration, int)             {}
func (noopMetrics) ObserveBatchCommit(time.Duration, int, int) {}

// DB is a Pebble database with the configured fsync policy applied to
// every commit.
type DB struct {
	inner   *pebble.DB
	sync    *pebble.WriteOptions
	metrics MetricsHook
}

// Open creates or opens the database under opts.DataDir.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}
	po := &pebble.Options{}
	if opts.Logger != nil {
		po.Logger = opts.Logger.With(log.Component("pebble"))
	}
	wo := pebble.Sync
	switch opts.Fsync {
	case FsyncModeNever:
		wo = pebble.NoSync
	case FsyncModeInterval:
		interval := opts.FsyncInterval
		if interval <= 0 {
			interval = defaultFsyncInterval
		}
		po.WALMinSyncInterval = func() time.Duration { return interval }
	}

	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, fmt.Errorf("pebble: open %s: %w", opts.DataDir, err)
	}
	db := &DB{inner: inner, sync: wo, metrics: opts.Metrics}
	if db.metrics == nil {
		db.metrics = noopMetrics{}
	}
	return db, nil
}

func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	err := db.inner.Close()
	db.inner = nil
	return err
}

// Update fills a batch with fn and commits it atomically. Nothing is
// written when fn fails or ctx is already done.
func (db *DB) Update(ctx context.Context, fn func(b *pebble.Batch) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := db.inner.NewBatch()
	defer b.Close()
	if err := fn(b); err != nil {
		return err
	}
	start := time.Now()
	if err := b.Commit(db.sync); err != nil {
		return err
	}
	db.metrics.ObserveBatchCommit(time.Since(start), int(b.Count()), b.Len())
	return nil
}

// Set stores value under key.
func (db *DB) Set(key, value []byte) error {
	start := time.Now()
	err := db.Update(context.Background(), func(b *pebble.Batch) error {
		return b.Set(key, value, nil)
	})
	if err == nil {
		db.metrics.ObserveWrite(time.Since(start), len(value))
	}
	return err
}

// DeleteRange removes every key in [start, end).
func (db *DB) DeleteRange(start, end []byte) error {
	return db.Update(context.Background(), func(b *pebble.Batch) error {
		return b.DeleteRange(start, end, nil)
	})
}

// Get returns a copy of the value under key, or ErrNotFound.
func (db *DB) Get(key []byte) ([]byte, error) {
	start := time.Now()
	val, closer, err := db.inner.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	buf := append([]byte(nil), val...)
	db.metrics.ObserveRead(time.Since(start), len(buf))
	return buf, nil
}
