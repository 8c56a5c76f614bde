package pebblestore

import (
	"errors"
	"fmt"
)

const recordPrefix = "evl/rec/"

// RecordFile is a small named blob stored under a single key, used for the
// event log metadata.
type RecordFile struct {
	db  *DB
	key []byte
}

// OpenRecord returns the record file with the given name.
func OpenRecord(db *DB, name string) *RecordFile {
	return &RecordFile{db: db, key: []byte(recordPrefix + name)}
}

// Load returns the stored bytes. found is false when nothing was saved yet.
func (r *RecordFile) Load() ([]byte, bool, error) {
	v, err := r.db.Get(r.key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pebble: load %s: %w", r.key, err)
	}
	return v, true, nil
}

// Save replaces the stored bytes.
func (r *RecordFile) Save(data []byte) error {
	if err := r.db.Set(r.key, data); err != nil {
		return fmt.Errorf("pebble: save %s: %w", r.key, err)
	}
	return nil
}
