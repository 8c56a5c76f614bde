// Package pebblestore provides a thin wrapper around Pebble with fsync policy,
// batches and metrics hooks, plus the two persistence shapes the event log
// needs: sector-addressed flash partitions and single-key record files.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeAlways,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	high, _ := pebblestore.OpenPartition(db, "alarm-high", 40960)
//	_ = high.WriteAt([]byte{1, 2, 3}, 4094) // spans two sectors
//	meta := pebblestore.OpenRecord(db, "evl-meta")
//	_ = meta.Save([]byte{1})
package pebblestore
