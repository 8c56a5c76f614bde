// Package runtime wires storage, config, and facades into a single-node
// evlog instance: one Pebble database holding the two alarm partitions and
// the metadata record, the event store on top of them, the alarm
// coordinator with its uplink, and the head-end handlers.
//
// Example:
//
//	cfg := config.Default()
//	cfg.DataDir = "./data"
//	rt, _ := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
//	defer rt.Close()
//	go rt.Run(ctx)
//	// Health
//	_ = rt.CheckHealth(ctx)
//	// Log an event
//	_, _, _ = rt.Store().LogEvent(ctx, 200, eventlog.Event{ID: 42}, eventlog.TimestampNow)
package runtime
