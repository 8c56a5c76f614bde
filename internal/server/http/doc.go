// Package httpserver provides the JSON and binary admin API of evlog: event
// logging and queries, extraction and retirement of unsent events, record
// dumps, parameters, the head-end alarm requests, health and /metrics.
//
// Example:
//
//	rt, _ := runtime.Open(runtime.Options{Config: config.Default(), Logger: logger})
//	s := httpserver.New(rt, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":8080")
package httpserver
