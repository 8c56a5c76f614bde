// Package log provides evlog's structured logging facade and utilities.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Internally it is backed by Go's
// standard library slog via a custom handler that feeds a Formatter and a set
// of Outputs.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("eventlog"))
//	l.Info("event logged", log.Int("index", 7))
//
// # Configuration
//
// ApplyConfig builds a logger from a declarative Config (level, text or JSON
// format, console/file/null outputs, key redaction and sampling).
//
// # Interop
//
// Libraries that expect *log.Logger can use ToStdLogger, and RedirectStdLog
// routes the standard library's default logger (used by Pebble) through the
// facade.
package log
