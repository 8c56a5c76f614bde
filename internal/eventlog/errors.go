package eventlog

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalid is the root of every rejected-invalid error. Callers map it to
	// a protocol level bad request.
	ErrInvalid = errors.New("eventlog: invalid request")

	ErrTooManyPairs         = fmt.Errorf("%w: too many key/value pairs", ErrInvalid)
	ErrValueSize            = fmt.Errorf("%w: bad value size", ErrInvalid)
	ErrEventTooLarge        = fmt.Errorf("%w: event too large", ErrInvalid)
	ErrInvalidQuery         = fmt.Errorf("%w: malformed query", ErrInvalid)
	ErrInvalidThresholds    = fmt.Errorf("%w: realtime threshold below opportunistic threshold", ErrInvalid)
	ErrInvalidTimeDiversity = fmt.Errorf("%w: time diversity out of range", ErrInvalid)

	// ErrCorrupted reports that a scan found a malformed record. The affected
	// partition has already been erased when this is returned.
	ErrCorrupted = errors.New("eventlog: storage corrupted")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("eventlog: store closed")
)
