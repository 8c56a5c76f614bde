package alarm

import "time"

// resetTimer stops, drains and rearms t.
func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	if d < 0 {
		d = 0
	}
	t.Reset(d)
}

// stopTimer stops t and discards a pending expiry.
func stopTimer(t *time.Timer) {
	if !t.Stop() {
		drainTimer(t)
	}
}

func drainTimer(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}
