package realtime

import "time"

// Table is an ordered list of retry delays. Attempts past the end of the
// table reuse the last entry, so any table yields a monotone bounded
// backoff schedule.
type Table []time.Duration

// Delay returns the delay for the given 1-based attempt. An empty table
// and non-positive attempts return zero.
func (t Table) Delay(attempt int) time.Duration {
	if len(t) == 0 || attempt <= 0 {
		return 0
	}
	if attempt > len(t) {
		return t[len(t)-1]
	}
	return t[attempt-1]
}

// Default schedules. Reconnect covers transport-level reconnection;
// rejoin covers re-subscribing channels after a connection re-establishes.
var (
	DefaultReconnect = Table{1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}
	DefaultRejoin    = Table{1 * time.Second, 2 * time.Second, 5 * time.Second}
)
