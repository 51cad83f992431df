package bundling

import "time"

// Clock supplies the current time for bundle ageing and peek-lock expiry.
// Swapping it lets tests drive seal thresholds and lock reclaim
// deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC, matching the timestamps the
// store persists.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
