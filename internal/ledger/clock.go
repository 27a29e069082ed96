package ledger

import "time"

// Clock is the trusted time source used for timestamps and the rebalance
// cooldown.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
