// Package clock abstracts wall-clock reads and tickers so timer-driven
// components can be driven deterministically in tests.
package clock

import "time"

// Clock is the time source injected into every component that stamps
// entries or runs periodic work.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers ticks on C until Stop is called. C has capacity 1 and
// drops ticks the consumer is not ready for, as time.Ticker does.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. It does not close C.
func (t *Ticker) Stop() { t.stopFunc() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

// Now strips the monotonic reading; stored timestamps are wall-clock only.
func (realClock) Now() time.Time { return time.Now().Round(0) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stopFunc: t.Stop}
}
