// Package tick holds the state shared between a synchronization loop and the
// ticker of the same process, and the ticker itself.
package tick

import (
	"sync/atomic"

	"ticksync/pkg/clock"
)

const Period = 10 // displayed values cycle through 1..Period

// Epoch is the local clock instant at which the tick counter is zero. One
// goroutine publishes it, any number read it without locking; a reader may see
// a value one publication old.
type Epoch struct {
	v atomic.Int64
}

func NewEpoch(t clock.Timestamp) *Epoch {
	e := new(Epoch)
	e.Store(t)
	return e
}

func (e *Epoch) Load() clock.Timestamp {
	return clock.Timestamp(e.v.Load())
}

func (e *Epoch) Store(t clock.Timestamp) {
	e.v.Store(int64(t))
}

// Swap publishes t and returns the epoch it replaced.
func (e *Epoch) Swap(t clock.Timestamp) clock.Timestamp {
	return clock.Timestamp(e.v.Swap(int64(t)))
}

// Counter is the number of ticks emitted so far; tick number Load() fires next.
type Counter struct {
	v atomic.Uint64
}

func (c *Counter) Load() uint64 {
	return c.v.Load()
}

func (c *Counter) Store(n uint64) {
	c.v.Store(n)
}

// Ticks returns the tick owed at now. Half a second is added before dividing
// so that waking slightly early does not lose a whole tick to truncation.
func Ticks(epoch, now clock.Timestamp) int64 {
	n := int64(now - epoch + clock.Second/2)
	s := int64(clock.Second)
	q := n / s
	if n%s != 0 && n < 0 {
		q--
	}
	return q
}

// Display maps a tick number to the value printed for it, 1..Period.
func Display(ticks int64) int {
	m := ticks % Period
	if m < 0 {
		m += Period
	}
	return int(m) + 1
}

// Next is the instant of the tick after ticks.
func Next(epoch clock.Timestamp, ticks int64) clock.Timestamp {
	return epoch + clock.Timestamp(ticks+1)*clock.Second
}
