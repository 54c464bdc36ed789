package clock

import (
	"context"
	"sync"
	"time"
)

type (
	Timestamp int64 // unix time in nanoseconds - differences can be cast directly to time.Duration
)

const Second = Timestamp(time.Second)

func (t Timestamp) Add(d time.Duration) Timestamp {
	return t + Timestamp(d)
}

func (t Timestamp) Sub(u Timestamp) time.Duration {
	return time.Duration(t - u)
}

func (t Timestamp) Time() time.Time {
	return time.Unix(0, int64(t))
}

type Clock interface {
	Now() Timestamp
	// SleepUntil blocks until t or until ctx is done; it returns ctx.Err() in the latter case.
	SleepUntil(ctx context.Context, t Timestamp) error
}

func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	return c.SleepUntil(ctx, c.Now().Add(d))
}

type System struct{}

func (System) Now() Timestamp {
	return Timestamp(time.Now().UnixNano())
}

func (s System) SleepUntil(ctx context.Context, t Timestamp) error {
	d := t.Sub(s.Now())
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Manual is a Clock that only moves when told to. Sleeping advances it to the
// wake instant immediately, which makes loops built on it run in virtual time.
type Manual struct {
	mu     sync.Mutex
	now    Timestamp
	sleeps []Timestamp
}

func NewManual(now Timestamp) *Manual {
	return &Manual{now: now}
}

func (m *Manual) Now() Timestamp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Set(t Timestamp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

func (m *Manual) Advance(d time.Duration) Timestamp {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

func (m *Manual) SleepUntil(ctx context.Context, t Timestamp) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleeps = append(m.sleeps, t)
	if t > m.now {
		m.now = t
	}
	return nil
}

// Sleeps returns the wake instants requested so far.
func (m *Manual) Sleeps() []Timestamp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Timestamp(nil), m.sleeps...)
}
