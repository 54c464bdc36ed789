package clock_test

import (
	"context"
	"testing"
	"time"

	"ticksync/pkg/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampArithmetic(t *testing.T) {
	ts := clock.Timestamp(1_000)
	assert.Equal(t, clock.Timestamp(1_000+int64(time.Second)), ts.Add(time.Second))
	assert.Equal(t, -time.Microsecond, ts.Sub(ts.Add(time.Microsecond)))
	assert.Equal(t, int64(1_000), ts.Time().UnixNano())
}

func TestManualSleepAdvances(t *testing.T) {
	m := clock.NewManual(100)
	ctx := context.Background()

	require.NoError(t, m.SleepUntil(ctx, 250))
	assert.Equal(t, clock.Timestamp(250), m.Now())

	// waking in the past does not move the clock backwards
	require.NoError(t, m.SleepUntil(ctx, 200))
	assert.Equal(t, clock.Timestamp(250), m.Now())

	require.NoError(t, clock.Sleep(ctx, m, 50))
	assert.Equal(t, clock.Timestamp(300), m.Now())
	assert.Equal(t, []clock.Timestamp{250, 200, 300}, m.Sleeps())
}

func TestManualSleepCancelled(t *testing.T) {
	m := clock.NewManual(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.SleepUntil(ctx, 10), context.Canceled)
	assert.Equal(t, clock.Timestamp(0), m.Now())
}

func TestSystemSleepUntil(t *testing.T) {
	var s clock.System
	start := s.Now()
	require.NoError(t, s.SleepUntil(context.Background(), start.Add(5*time.Millisecond)))
	assert.GreaterOrEqual(t, s.Now().Sub(start), 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.SleepUntil(ctx, s.Now().Add(time.Hour)), context.Canceled)
}
