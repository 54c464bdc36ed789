package tick_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"ticksync/pkg/clock"
	"ticksync/pkg/tick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sec = clock.Second

func TestTicksRounding(t *testing.T) {
	epoch := clock.Timestamp(1_000 * sec)
	cases := []struct {
		at   clock.Timestamp
		want int64
	}{
		{epoch, 0},
		{epoch + sec/2 - 1, 0},
		{epoch + sec/2, 1},
		{epoch + sec - 1, 1}, // woke a nanosecond early
		{epoch + 3*sec, 3},
		{epoch - 1, 0},
		{epoch - sec/2 - 1, -1},
		{epoch - 3*sec, -3},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, tick.Ticks(epoch, c.at), "at %d", c.at-epoch)
	}
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, 1, tick.Display(0))
	assert.Equal(t, 10, tick.Display(9))
	assert.Equal(t, 1, tick.Display(10))
	assert.Equal(t, 10, tick.Display(-1))
	assert.Equal(t, 9, tick.Display(-12))
}

func TestNext(t *testing.T) {
	assert.Equal(t, clock.Timestamp(5*sec+7), tick.Next(7, 4))
}

func TestDisplayMonotonic(t *testing.T) {
	epoch := clock.Timestamp(123_456_789)
	prev := tick.Display(tick.Ticks(epoch, epoch))
	for i := 1; i < 35; i++ {
		// sampled with a small positive jitter each second
		now := epoch + clock.Timestamp(i)*sec + clock.Timestamp(i*1000)
		v := tick.Display(tick.Ticks(epoch, now))
		assert.Equal(t, prev%tick.Period+1, v, "sample %d", i)
		prev = v
	}
}

func TestEpochSwap(t *testing.T) {
	e := tick.NewEpoch(10)
	assert.Equal(t, clock.Timestamp(10), e.Load())
	assert.Equal(t, clock.Timestamp(10), e.Swap(20))
	assert.Equal(t, clock.Timestamp(20), e.Load())
}

func runEmitter(t *testing.T, e *tick.Emitter, n int) []tick.Tick {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var got []tick.Tick
	e.OnTick = func(tk tick.Tick) {
		got = append(got, tk)
		if len(got) == n {
			cancel()
		}
	}
	err := e.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	return got
}

func TestEmitterFixedEpoch(t *testing.T) {
	epoch := clock.Timestamp(1_700_000_000 * sec)
	clk := clock.NewManual(epoch)
	var out bytes.Buffer
	var counter tick.Counter

	e := tick.NewEmitter(clk, tick.NewEpoch(epoch), &counter, &out, nil)
	got := runEmitter(t, e, 12)

	for i, tk := range got {
		assert.Equal(t, int64(i), tk.Ticks)
		assert.Equal(t, i%10+1, tk.Value)
		if i > 0 {
			assert.Equal(t, time.Second, tk.Gap)
		}
	}
	assert.Equal(t, uint64(12), counter.Load())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 12)
	assert.True(t, strings.HasSuffix(lines[0], "]: 1"))
	assert.True(t, strings.HasSuffix(lines[9], "]: 10"))
	assert.True(t, strings.HasSuffix(lines[10], "]: 1"))

	// every wake lands on a second boundary of the epoch
	for i, w := range clk.Sleeps() {
		assert.Equal(t, epoch+clock.Timestamp(i+1)*sec, w)
	}
}

func TestEmitterFollowsCorrection(t *testing.T) {
	start := clock.Timestamp(50 * sec)
	clk := clock.NewManual(start)
	epoch := tick.NewEpoch(start)
	var out bytes.Buffer

	e := tick.NewEmitter(clk, epoch, nil, &out, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var got []tick.Tick
	e.OnTick = func(tk tick.Tick) {
		got = append(got, tk)
		switch len(got) {
		case 2:
			// calibration moves the epoch 7 ticks and 300ms into the past
			epoch.Store(start - 7*sec - 300*clock.Second/1000)
		case 5:
			cancel()
		}
	}
	require.ErrorIs(t, e.Run(ctx), context.Canceled)

	// the wake pending when the epoch changed is kept
	sleeps := clk.Sleeps()
	assert.Equal(t, start+2*sec, sleeps[1])
	// later wakes are aligned to the new epoch
	assert.Equal(t, start+2*sec+700*clock.Second/1000, sleeps[2])

	values := make([]int, len(got))
	for i, tk := range got {
		values[i] = tk.Value
	}
	assert.Equal(t, []int{1, 2, 10, 1, 2}, values)
}
