package tick

import (
	"context"
	"fmt"
	"io"
	"time"

	"ticksync/pkg/clock"
	"ticksync/pkg/telemetry"

	"go.uber.org/zap"
)

type Tick struct {
	At    clock.Timestamp
	Gap   time.Duration // since the previous tick, zero for the first one
	Ticks int64
	Value int
}

// Emitter prints the tick owed at each second boundary of Epoch.
type Emitter struct {
	clock   clock.Clock
	epoch   *Epoch
	counter *Counter
	out     io.Writer
	log     *zap.Logger

	// OnTick, when set, is called after every printed tick.
	OnTick func(Tick)
}

// NewEmitter returns an emitter following epoch. counter may be nil; when
// set, it is advanced to the number of emitted ticks after every tick.
func NewEmitter(clk clock.Clock, epoch *Epoch, counter *Counter, out io.Writer, log *zap.Logger) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{
		clock:   clk,
		epoch:   epoch,
		counter: counter,
		out:     out,
		log:     log,
	}
}

// Run emits ticks until ctx is done. The epoch is read once per cycle, so a
// new calibration only moves the wake instant after the one already pending.
func (e *Emitter) Run(ctx context.Context) error {
	var last clock.Timestamp
	for {
		epoch := e.epoch.Load()
		now := e.clock.Now()
		ticks := Ticks(epoch, now)

		t := Tick{At: now, Ticks: ticks, Value: Display(ticks)}
		if last != 0 {
			t.Gap = now.Sub(last)
		}
		last = now

		if _, err := fmt.Fprintf(e.out, "[%s, after %7d us]: %d\n",
			now.Time().Format("15:04:05.000000"), t.Gap.Microseconds(), t.Value); err != nil {
			e.log.Warn("tick output failed", zap.Error(err))
		}
		if e.counter != nil && ticks >= 0 {
			e.counter.Store(uint64(ticks + 1))
		}
		telemetry.TicksEmitted.Inc()
		if e.OnTick != nil {
			e.OnTick(t)
		}

		wake := Next(epoch, ticks)
		e.log.Debug("tick", zap.Int64("ticks", ticks), zap.Int64("wake", int64(wake)))
		if err := e.clock.SleepUntil(ctx, wake); err != nil {
			return err
		}
	}
}
