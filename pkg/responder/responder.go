// Package responder keeps a local epoch aligned with a remote authority by
// running one request/reply round per interval.
package responder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticksync/pkg/clock"
	"ticksync/pkg/packet"
	"ticksync/pkg/syncmsg"
	"ticksync/pkg/telemetry"
	"ticksync/pkg/tick"

	"go.uber.org/zap"
)

type Outcome int

const (
	Calibrated Outcome = iota
	Mismatch           // reply carried an unexpected sequence number
	Timeout            // no reply within the interval
	Failed             // send or receive error, or malformed reply
)

func (o Outcome) String() string {
	switch o {
	case Calibrated:
		return telemetry.OutcomeCalibrated
	case Mismatch:
		return telemetry.OutcomeMismatch
	case Timeout:
		return telemetry.OutcomeTimeout
	case Failed:
		return telemetry.OutcomeFailed
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Transport carries one round. Receive must give up after the sync interval
// and report that with packet.ErrTimeout; the returned timestamp is the
// arrival time on the local clock. Flush discards replies that are already
// waiting and reports how many.
type Transport interface {
	Send(*syncmsg.Message) error
	Receive() (syncmsg.Message, clock.Timestamp, error)
	Flush() (int, error)
}

type Round struct {
	Outcome  Outcome
	Msg      syncmsg.Message // the reply, with T4 filled in
	Epoch    clock.Timestamp // published epoch, Calibrated only
	Previous clock.Timestamp // epoch it replaced, Calibrated only
	Err      error
}

type Responder struct {
	clock     clock.Clock
	transport Transport
	epoch     *tick.Epoch
	interval  time.Duration
	log       *zap.Logger
	seq       uint64

	// OnRound, when set, is called after every round.
	OnRound func(Round)
}

func New(clk clock.Clock, transport Transport, epoch *tick.Epoch, interval time.Duration, log *zap.Logger) *Responder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Responder{
		clock:     clk,
		transport: transport,
		epoch:     epoch,
		interval:  interval,
		log:       log,
	}
}

// Round performs one exchange and publishes the resulting epoch on success.
// It never sleeps beyond the transport's receive timeout.
func (r *Responder) Round() Round {
	seq := r.seq
	r.seq++

	// late replies to earlier rounds would otherwise be read in place of this one
	if n, err := r.transport.Flush(); err != nil {
		return Round{Outcome: Failed, Msg: syncmsg.Message{Seq: seq}, Err: err}
	} else if n > 0 {
		r.log.Debug("stale replies dropped", zap.Int("count", n), zap.Uint64("seq", seq))
	}

	req := syncmsg.Message{Seq: seq}
	req.T1 = r.clock.Now()
	if err := r.transport.Send(&req); err != nil {
		return Round{Outcome: Failed, Msg: req, Err: err}
	}

	rep, rx, err := r.transport.Receive()
	switch {
	case errors.Is(err, packet.ErrTimeout):
		return Round{Outcome: Timeout, Msg: req, Err: err}
	case err != nil:
		return Round{Outcome: Failed, Msg: req, Err: err}
	}
	rep.T4 = rx

	if rep.Seq != seq+1 {
		return Round{Outcome: Mismatch, Msg: rep,
			Err: fmt.Errorf("wrong sequence: expecting %d, got %d", seq+1, rep.Seq)}
	}
	// t1 never left this process, the echoed copy is not needed
	rep.T1 = req.T1

	epoch := rep.Epoch()
	prev := r.epoch.Swap(epoch)
	return Round{Outcome: Calibrated, Msg: rep, Epoch: epoch, Previous: prev}
}

// Run repeats rounds until ctx is done. A timed out round starts the next one
// at once since the wait already lasted an interval; every other outcome is
// followed by a full interval of sleep.
func (r *Responder) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rd := r.Round()
		r.report(rd)
		if r.OnRound != nil {
			r.OnRound(rd)
		}

		if rd.Outcome == Timeout {
			continue
		}
		if err := clock.Sleep(ctx, r.clock, r.interval); err != nil {
			return err
		}
	}
}

func (r *Responder) report(rd Round) {
	telemetry.Rounds.WithLabelValues(rd.Outcome.String()).Inc()
	switch rd.Outcome {
	case Calibrated:
		correction := rd.Epoch.Sub(rd.Previous)
		telemetry.RoundTrip.Observe(rd.Msg.RoundTrip().Seconds())
		telemetry.EpochCorrection.Set(correction.Seconds())
		r.log.Debug("calibrated",
			zap.Uint64("seq", rd.Msg.Seq),
			zap.Duration("round_trip", rd.Msg.RoundTrip()),
			zap.Uint64("server_ticks", rd.Msg.ServerTicks),
			zap.Duration("time_to_fire", rd.Msg.TimeToFire),
			zap.Duration("correction", correction))
	case Timeout:
		r.log.Warn("timeout", zap.Uint64("seq", rd.Msg.Seq))
	case Mismatch:
		r.log.Warn("reply discarded", zap.Error(rd.Err))
	case Failed:
		r.log.Error("round failed", zap.Uint64("seq", rd.Msg.Seq), zap.Error(rd.Err))
	}
}
