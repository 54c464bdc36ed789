package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"

	"ticksync/pkg/bench"
	"ticksync/pkg/clock"
	"ticksync/pkg/epochfile"
	"ticksync/pkg/packet"
	"ticksync/pkg/responder"
	"ticksync/pkg/socket"
	"ticksync/pkg/tick"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

func Client(ctx context.Context, conf Config, log *zap.Logger, out io.Writer) error {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(conf.host, strconv.Itoa(conf.port)))
	if err != nil {
		return fmt.Errorf("resolve addr: %w", err)
	}

	fd, err := socket.Dial(addr)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	// the receive timeout doubles as the retry interval
	if err = socket.SetRecvTimeout(fd, conf.interval()); err != nil {
		return err
	}
	if conf.KernelTimestamps {
		if err = packet.EnableTimestamping(fd); err != nil {
			return err
		}
	}

	log = log.With(zap.String("session", uuid.NewString()))
	log.Info("synchronizing", zap.Stringer("server", addr), zap.Duration("interval", conf.interval()))

	return follow(ctx, conf, fd, clock.System{}, log, out)
}

// follow runs the local ticker and keeps its epoch calibrated against the
// server on the connected socket fd until ctx is done.
func follow(ctx context.Context, conf Config, fd int, clk clock.Clock, log *zap.Logger, out io.Writer) error {
	var b *bench.Bench
	if conf.EpochFile != "" {
		rec, err := epochfile.Read(conf.EpochFile)
		if err != nil {
			return err
		}
		log.Info("benchmarking against server epoch", zap.Int64("epoch", int64(rec.Epoch)), zap.Int("server_pid", rec.Pid))
		b = bench.New(rec.Epoch)
	}

	epoch := tick.NewEpoch(clk.Now())
	emitter := tick.NewEmitter(clk, epoch, nil, out, log.Named("ticker"))
	resp := responder.New(clk, responder.NewUDPTransport(fd, clk), epoch, conf.interval(), log.Named("responder"))

	sampleCh := make(chan Sample, 16)
	processed := make(chan struct{})
	go func() {
		defer close(processed)
		Process(sampleCh, conf, out, b, log.Named("diag"))
	}()

	var lost, mismatched int
	resp.OnRound = func(rd responder.Round) {
		switch rd.Outcome {
		case responder.Timeout, responder.Failed:
			lost++
		case responder.Mismatch:
			mismatched++
		case responder.Calibrated:
			select {
			case sampleCh <- Sample{
				Msg:             rd.Msg,
				Epoch:           rd.Epoch,
				Previous:        rd.Previous,
				LostCount:       lost,
				MismatchedCount: mismatched,
			}:
			default:
				log.Debug("diagnostics behind, sample dropped")
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return emitter.Run(gctx)
	})
	g.Go(func() error {
		return resp.Run(gctx)
	})
	err := g.Wait()

	close(sampleCh)
	<-processed
	return err
}
