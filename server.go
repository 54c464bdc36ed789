package main

import (
	"context"
	"fmt"
	"io"

	"ticksync/pkg/authority"
	"ticksync/pkg/clock"
	"ticksync/pkg/epochfile"
	"ticksync/pkg/packet"
	"ticksync/pkg/socket"
	"ticksync/pkg/tick"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

func Server(ctx context.Context, conf Config, log *zap.Logger, out io.Writer) error {
	fd, err := socket.Listen(conf.port)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	if conf.KernelTimestamps {
		if err = packet.EnableTimestamping(fd); err != nil {
			return err
		}
	}

	localAddr, err := socket.LocalAddr(fd)
	if err != nil {
		return err
	}
	log.Info("listening", zap.String("addr", socket.AddrToString(localAddr)))

	return serve(ctx, conf, fd, clock.System{}, log, out)
}

// serve runs the reference ticker and answers clients on fd until ctx is done.
func serve(ctx context.Context, conf Config, fd int, clk clock.Clock, log *zap.Logger, out io.Writer) error {
	var counter tick.Counter
	epoch := clk.Now()

	if conf.EpochFile != "" {
		if err := epochfile.Write(conf.EpochFile, epoch); err != nil {
			return fmt.Errorf("epoch file: %w", err)
		}
		log.Info("epoch written", zap.String("path", conf.EpochFile), zap.Int64("epoch", int64(epoch)))
	}

	emitter := tick.NewEmitter(clk, tick.NewEpoch(epoch), &counter, out, log.Named("ticker"))
	auth := authority.New(clk, epoch, &counter, log.Named("authority"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return emitter.Run(ctx)
	})
	g.Go(func() error {
		return auth.ServeFD(ctx, fd)
	})
	return g.Wait()
}
