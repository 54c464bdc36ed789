// Package authority answers synchronization requests on behalf of the process
// whose ticker is the reference.
package authority

import (
	"context"
	"time"

	"ticksync/pkg/clock"
	"ticksync/pkg/packet"
	"ticksync/pkg/socket"
	"ticksync/pkg/syncmsg"
	"ticksync/pkg/telemetry"
	"ticksync/pkg/tick"

	"github.com/ddirect/container/ttlmap"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	ClientTTL   = time.Minute
	clientSweep = time.Second
	recvChDepth = 16
)

type Authority struct {
	clock   clock.Clock
	epoch   clock.Timestamp
	counter *tick.Counter
	log     *zap.Logger
}

// New returns an Authority for a ticker started at epoch whose emitted tick
// count is kept in counter.
func New(clk clock.Clock, epoch clock.Timestamp, counter *tick.Counter, log *zap.Logger) *Authority {
	if log == nil {
		log = zap.NewNop()
	}
	return &Authority{
		clock:   clk,
		epoch:   epoch,
		counter: counter,
		log:     log,
	}
}

// Reply builds the answer to req, which arrived at rx.
//
// The reported tick count is the number of the tick that fires next. When the
// ticker is late and that instant has already passed, the count is bumped so
// TimeToFire is never negative. A ticker that is merely behind by less than a
// second gets a bump of one; larger bumps only happen when it has stalled for
// longer than a second, one per missed second.
func (a *Authority) Reply(req *syncmsg.Message, rx clock.Timestamp) syncmsg.Message {
	rep := *req
	rep.T2 = rx
	rep.Seq = req.Seq + 1

	raw := a.counter.Load()
	ticks := raw
	next := a.epoch + clock.Timestamp(ticks)*clock.Second
	now := a.clock.Now()
	for now >= next {
		ticks++
		next += clock.Second
	}
	if ticks != raw {
		telemetry.TickCorrections.Inc()
		a.log.Debug("ticker late, tick count bumped", zap.Uint64("counter", raw), zap.Uint64("reported", ticks))
	}

	rep.ServerTicks = ticks
	rep.TimeToFire = next.Sub(now)
	rep.T3 = a.clock.Now()
	return rep
}

type clientInfo struct {
	requests uint64
	lastSeq  uint64
}

// Serve answers every datagram from recvCh through send until ctx is done or
// recvCh is closed. Malformed datagrams are logged and dropped.
func (a *Authority) Serve(ctx context.Context, recvCh <-chan packet.RecvPacket[syncmsg.Message], send func(*syncmsg.Message, unix.Sockaddr) error) error {
	clients, expired := ttlmap.New[string, clientInfo](ClientTTL, clientSweep)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case seq := <-expired:
			for client := range seq {
				a.log.Info("client expired", zap.String("client", client.Key()),
					zap.Uint64("requests", client.Value.requests), zap.Uint64("last_seq", client.Value.lastSeq))
			}

		case recvPkt, ok := <-recvCh:
			if !ok {
				return ctx.Err()
			}
			if recvPkt.Error != nil {
				a.log.Warn("dropping datagram", zap.Error(recvPkt.Error))
				continue
			}

			from := "unknown"
			if recvPkt.From != nil {
				from = socket.AddrToString(recvPkt.From)
			}
			client, found := clients.GetOrCreate(from)
			if !found {
				a.log.Info("new client", zap.String("client", client.Key()))
			}
			client.Value.requests++
			client.Value.lastSeq = recvPkt.Data.Seq

			rep := a.Reply(&recvPkt.Data, recvPkt.Ts)
			if err := send(&rep, recvPkt.From); err != nil {
				a.log.Warn("reply failed", zap.String("client", from), zap.Error(err))
				continue
			}
			telemetry.RequestsServed.Inc()
			a.log.Debug("served", zap.String("client", from), zap.Uint64("seq", rep.Seq),
				zap.Uint64("ticks", rep.ServerTicks), zap.Duration("time_to_fire", rep.TimeToFire))
		}
	}
}

// ServeFD runs Serve on a bound datagram socket.
func (a *Authority) ServeFD(ctx context.Context, fd int) error {
	recvCh := packet.NewAsyncReceiver[syncmsg.Message](ctx, fd, a.clock, recvChDepth)
	return a.Serve(ctx, recvCh, packet.NewSender[syncmsg.Message](fd))
}
