package packet

import (
	"context"
	"encoding/binary"
	"fmt"

	"ticksync/pkg/clock"

	"golang.org/x/sys/unix"
)

// NewReceiver returns a function reading one T per call from fd. The returned
// timestamp is the kernel RX timestamp when timestamping is enabled on fd,
// otherwise clk is sampled as soon as the datagram is read.
// A receive timeout (SO_RCVTIMEO) is reported as ErrTimeout.
func NewReceiver[T any](fd int, clk clock.Clock) func() (T, clock.Timestamp, unix.Sockaddr, error) {
	var t T
	// one extra byte so that oversized datagrams are detected instead of silently truncated
	tBuf := make([]byte, binary.Size(t)+1)
	ctlBuf := make([]byte, ctlBufSize)

	return func() (T, clock.Timestamp, unix.Sockaddr, error) {
		var zero T
	again:
		tN, ctlN, _, from, err := unix.Recvmsg(fd, tBuf, ctlBuf, 0)
		ts := clk.Now()
		if err != nil {
			switch err {
			case unix.EINTR:
				goto again
			case unix.EAGAIN:
				return zero, ts, nil, ErrTimeout
			}
			return zero, ts, nil, fmt.Errorf("recvmsg: %w", err)
		}

		if ctlN > 0 {
			if kts, err := decodeTimestamp(ctlBuf[:ctlN]); err == nil {
				ts = kts
			}
		}

		if err = Decode(tBuf[:tN], &t); err != nil {
			return zero, ts, from, err
		}

		return t, ts, from, nil
	}
}

type RecvPacket[T any] struct {
	Data  T
	Ts    clock.Timestamp
	From  unix.Sockaddr
	Error error
}

// NewAsyncReceiver runs a receiver in its own goroutine until ctx is done.
// Cancellation shuts down the read side of fd, which wakes a pending receive;
// fd can not be read from afterwards.
func NewAsyncReceiver[T any](ctx context.Context, fd int, clk clock.Clock, chDepth int) <-chan (RecvPacket[T]) {
	ch := make(chan (RecvPacket[T]), chDepth)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			// ENOTCONN on an unconnected socket, the read side is shut down regardless
			_ = unix.Shutdown(fd, unix.SHUT_RD)
		case <-done:
		}
	}()
	go func() {
		defer close(ch)
		defer close(done)
		recv := NewReceiver[T](fd, clk)
		for {
			data, ts, from, err := recv()
			if ctx.Err() != nil {
				return
			}
			select {
			case ch <- RecvPacket[T]{data, ts, from, err}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Drain discards the datagrams already queued on fd without blocking and
// returns how many there were.
func Drain(fd int) (int, error) {
	// datagrams longer than buf are truncated, which is fine for discarding
	buf := make([]byte, 1)
	n := 0
	for {
		_, _, _, _, err := unix.Recvmsg(fd, buf, nil, unix.MSG_DONTWAIT)
		switch err {
		case nil:
			n++
		case unix.EINTR:
		case unix.EAGAIN:
			return n, nil
		default:
			return n, fmt.Errorf("recvmsg: %w", err)
		}
	}
}
