// Package syncmsg defines the datagram exchanged once per synchronization
// round and the arithmetic a client performs on a completed round.
//
// Timestamps t1 and t4 are taken on the client clock, t2 and t3 on the
// server clock. The two pairs are never compared directly; only the
// differences within one clock domain enter the calculation.
package syncmsg

import (
	"encoding/binary"
	"time"

	"ticksync/pkg/clock"
	"ticksync/pkg/packet"
)

type Message struct {
	Seq         uint64
	T1          clock.Timestamp // request sent, client clock
	T2          clock.Timestamp // request received, server clock
	T3          clock.Timestamp // reply sent, server clock
	T4          clock.Timestamp // reply received, client clock
	ServerTicks uint64          // ticks emitted by the server as of T3
	TimeToFire  time.Duration   // from T3 until ServerTicks increments
}

// Size is the length of an encoded Message in bytes.
var Size = binary.Size(Message{})

func (m *Message) Encode(buf []byte) ([]byte, error) {
	return packet.Encode(buf, m)
}

func (m *Message) Decode(buf []byte) error {
	return packet.Decode(buf, m)
}

// RoundTrip is the time spent on the network: the total elapsed time on the
// client minus the time the server held the request.
func (m *Message) RoundTrip() time.Duration {
	return m.T4.Sub(m.T1) - m.T3.Sub(m.T2)
}

// OneWayDelay assumes a symmetric path.
func (m *Message) OneWayDelay() time.Duration {
	return m.RoundTrip() / 2
}

// EstimatedFire is the client clock instant at which the server's tick counter
// next increments.
func (m *Message) EstimatedFire() clock.Timestamp {
	return m.T4.Add(m.TimeToFire - m.OneWayDelay())
}

// Epoch is the client clock instant at which the server's counter was zero.
func (m *Message) Epoch() clock.Timestamp {
	return Calibrate(m.EstimatedFire(), m.ServerTicks)
}

// Calibrate returns the epoch for which fire is the instant of tick number ticks.
func Calibrate(fire clock.Timestamp, ticks uint64) clock.Timestamp {
	return fire - clock.Timestamp(ticks)*clock.Second
}
