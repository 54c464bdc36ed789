package responder

import (
	"ticksync/pkg/clock"
	"ticksync/pkg/packet"
	"ticksync/pkg/syncmsg"

	"golang.org/x/sys/unix"
)

type UDPTransport struct {
	fd   int
	send func(*syncmsg.Message, unix.Sockaddr) error
	recv func() (syncmsg.Message, clock.Timestamp, unix.Sockaddr, error)
}

// NewUDPTransport exchanges messages over a connected datagram socket. The
// socket's receive timeout bounds Receive.
func NewUDPTransport(fd int, clk clock.Clock) *UDPTransport {
	return &UDPTransport{
		fd:   fd,
		send: packet.NewSender[syncmsg.Message](fd),
		recv: packet.NewReceiver[syncmsg.Message](fd, clk),
	}
}

func (t *UDPTransport) Send(m *syncmsg.Message) error {
	return t.send(m, nil)
}

func (t *UDPTransport) Receive() (syncmsg.Message, clock.Timestamp, error) {
	m, ts, _, err := t.recv()
	return m, ts, err
}

func (t *UDPTransport) Flush() (int, error) {
	return packet.Drain(t.fd)
}
