package packet

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// NewSender returns a function writing one T per call to fd; to may be nil on a connected socket.
func NewSender[T any](fd int) func(*T, unix.Sockaddr) error {
	var tBuf []byte

	return func(t *T, to unix.Sockaddr) error {
		var err error
		if tBuf, err = Encode(tBuf[:0], t); err != nil {
			return err
		}

		if err = unix.Sendto(fd, tBuf, 0, to); err != nil {
			return fmt.Errorf("sendto: %w", err)
		}
		return nil
	}
}
