package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"ticksync/pkg/clock"

	"golang.org/x/sys/unix"
)

var (
	ErrTimeout                      = errors.New("receive timed out")
	ErrSize                         = errors.New("unexpected datagram size")
	ErrTimestampNotFound            = errors.New("no timestamp found in control data")
	ErrScmTimestampingNotEnoughData = errors.New("not enough data received for ScmTimestamping")
)

const (
	ctlBufSize = 256 // 64 bytes are enough for a single ScmTimestamping structure plus Cmsghdr (on x86_64)
)

// Order is the byte order of every integer on the wire.
var Order = binary.BigEndian

// Encode appends the wire representation of t to buf. T must have a fixed size.
func Encode[T any](buf []byte, t *T) ([]byte, error) {
	res, err := binary.Append(buf, Order, t)
	if err != nil {
		return buf, fmt.Errorf("binary.Append: %w", err)
	}
	return res, nil
}

// Decode fills t from buf, which must hold exactly one encoded T.
func Decode[T any](buf []byte, t *T) error {
	if size := binary.Size(t); len(buf) != size {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrSize, len(buf), size)
	}
	if _, err := binary.Decode(buf, Order, t); err != nil {
		return fmt.Errorf("binary.Decode: %w", err)
	}
	return nil
}

// EnableTimestamping asks the kernel to attach software RX timestamps to every received datagram.
func EnableTimestamping(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPING,
		unix.SOF_TIMESTAMPING_RX_SOFTWARE|
			unix.SOF_TIMESTAMPING_SOFTWARE,
	); err != nil {
		return fmt.Errorf("setsockopt: %w", err)
	}
	return nil
}

func decodeTimestamp(buf []byte) (clock.Timestamp, error) {
	for len(buf) > 0 {
		hdr, data, remainder, err := unix.ParseOneSocketControlMessage(buf)
		if err != nil {
			return 0, fmt.Errorf("unix.ParseOneSocketControlMessage: %w", err)
		}

		switch hdr.Level {
		case unix.SOL_SOCKET:
			switch hdr.Type {
			case unix.SCM_TIMESTAMPING:
				if uintptr(len(data)) < unsafe.Sizeof(unix.ScmTimestamping{}) {
					return 0, ErrScmTimestampingNotEnoughData
				}
				scmTs := (*unix.ScmTimestamping)(unsafe.Pointer(unsafe.SliceData(data)))
				return clock.Timestamp(scmTs.Ts[0].Nano()), nil
			}
		}

		buf = remainder
	}
	return 0, ErrTimestampNotFound
}
