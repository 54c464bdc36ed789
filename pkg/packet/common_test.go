package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestDecodeTimestampNotFound(t *testing.T) {
	_, err := decodeTimestamp(nil)
	assert.ErrorIs(t, err, ErrTimestampNotFound)

	// control data of another kind
	_, err = decodeTimestamp(unix.UnixRights(0))
	assert.ErrorIs(t, err, ErrTimestampNotFound)
}
