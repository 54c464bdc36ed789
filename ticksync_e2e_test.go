package main

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ticksync/pkg/clock"
	"ticksync/pkg/socket"
	"ticksync/pkg/telemetry"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServerAndClient(t *testing.T) {
	if testing.Short() {
		t.Skip("runs in real time")
	}
	conf := Config{
		Interval:   0.1,
		Mode:       "stats",
		MaxSamples: 100,
		MaxSpread:  3,
		EpochFile:  filepath.Join(t.TempDir(), "epoch.toml"),
	}

	lfd, err := socket.Listen(0)
	require.NoError(t, err)
	defer unix.Close(lfd)
	sa, err := socket.LocalAddr(lfd)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var serverOut, clientOut lockedBuffer
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- serve(ctx, conf, lfd, clock.System{}, zap.NewNop(), &serverOut)
	}()

	// the epoch file exists once the server ticker is set up
	require.Eventually(t, func() bool {
		return strings.Contains(serverOut.String(), "]: 1")
	}, time.Second, 5*time.Millisecond)

	cfd, err := socket.Dial(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: sa.(*unix.SockaddrInet4).Port})
	require.NoError(t, err)
	defer unix.Close(cfd)
	require.NoError(t, socket.SetRecvTimeout(cfd, conf.interval()))

	calibrated := testutil.ToFloat64(telemetry.Rounds.WithLabelValues(telemetry.OutcomeCalibrated))

	clientCtx, clientCancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer clientCancel()
	err = follow(clientCtx, conf, cfd, clock.System{}, zap.NewNop(), &clientOut)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	cancel()
	select {
	case err := <-serverDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}

	assert.Greater(t, testutil.ToFloat64(telemetry.Rounds.WithLabelValues(telemetry.OutcomeCalibrated)), calibrated+5)

	out := clientOut.String()
	assert.Contains(t, out, "sampl")
	assert.Contains(t, out, "bench n=")
	// both tickers print at least two ticks
	assert.GreaterOrEqual(t, strings.Count(out, "]: "), 2)
	assert.GreaterOrEqual(t, strings.Count(serverOut.String(), "]: "), 2)
}
