package epochfile_test

import (
	"os"
	"path/filepath"
	"testing"

	"ticksync/pkg/clock"
	"ticksync/pkg/epochfile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "epoch.toml")
	require.NoError(t, epochfile.Write(path, 1_700_000_000_123_456_789))

	r, err := epochfile.Read(path)
	require.NoError(t, err)
	assert.Equal(t, clock.Timestamp(1_700_000_000_123_456_789), r.Epoch)
	assert.Equal(t, os.Getpid(), r.Pid)
	assert.False(t, r.Written.IsZero())

	// overwrite leaves no temporaries behind
	require.NoError(t, epochfile.Write(path, 5))
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	r, err = epochfile.Read(path)
	require.NoError(t, err)
	assert.Equal(t, clock.Timestamp(5), r.Epoch)
}

func TestReadErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := epochfile.Read(filepath.Join(dir, "missing"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("epoch = 3\n"), 0o644))
	_, err = epochfile.Read(bad)
	assert.Error(t, err)
}
