// Package epochfile stores a server epoch on disk so that a client on the same
// host can measure how far its own calibrated epoch is from the truth. Nothing
// reads the file for synchronization.
package epochfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ticksync/pkg/clock"

	"github.com/pelletier/go-toml/v2"
)

type Record struct {
	Epoch   clock.Timestamp `toml:"epoch_ns"`
	Pid     int             `toml:"pid"`
	Written time.Time       `toml:"written"`
}

// Write replaces path with a record of epoch. Readers never see a partial file.
func Write(path string, epoch clock.Timestamp) error {
	buf, err := toml.Marshal(Record{
		Epoch:   epoch,
		Pid:     os.Getpid(),
		Written: time.Now().UTC().Truncate(time.Microsecond),
	})
	if err != nil {
		return fmt.Errorf("toml.Marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".epoch-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func Read(path string) (Record, error) {
	var r Record
	raw, err := os.ReadFile(path)
	if err != nil {
		return r, fmt.Errorf("read epoch file: %w", err)
	}
	if err = toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(&r); err != nil {
		return r, fmt.Errorf("decode epoch file %s: %w", path, err)
	}
	return r, nil
}
