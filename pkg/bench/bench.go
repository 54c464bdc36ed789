// Package bench measures the error of calibrated epochs against a known
// reference epoch, which is only available when both ends share a clock.
package bench

import (
	"fmt"
	"io"
	"time"

	"ticksync/pkg/clock"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const maxError = time.Minute

// Bench records absolute epoch errors in microseconds.
type Bench struct {
	reference clock.Timestamp
	hist      *hdrhistogram.Histogram
}

func New(reference clock.Timestamp) *Bench {
	return &Bench{
		reference: reference,
		hist:      hdrhistogram.New(1, maxError.Microseconds(), 3),
	}
}

// Record adds the error of epoch and returns it, signed.
func (b *Bench) Record(epoch clock.Timestamp) (time.Duration, error) {
	d := epoch.Sub(b.reference)
	us := d.Abs().Microseconds()
	if us < 1 {
		us = 1
	}
	if err := b.hist.RecordValue(us); err != nil {
		return d, fmt.Errorf("epoch error %v: %w", d, err)
	}
	return d, nil
}

func (b *Bench) Count() int64 {
	return b.hist.TotalCount()
}

// Quantile returns the error at q, which is in percent like hdrhistogram's.
func (b *Bench) Quantile(q float64) time.Duration {
	return time.Duration(b.hist.ValueAtQuantile(q)) * time.Microsecond
}

func (b *Bench) Summary() string {
	return fmt.Sprintf("n=%d p50=%v p90=%v p99=%v max=%v",
		b.Count(), b.Quantile(50), b.Quantile(90), b.Quantile(99),
		time.Duration(b.hist.Max())*time.Microsecond)
}

// Print writes the full percentile distribution in microseconds.
func (b *Bench) Print(w io.Writer) error {
	_, err := b.hist.PercentilesPrint(w, 1, 1.0)
	return err
}
