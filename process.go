package main

import (
	"fmt"
	"io"
	"time"

	"ticksync/pkg/bench"
	"ticksync/pkg/clock"
	"ticksync/pkg/stats"
	"ticksync/pkg/syncmsg"

	"go.uber.org/zap"
)

const benchEvery = 10

// Sample is one calibrated round as seen by the diagnostics.
type Sample struct {
	Msg             syncmsg.Message
	Epoch           clock.Timestamp
	Previous        clock.Timestamp
	LostCount       int
	MismatchedCount int
}

func b2s(b bool) string {
	if b {
		return "*"
	}
	return "-"
}

// Process prints diagnostics for every sample until ch is closed. b may be nil.
func Process(ch <-chan Sample, conf Config, out io.Writer, b *bench.Bench, log *zap.Logger) {
	roundtrip := stats.New[time.Duration](conf.MaxSamples, conf.MaxSpread)
	correction := stats.New[time.Duration](conf.MaxSamples, conf.MaxSpread)
	for s := range ch {
		m := &s.Msg
		rtSample := m.RoundTrip()
		corrSample := s.Epoch.Sub(s.Previous)

		rtV := roundtrip.Add(rtSample)
		corrV := correction.Add(corrSample)

		switch conf.Mode {
		case "quiet":
		case "raw":
			fmt.Fprintf(out, "%5d lost %5d mism seq %d t1 %d t2 %d t3 %d t4 %d ticks %d ttf %d epoch %d\n",
				s.LostCount, s.MismatchedCount, m.Seq, m.T1, m.T2, m.T3, m.T4, m.ServerTicks, int64(m.TimeToFire), s.Epoch)
		case "sample":
			fmt.Fprintf(out, "%15v rt %15v oneway %15v ttf %15v corr\n", rtSample, m.OneWayDelay(), m.TimeToFire, corrSample)
		default:
			fmt.Fprintf(out, "%s%s%5d lost %5d mism %5d sampl %15v rtM %15v rtSD %15v corrM %15v corrSD\n",
				b2s(rtV),
				b2s(corrV),
				s.LostCount,
				s.MismatchedCount,
				roundtrip.Len(),
				roundtrip.Mean(),
				roundtrip.StdDev(),
				correction.Mean(),
				correction.StdDev(),
			)
		}

		if b != nil {
			d, err := b.Record(s.Epoch)
			if err != nil {
				log.Warn("bench sample dropped", zap.Error(err))
			} else {
				log.Debug("epoch error", zap.Duration("error", d))
			}
			if b.Count() > 0 && b.Count()%benchEvery == 0 {
				fmt.Fprintf(out, "bench %s\n", b.Summary())
			}
		}
	}

	if b != nil && b.Count() > 0 {
		fmt.Fprintf(out, "bench %s\n", b.Summary())
		if err := b.Print(out); err != nil {
			log.Warn("bench report failed", zap.Error(err))
		}
	}
}
