// Package stats keeps the running mean and standard deviation of the most
// recent samples of a signed quantity, such as a round trip or an epoch
// correction. Sums are exact, so the results do not drift with the number of
// samples processed.
package stats

import (
	"math/big"

	"github.com/ddirect/container/fifo"
	"golang.org/x/exp/constraints"
)

type Window[T constraints.Signed] struct {
	sum     big.Int
	sum2    big.Int
	t1      big.Int
	t2      big.Int
	t3      big.Int
	samples fifo.Fifo[T]
	size    int
	spread  float64
	mean    T
	stdDev  T
}

// New returns a window of size samples. Once full, a sample further than
// spread standard deviations from the mean is rejected; a spread of zero
// disables rejection.
func New[T constraints.Signed](size int, spread float64) *Window[T] {
	return &Window[T]{
		size:   size,
		spread: spread,
	}
}

// Add records x and reports whether it was accepted.
func (w *Window[T]) Add(x T) bool {
	if w.Len() >= w.size {
		if w.spread > 0 && !w.inRange(x) {
			return false
		}
		w.drop()
	}

	t := w.t1.SetInt64(int64(x))
	w.sum.Add(&w.sum, t)
	w.sum2.Add(&w.sum2, t.Mul(t, t))
	w.samples.Enqueue(x)
	w.mean = w.getMean()
	w.stdDev = w.getStdDev()
	return true
}

func (w *Window[T]) inRange(x T) bool {
	r := T(float64(w.stdDev) * w.spread)
	return x >= w.mean-r && x <= w.mean+r
}

func (w *Window[T]) drop() {
	if x, ok := w.samples.Dequeue(); ok {
		t := w.t1.SetInt64(int64(x))
		w.sum.Sub(&w.sum, t)
		w.sum2.Sub(&w.sum2, t.Mul(t, t))
	}
}

func (w *Window[T]) getMean() T {
	n := w.Len()
	if n < 1 {
		return 0
	}
	return T(w.t2.Div(&w.sum, w.t1.SetUint64(uint64(n))).Int64())
}

func (w *Window[T]) getStdDev() T {
	n := uint64(w.Len())
	if n < 2 {
		return 0
	}
	// Sqrt((n*sum2 - sum*sum) / (n*(n-1)))
	t1 := &w.t1
	t2 := &w.t2
	t3 := &w.t3

	t1.SetUint64(n)
	t2.Sub(t2.Mul(t1, &w.sum2), t3.Mul(&w.sum, &w.sum))
	t3.Mul(t1, t3.SetUint64(n-1))

	return T(t2.Div(t2, t3).Sqrt(t2).Uint64())
}

func (w *Window[T]) Len() int {
	return w.samples.Len()
}

func (w *Window[T]) Mean() T {
	return w.mean
}

func (w *Window[T]) StdDev() T {
	return w.stdDev
}
