// Package volatility maintains bounded per-symbol price buffers and
// derives a basis-point volatility proxy from them.
//
// The proxy is the mean absolute successive price difference over the
// last lookback samples divided by the latest price. It is NOT a true
// ATR — there are no high/low bars here — and it is deliberately biased
// conservative: the estimate never drops below the configured floor, so
// position sizing cannot underestimate risk when history is thin.
package volatility

import (
	"math"
	"sync"
)

// DefaultCapacity bounds each per-symbol buffer.
const DefaultCapacity = 256

// Estimator accumulates recent prices per symbol. Pushes and estimates
// may come from different goroutines (the price feed and the evaluate
// path), so the buffers sit behind one mutex.
type Estimator struct {
	mu       sync.Mutex
	capacity int
	lookback int
	floorBps float64
	buffers  map[string][]float64
}

// New returns an Estimator keeping at most capacity prices per symbol,
// estimating over the last lookback successive differences and flooring
// the result at floorBps.
func New(capacity, lookback int, floorBps float64) *Estimator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if lookback < 2 {
		lookback = 2
	}
	return &Estimator{
		capacity: capacity,
		lookback: lookback,
		floorBps: floorBps,
		buffers:  make(map[string][]float64),
	}
}

// Push appends a price observation, dropping the oldest when full.
// Non-positive prices are ignored.
func (e *Estimator) Push(symbol string, price float64) {
	if price <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	buf := append(e.buffers[symbol], price)
	if len(buf) > e.capacity {
		buf = buf[len(buf)-e.capacity:]
	}
	e.buffers[symbol] = buf
}

// EstimateBps returns the volatility proxy in basis points for symbol.
// With fewer than two samples it returns the floor.
func (e *Estimator) EstimateBps(symbol string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	buf := e.buffers[symbol]
	if len(buf) < 2 {
		return e.floorBps
	}

	n := e.lookback
	if n > len(buf)-1 {
		n = len(buf) - 1
	}

	var sum float64
	for i := len(buf) - n; i < len(buf); i++ {
		sum += math.Abs(buf[i] - buf[i-1])
	}
	avg := sum / float64(n)

	last := buf[len(buf)-1]
	bps := avg / math.Max(last, 1e-9) * 1e4
	return math.Max(e.floorBps, bps)
}

// Len reports how many samples are buffered for symbol.
func (e *Estimator) Len(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buffers[symbol])
}
