package scheduler

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
)

// FPSMeter counts frames and publishes the count once per window.
type FPSMeter struct {
	clock  clock.Clock
	window time.Duration
	count  *atomic.Int64
	fps    *atomic.Int64
}

// NewFPSMeter creates a meter that snapshots every window.
func NewFPSMeter(clk clock.Clock, window time.Duration) *FPSMeter {
	if window <= 0 {
		window = time.Second
	}
	return &FPSMeter{
		clock:  clk,
		window: window,
		count:  atomic.NewInt64(0),
		fps:    atomic.NewInt64(0),
	}
}

// Count records one frame.
func (m *FPSMeter) Count() {
	m.count.Inc()
}

// FPS returns the last published count.
func (m *FPSMeter) FPS() int {
	return int(m.fps.Load())
}

// Snapshot publishes the current count and resets it.
func (m *FPSMeter) Snapshot() int {
	n := m.count.Swap(0)
	m.fps.Store(n)
	return int(n)
}

// Run snapshots the counter on every window boundary until ctx is done.
func (m *FPSMeter) Run(ctx context.Context) {
	ticker := m.clock.Ticker(m.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Snapshot()
		}
	}
}
