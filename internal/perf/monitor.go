// Package perf watches pipeline latency and host resources.
package perf

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// Default thresholds.
const (
	DefaultSlowFrame     = 33 * time.Millisecond
	DefaultSlowInference = 100 * time.Millisecond
	DefaultWarnInterval  = 5 * time.Second
	DefaultWindow        = 120
)

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	SlowFrame     time.Duration
	SlowInference time.Duration
	WarnInterval  time.Duration
	// Window is the number of recent samples kept for Summary.
	Window int
}

// DefaultMonitorConfig returns the default monitor thresholds.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		SlowFrame:     DefaultSlowFrame,
		SlowInference: DefaultSlowInference,
		WarnInterval:  DefaultWarnInterval,
		Window:        DefaultWindow,
	}
}

// Summary describes the recent inference latency distribution.
type Summary struct {
	Count int           `json:"count"`
	Mean  time.Duration `json:"mean"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	Max   time.Duration `json:"max"`
}

// Monitor records per-result timings and warns about slow frames and
// slow inference without flooding the log.
type Monitor struct {
	cfg     MonitorConfig
	clock   clock.Clock
	limiter *LogLimiter

	mu       sync.Mutex
	samples  []float64
	next     int
	lastSeen time.Time
	slowFrm  int
	slowInf  int
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg MonitorConfig, log *zap.SugaredLogger, clk clock.Clock) *Monitor {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Monitor{
		cfg:     cfg,
		clock:   clk,
		limiter: NewLogLimiter(log, clk, cfg.WarnInterval),
		samples: make([]float64, 0, cfg.Window),
	}
}

// Observe records one completed result with its inference time. The
// frame time is the gap since the previous Observe.
func (m *Monitor) Observe(inference time.Duration) {
	now := m.clock.Now()

	m.mu.Lock()
	var frameTime time.Duration
	if !m.lastSeen.IsZero() {
		frameTime = now.Sub(m.lastSeen)
	}
	m.lastSeen = now

	ms := float64(inference) / float64(time.Millisecond)
	if len(m.samples) < m.cfg.Window {
		m.samples = append(m.samples, ms)
	} else {
		m.samples[m.next] = ms
	}
	m.next = (m.next + 1) % m.cfg.Window

	slowFrame := frameTime > m.cfg.SlowFrame
	slowInference := inference > m.cfg.SlowInference
	if slowFrame {
		m.slowFrm++
	}
	if slowInference {
		m.slowInf++
	}
	m.mu.Unlock()

	if slowFrame {
		m.limiter.Warnw("slow-frame", "slow frame detected",
			"frameMs", frameTime.Milliseconds(), "inferenceMs", inference.Milliseconds())
	}
	if slowInference {
		m.limiter.Warnw("slow-inference", "slow inference detected",
			"inferenceMs", inference.Milliseconds())
	}
}

// SlowCounts returns how many slow frames and slow inferences were seen.
func (m *Monitor) SlowCounts() (frames, inferences int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slowFrm, m.slowInf
}

// Summary returns statistics over the recent window.
func (m *Monitor) Summary() Summary {
	m.mu.Lock()
	data := append([]float64(nil), m.samples...)
	m.mu.Unlock()

	if len(data) == 0 {
		return Summary{}
	}
	sort.Float64s(data)

	toDur := func(ms float64) time.Duration {
		return time.Duration(ms * float64(time.Millisecond))
	}
	return Summary{
		Count: len(data),
		Mean:  toDur(stat.Mean(data, nil)),
		P50:   toDur(stat.Quantile(0.5, stat.Empirical, data, nil)),
		P95:   toDur(stat.Quantile(0.95, stat.Empirical, data, nil)),
		Max:   toDur(data[len(data)-1]),
	}
}
