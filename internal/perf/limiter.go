package perf

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// LogLimiter suppresses a warning if the same key was logged within the
// interval.
type LogLimiter struct {
	log      *zap.SugaredLogger
	clock    clock.Clock
	interval time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewLogLimiter returns a LogLimiter with the given minimum interval per key.
func NewLogLimiter(log *zap.SugaredLogger, clk clock.Clock, interval time.Duration) *LogLimiter {
	return &LogLimiter{
		log:      log,
		clock:    clk,
		interval: interval,
		last:     make(map[string]time.Time),
	}
}

// Warnw logs msg at warn level unless key was logged recently. It
// reports whether the line was written.
func (l *LogLimiter) Warnw(key, msg string, keysAndValues ...interface{}) bool {
	now := l.clock.Now()

	l.mu.Lock()
	prev, seen := l.last[key]
	if seen && now.Sub(prev) < l.interval {
		l.mu.Unlock()
		return false
	}
	l.last[key] = now
	l.mu.Unlock()

	l.log.Warnw(msg, keysAndValues...)
	return true
}
