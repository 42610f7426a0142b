// Package scheduler admits camera frames into the detector under a
// minimum-spacing and one-in-flight drop policy.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/pilahsampah/pilah/internal/capture"
	"github.com/pilahsampah/pilah/internal/convert"
)

// DefaultMinSpacing caps admission at roughly 15 frames per second.
const DefaultMinSpacing = 66 * time.Millisecond

// Detector is the part of the detector session the scheduler drives.
type Detector interface {
	IsReady() bool
	// Submit must not block.
	Submit(img *convert.Image, rotation int, requestTime time.Time) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock used for spacing and FPS windows.
func WithClock(clk clock.Clock) Option {
	return func(s *Scheduler) { s.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithMinSpacing sets the minimum time between admitted frames.
func WithMinSpacing(d time.Duration) Option {
	return func(s *Scheduler) { s.minSpacing = d }
}

// Scheduler is the single consumer of camera frames. OnFrame is safe to
// call from any goroutine; concurrent calls beyond the first are dropped.
type Scheduler struct {
	det        Detector
	clock      clock.Clock
	log        *zap.SugaredLogger
	minSpacing time.Duration

	// mu is held for the whole admit-convert-submit path.
	mu        sync.Mutex
	lastAdmit time.Time
	fps       *FPSMeter
	stats     Stats
}

// New creates a Scheduler feeding det.
func New(det Detector, opts ...Option) *Scheduler {
	s := &Scheduler{
		det:        det,
		clock:      clock.New(),
		minSpacing: DefaultMinSpacing,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}
	s.fps = NewFPSMeter(s.clock, time.Second)
	return s
}

// OnFrame takes ownership of frame. The frame is always released before
// OnFrame returns, and on the admitted path it is released right after
// conversion, before submission. It reports whether the frame was
// handed to the detector.
func (s *Scheduler) OnFrame(frame *capture.Frame) (submitted bool) {
	defer frame.Release()
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("panic processing frame", "panic", r)
			submitted = false
		}
	}()

	s.stats.Received.Inc()

	if !s.mu.TryLock() {
		s.stats.Busy.Inc()
		return false
	}
	defer s.mu.Unlock()

	if !s.det.IsReady() {
		s.stats.NotReady.Inc()
		return false
	}

	s.fps.Count()

	now := s.clock.Now()
	if !s.lastAdmit.IsZero() && now.Sub(s.lastAdmit) < s.minSpacing {
		s.stats.TooSoon.Inc()
		return false
	}
	s.lastAdmit = now
	s.stats.Admitted.Inc()

	rotation := frame.RotationDegrees
	img, err := convert.Convert(frame)
	frame.Release()
	if err != nil {
		s.stats.ConvertFailed.Inc()
		s.log.Debugw("skipping frame", "error", err)
		return false
	}

	if err := s.det.Submit(img, rotation, now); err != nil {
		s.stats.Rejected.Inc()
		s.log.Debugw("detector rejected frame", "error", err)
		return false
	}

	s.stats.Submitted.Inc()
	return true
}

// Reset forgets the last admission time so the next ready frame is
// admitted immediately.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAdmit = time.Time{}
}

// RunFPS publishes the frame rate once per second until ctx is done.
func (s *Scheduler) RunFPS(ctx context.Context) {
	s.fps.Run(ctx)
}

// FPS returns the frame rate published for the last full second.
func (s *Scheduler) FPS() int {
	return s.fps.FPS()
}

// Stats returns a snapshot of the frame counters.
func (s *Scheduler) Stats() StatsSnapshot {
	return s.stats.snapshot()
}
