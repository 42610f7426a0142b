package app

import (
	"context"

	"github.com/pilahsampah/pilah/internal/capture"
	"github.com/pilahsampah/pilah/internal/detector"
	"github.com/pilahsampah/pilah/internal/overlay"
	"github.com/pilahsampah/pilah/internal/perf"
	"github.com/pilahsampah/pilah/internal/results"
	"github.com/pilahsampah/pilah/internal/scheduler"
	"github.com/pilahsampah/pilah/internal/waste"
)

// State is what the UI shows. It is replaced wholesale on every update.
type State struct {
	// Loading is true until the detector is ready.
	Loading     bool
	Paused      bool
	FPS         int
	InferenceMs int64
	Backend     detector.Backend
	Resolution  capture.Resolution
	Counts      waste.Counts
	Items       []overlay.Item
	BundleID    string
	// Notice is the message of the latest detector notice.
	Notice  string
	Fatal   bool
	Latency perf.Summary
	Frames  scheduler.StatsSnapshot
}

// State returns a snapshot of the presentation state.
func (a *App) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := a.state
	s.Items = append([]overlay.Item(nil), a.state.Items...)
	return s
}

// Subscribe registers fn to be called with every new state. fn runs on
// the presenter goroutine and must not block.
func (a *App) Subscribe(fn func(State)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// present is the single writer of State apart from Pause and Resume.
func (a *App) present(ctx context.Context) error {
	ticker := a.clock.Ticker(a.cfg.UI.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-a.corr.Bundles():
			a.applyBundle(b)
		case n := <-a.session.Notices():
			a.applyNotice(n)
		case <-ticker.C:
			a.refresh()
		}
	}
}

func (a *App) applyBundle(b results.Bundle) {
	items, err := a.mapper.Layout(b.Detections, b.InputImageWidth, b.InputImageHeight, b.InputImageRotation)
	if err != nil {
		a.log.Debugw("dropping overlay", "bundle", b.ID, "error", err)
		items = nil
	}

	a.update(func(s *State) {
		s.BundleID = b.ID
		s.Items = items
		s.Counts = b.Counts()
		s.InferenceMs = b.InferenceTimeMs()
	})
}

func (a *App) applyNotice(n detector.Notice) {
	if n.Fatal {
		a.log.Errorw("detector notice", "code", n.Code, "message", n.Message)
	} else {
		a.log.Warnw("detector notice", "code", n.Code, "message", n.Message)
	}

	a.update(func(s *State) {
		s.Notice = n.Message
		s.Fatal = n.Fatal
		s.Backend = a.session.Backend()
	})
}

func (a *App) refresh() {
	ready := a.session.IsReady()
	a.update(func(s *State) {
		s.Loading = !ready
		if ready {
			s.Backend = a.session.Backend()
			s.Fatal = false
		}
		s.FPS = a.sched.FPS()
		s.Resolution = a.camera.Resolution()
		s.Latency = a.monitor.Summary()
		s.Frames = a.sched.Stats()
	})
}

func (a *App) update(fn func(*State)) {
	a.mu.Lock()
	fn(&a.state)
	snapshot := a.state
	listeners := append(([]func(State))(nil), a.listeners...)
	a.mu.Unlock()

	for _, l := range listeners {
		l(snapshot)
	}
}
