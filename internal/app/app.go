// Package app wires the camera, detector session, frame scheduler and
// result handling into the live classification pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bep/debounce"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pilahsampah/pilah/internal/adaptive"
	"github.com/pilahsampah/pilah/internal/capture"
	"github.com/pilahsampah/pilah/internal/config"
	"github.com/pilahsampah/pilah/internal/detector"
	"github.com/pilahsampah/pilah/internal/overlay"
	"github.com/pilahsampah/pilah/internal/perf"
	"github.com/pilahsampah/pilah/internal/results"
	"github.com/pilahsampah/pilah/internal/scheduler"
)

// Pipeline timing constants.
const (
	// CaptureFPS is the rate at which frames are pulled from the camera.
	CaptureFPS = 30
	// BackendDebounce collapses rapid backend toggles into one reconfigure.
	BackendDebounce = 300 * time.Millisecond
)

// Deps are the collaborators New would otherwise build from the config.
// Zero fields get the production implementation.
type Deps struct {
	Camera capture.Camera
	Engine detector.Engine
	Clock  clock.Clock
	Logger *zap.SugaredLogger
}

// App owns one camera and one detector session.
type App struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	clock   clock.Clock
	camera  capture.Camera
	session *detector.Session
	sched   *scheduler.Scheduler
	corr    *results.Correlator
	ctrl    *adaptive.Controller
	monitor *perf.Monitor
	mapper  overlay.Mapper
	readLog *perf.LogLimiter

	debounced func(func())
	paused    atomic.Bool

	mu        sync.RWMutex
	opts      detector.Options
	state     State
	listeners []func(State)
}

// New builds the pipeline from cfg. Nothing runs until Run is called.
func New(cfg *config.Config, deps Deps) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log := deps.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}

	params := cfg.AdaptiveParams()
	if cfg.Camera.AutoCapability {
		if c, err := perf.DetectCapability(); err != nil {
			log.Warnw("could not detect device capability", "error", err)
		} else {
			params.InitialIndex = c.LadderIndex(len(params.Ladder))
			log.Infow("device capability", "tier", c, "resolution", params.Ladder[params.InitialIndex])
		}
	}

	camera := deps.Camera
	if camera == nil {
		camera = capture.NewCamera(cfg.Camera.DeviceID,
			capture.WithRotation(cfg.Camera.Rotation),
			capture.WithClock(clk),
			capture.WithResolution(params.Ladder[params.InitialIndex]),
		)
	}
	if initial := params.Ladder[params.InitialIndex]; camera.Resolution() != initial {
		if err := camera.SetResolution(initial); err != nil {
			return nil, fmt.Errorf("set initial resolution: %w", err)
		}
	}
	engine := deps.Engine
	if engine == nil {
		engine = detector.NewDNNEngine()
	}

	a := &App{
		cfg:       cfg,
		log:       log,
		clock:     clk,
		camera:    camera,
		opts:      cfg.DetectorOptions(),
		mapper:    overlay.Mapper{ViewWidth: float64(cfg.UI.ViewWidth), ViewHeight: float64(cfg.UI.ViewHeight)},
		readLog:   perf.NewLogLimiter(log.Named("camera"), clk, cfg.Perf.WarnInterval),
		debounced: debounce.New(BackendDebounce),
	}

	if cfg.Adaptive.Enabled {
		ctrl, err := adaptive.New(params, camera, adaptive.WithClock(clk), adaptive.WithLogger(log.Named("adaptive")))
		if err != nil {
			return nil, fmt.Errorf("adaptive controller: %w", err)
		}
		a.ctrl = ctrl
	}

	a.session = detector.NewSession(engine, detector.WithLogger(log.Named("detector")), detector.WithClock(clk))
	a.monitor = perf.NewMonitor(cfg.MonitorParams(), log.Named("perf"), clk)
	a.corr = results.NewCorrelator(a, results.WithClock(clk), results.WithLogger(log.Named("results")))
	a.sched = scheduler.New(a.session,
		scheduler.WithClock(clk),
		scheduler.WithLogger(log.Named("scheduler")),
		scheduler.WithMinSpacing(cfg.Scheduler.MinSpacing),
	)
	a.state = State{Loading: true, Backend: a.opts.Backend, Resolution: camera.Resolution()}

	return a, nil
}

// Run opens the camera, starts the detector and blocks until ctx is
// done or a pipeline goroutine fails. Everything is torn down before it
// returns.
func (a *App) Run(ctx context.Context) error {
	if err := a.camera.Open(); err != nil {
		a.session.Shutdown()
		return fmt.Errorf("open camera: %w", err)
	}
	a.log.Infow("pipeline starting", "resolution", a.camera.Resolution(), "backend", a.options().Backend)

	if !a.paused.Load() {
		a.session.ConfigureAsync(a.options())
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.runPipeline(ctx) })
	g.Go(func() error { return ignoreCanceled(a.corr.Run(ctx, a.session.Completions())) })
	g.Go(func() error { return a.present(ctx) })
	g.Go(func() error {
		a.sched.RunFPS(ctx)
		return nil
	})
	g.Go(func() error {
		a.watchMemory(ctx)
		return nil
	})

	err := g.Wait()
	a.log.Infow("pipeline stopping")
	return multierr.Append(err, a.shutdown())
}

func (a *App) shutdown() error {
	a.session.Shutdown()
	if a.ctrl != nil {
		a.ctrl.Wait()
	}
	if err := a.camera.Close(); err != nil {
		return fmt.Errorf("close camera: %w", err)
	}
	return nil
}

// OnInferenceTime feeds every measured latency to the perf monitor and
// the resolution controller.
func (a *App) OnInferenceTime(d time.Duration) {
	a.monitor.Observe(d)
	if a.ctrl != nil {
		a.ctrl.OnInferenceTime(d)
	}
}

// Pause stops frame admission and closes the detector, as when the
// screen is no longer visible.
func (a *App) Pause() {
	if a.paused.Swap(true) {
		return
	}
	a.session.Close()
	a.sched.Reset()
	a.update(func(s *State) {
		s.Paused = true
		s.Loading = true
		s.Items = nil
	})
	a.log.Infow("pipeline paused")
}

// Resume reopens the detector with the current options.
func (a *App) Resume() {
	if !a.paused.Swap(false) {
		return
	}
	a.update(func(s *State) { s.Paused = false })
	a.session.ConfigureAsync(a.options())
	a.log.Infow("pipeline resumed")
}

// IsPaused reports whether Pause is in effect.
func (a *App) IsPaused() bool {
	return a.paused.Load()
}

// SetBackend switches the preferred backend. Rapid calls are collapsed
// and only the last one reconfigures the session.
func (a *App) SetBackend(b detector.Backend) {
	a.mu.Lock()
	a.opts.Backend = b
	a.mu.Unlock()

	a.debounced(func() {
		if a.paused.Load() {
			return
		}
		a.log.Infow("switching backend", "backend", b)
		a.session.ConfigureAsync(a.options())
	})
}

// Session returns the detector session.
func (a *App) Session() *detector.Session {
	return a.session
}

// Controller returns the resolution controller, or nil when disabled.
func (a *App) Controller() *adaptive.Controller {
	return a.ctrl
}

func (a *App) options() detector.Options {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.opts
}

func (a *App) watchMemory(ctx context.Context) {
	if a.cfg.Perf.MemoryCheck <= 0 {
		return
	}
	log := a.log.Named("perf")
	ticker := a.clock.Ticker(a.cfg.Perf.MemoryCheck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := perf.CheckMemory(log); err != nil {
				log.Debugw("memory check failed", "error", err)
			}
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
