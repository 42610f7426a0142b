// Package adaptive steers the capture resolution to keep inference
// latency inside a target band.
package adaptive

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/pilahsampah/pilah/internal/capture"
)

// Rebinder applies a new capture resolution. It may block; the
// controller never calls it on the caller's goroutine.
type Rebinder interface {
	SetResolution(res capture.Resolution) error
}

// Config holds the control loop parameters.
type Config struct {
	// Ladder lists resolutions from highest to lowest.
	Ladder []capture.Resolution
	// Alpha is the EMA smoothing factor.
	Alpha              float64
	Cooldown           time.Duration
	DownscaleThreshold time.Duration
	UpscaleThreshold   time.Duration
	// InitialIndex is the ladder step used before the first change.
	InitialIndex int
}

// DefaultLadder is the default resolution ladder.
func DefaultLadder() []capture.Resolution {
	return []capture.Resolution{
		{Width: 1280, Height: 720},
		{Width: 960, Height: 540},
		{Width: 640, Height: 480},
	}
}

// DefaultConfig returns the default control loop parameters.
func DefaultConfig() Config {
	return Config{
		Ladder:             DefaultLadder(),
		Alpha:              0.2,
		Cooldown:           5 * time.Second,
		DownscaleThreshold: 85 * time.Millisecond,
		UpscaleThreshold:   55 * time.Millisecond,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if len(c.Ladder) == 0 {
		return errors.New("resolution ladder is empty")
	}
	for i, r := range c.Ladder {
		if r.Width <= 0 || r.Height <= 0 {
			return fmt.Errorf("ladder[%d]: invalid resolution %s", i, r)
		}
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("alpha must be in (0, 1], got %v", c.Alpha)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative, got %s", c.Cooldown)
	}
	if c.UpscaleThreshold >= c.DownscaleThreshold {
		return fmt.Errorf("upscale threshold %s must be below downscale threshold %s",
			c.UpscaleThreshold, c.DownscaleThreshold)
	}
	if c.InitialIndex < 0 || c.InitialIndex >= len(c.Ladder) {
		return fmt.Errorf("initial index %d out of range [0, %d)", c.InitialIndex, len(c.Ladder))
	}
	return nil
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock used for cooldown.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Controller) { c.log = log }
}

// Controller is the adaptive resolution control loop.
type Controller struct {
	cfg      Config
	rebinder Rebinder
	clock    clock.Clock
	log      *zap.SugaredLogger

	mu         sync.Mutex
	ema        float64
	index      int
	lastChange time.Time
	changes    int

	rebindMu  sync.Mutex
	rebinding bool
	pending   *capture.Resolution
	wg        sync.WaitGroup
}

// New creates a Controller. The config must be valid.
func New(cfg Config, rebinder Rebinder, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("adaptive config: %w", err)
	}

	c := &Controller{
		cfg:      cfg,
		rebinder: rebinder,
		clock:    clock.New(),
		ema:      -1,
		index:    cfg.InitialIndex,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = zap.NewNop().Sugar()
	}
	return c, nil
}

// OnInferenceTime feeds one latency sample. It never blocks on a rebind.
func (c *Controller) OnInferenceTime(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	c.mu.Lock()
	if c.ema < 0 {
		c.ema = ms
	} else {
		c.ema = c.cfg.Alpha*ms + (1-c.cfg.Alpha)*c.ema
	}

	now := c.clock.Now()
	if !c.lastChange.IsZero() && now.Sub(c.lastChange) < c.cfg.Cooldown {
		c.mu.Unlock()
		return
	}

	down := float64(c.cfg.DownscaleThreshold) / float64(time.Millisecond)
	up := float64(c.cfg.UpscaleThreshold) / float64(time.Millisecond)

	prev := c.index
	switch {
	case c.ema > down && c.index < len(c.cfg.Ladder)-1:
		c.index++
	case c.ema < up && c.index > 0:
		c.index--
	default:
		c.mu.Unlock()
		return
	}
	c.lastChange = now
	c.changes++
	res := c.cfg.Ladder[c.index]
	ema := c.ema
	c.mu.Unlock()

	c.log.Infow("changing capture resolution",
		"from", c.cfg.Ladder[prev], "to", res, "emaMs", ema)

	c.requestRebind(res)
}

// requestRebind starts a rebind or, if one is running, records res to be
// applied once it finishes. Only the latest pending request survives.
func (c *Controller) requestRebind(res capture.Resolution) {
	c.rebindMu.Lock()
	defer c.rebindMu.Unlock()

	c.pending = &res
	if c.rebinding {
		return
	}
	c.rebinding = true
	c.wg.Add(1)
	go c.rebindLoop()
}

func (c *Controller) rebindLoop() {
	defer c.wg.Done()

	for {
		c.rebindMu.Lock()
		if c.pending == nil {
			c.rebinding = false
			c.rebindMu.Unlock()
			return
		}
		res := *c.pending
		c.pending = nil
		c.rebindMu.Unlock()

		if err := c.rebinder.SetResolution(res); err != nil {
			c.log.Errorw("failed to rebind camera", "resolution", res, "error", err)
		}
	}
}

// Wait blocks until no rebind is running.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// EMA returns the smoothed latency in milliseconds, or -1 before the
// first sample.
func (c *Controller) EMA() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ema
}

// Index returns the current ladder index.
func (c *Controller) Index() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// Resolution returns the resolution at the current ladder index.
func (c *Controller) Resolution() capture.Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Ladder[c.index]
}

// Changes returns how many resolution changes have been made.
func (c *Controller) Changes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changes
}
