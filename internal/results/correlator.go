package results

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pilahsampah/pilah/internal/detector"
)

// LatencySink receives the inference time of every bundle.
type LatencySink interface {
	OnInferenceTime(d time.Duration)
}

var errMalformed = errors.New("malformed completion")

// Option configures a Correlator.
type Option func(*Correlator)

// WithClock sets the clock used to measure inference time.
func WithClock(clk clock.Clock) Option {
	return func(c *Correlator) { c.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Correlator) { c.log = log }
}

// Correlator turns detector completions into Bundles and publishes each
// one to the presentation channel and the latency sink.
type Correlator struct {
	clock   clock.Clock
	log     *zap.SugaredLogger
	sink    LatencySink
	bundles chan Bundle
}

// NewCorrelator creates a Correlator. sink may be nil.
func NewCorrelator(sink LatencySink, opts ...Option) *Correlator {
	c := &Correlator{
		clock:   clock.New(),
		sink:    sink,
		bundles: make(chan Bundle, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = zap.NewNop().Sugar()
	}
	return c
}

// Bundles returns the presentation channel. Only the latest bundle is
// kept when the reader falls behind.
func (c *Correlator) Bundles() <-chan Bundle {
	return c.bundles
}

// Run consumes completions until ctx is done or the channel closes.
func (c *Correlator) Run(ctx context.Context, completions <-chan detector.Completion) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case comp, ok := <-completions:
			if !ok {
				return nil
			}
			if _, err := c.OnInferenceComplete(comp); err != nil {
				c.log.Warnw("dropping completion", "error", err)
			}
		}
	}
}

// OnInferenceComplete builds and publishes the bundle for one completion.
// It never panics; failures are returned and the completion is abandoned.
func (c *Correlator) OnInferenceComplete(comp detector.Completion) (b Bundle, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("correlate: %v", r)
		}
	}()

	if comp.Image == nil {
		return Bundle{}, fmt.Errorf("%w: no input image", errMalformed)
	}
	if comp.RequestTime.IsZero() {
		return Bundle{}, fmt.Errorf("%w: no request time", errMalformed)
	}

	// Time spent waiting in the completions buffer is not inference time.
	end := comp.CompletedAt
	if end.IsZero() {
		end = c.clock.Now()
	}
	elapsed := end.Sub(comp.RequestTime)
	if elapsed < 0 {
		elapsed = 0
	}

	b = Bundle{
		ID:                 uuid.NewString(),
		Detections:         comp.Detections,
		InferenceTime:      elapsed,
		InputImageWidth:    comp.Image.Width,
		InputImageHeight:   comp.Image.Height,
		InputImageRotation: comp.Rotation,
		CompletedAt:        end,
	}

	c.publish(b)
	if c.sink != nil {
		c.sink.OnInferenceTime(elapsed)
	}
	return b, nil
}

// publish replaces any unread bundle with b.
func (c *Correlator) publish(b Bundle) {
	for {
		select {
		case c.bundles <- b:
			return
		default:
		}
		select {
		case <-c.bundles:
		default:
		}
	}
}
