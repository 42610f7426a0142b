// Package detector owns the object-detection engine lifecycle: model
// loading, backend selection with CPU fallback, and asynchronous inference.
package detector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pilahsampah/pilah/internal/convert"
)

// Backend is the compute target used for inference.
type Backend int

const (
	BackendCPU Backend = iota
	BackendGPU
)

func (b Backend) String() string {
	switch b {
	case BackendCPU:
		return "cpu"
	case BackendGPU:
		return "gpu"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

// ParseBackend parses "cpu" or "gpu" (case-insensitive).
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpu":
		return BackendCPU, nil
	case "gpu":
		return BackendGPU, nil
	default:
		return 0, fmt.Errorf("unknown backend %q", s)
	}
}

// Mode selects how the session runs inference.
type Mode int

const (
	// ModeOneShot runs Detect synchronously on the caller's goroutine.
	ModeOneShot Mode = iota
	// ModeStream accepts frames via Submit and emits Completions.
	ModeStream
)

// ErrEngineNotStarted is returned by a Runner asked to infer before its
// graph finished starting. Sessions treat it as recoverable.
var ErrEngineNotStarted = errors.New("inference engine not started")

// BoundingBox is a box in unrotated source-image pixels.
type BoundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Width returns Right-Left.
func (b BoundingBox) Width() float64 { return b.Right - b.Left }

// Height returns Bottom-Top.
func (b BoundingBox) Height() float64 { return b.Bottom - b.Top }

// Detection is one detected object.
type Detection struct {
	Box   BoundingBox `json:"box"`
	Label string      `json:"label"`
	Score float64     `json:"score"`
}

// Options holds configuration options for the inference engine.
type Options struct {
	// ModelPath is the on-disk model asset.
	ModelPath string
	// LabelsPath is a newline separated class list. Optional.
	LabelsPath string
	Backend    Backend
	// ScoreThreshold is the minimum detection confidence (0.0-1.0).
	ScoreThreshold float64
	// MaxResults caps the number of detections per frame.
	MaxResults int
	Mode       Mode
	// InputSize is the square network input edge in pixels.
	InputSize int
}

// DefaultOptions returns Options with sensible default values.
func DefaultOptions() Options {
	return Options{
		Backend:        BackendGPU,
		ScoreThreshold: 0.5,
		MaxResults:     5,
		Mode:           ModeStream,
		InputSize:      640,
	}
}

// Engine loads a model on a backend.
type Engine interface {
	// Open loads the model described by opts. An error means the backend
	// could not be initialized.
	Open(ctx context.Context, opts Options) (Runner, error)
}

// Runner is a loaded model instance. Detect is never called concurrently
// on the same Runner.
type Runner interface {
	// Detect returns detections in unrotated image pixel coordinates.
	// rotation is metadata the engine may use to orient its input.
	Detect(ctx context.Context, img *convert.Image, rotation int) ([]Detection, error)

	// Close releases any resources held by the runner.
	Close() error
}

// filterDetections applies the score threshold and max-results cap,
// keeping the highest scores.
func filterDetections(in []Detection, opts Options) []Detection {
	out := make([]Detection, 0, len(in))
	for _, d := range in {
		if d.Score >= opts.ScoreThreshold {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if opts.MaxResults > 0 && len(out) > opts.MaxResults {
		out = out[:opts.MaxResults]
	}
	return out
}
