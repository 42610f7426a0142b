// Package results correlates detector completions into result bundles.
package results

import (
	"time"

	"github.com/pilahsampah/pilah/internal/detector"
	"github.com/pilahsampah/pilah/internal/waste"
)

// Bundle is one completed inference with its metadata. Boxes are in
// unrotated source-image pixels; consumers apply InputImageRotation.
type Bundle struct {
	ID                 string               `json:"id"`
	Detections         []detector.Detection `json:"detections"`
	InferenceTime      time.Duration        `json:"inferenceTime"`
	InputImageWidth    int                  `json:"inputImageWidth"`
	InputImageHeight   int                  `json:"inputImageHeight"`
	InputImageRotation int                  `json:"inputImageRotation"`
	CompletedAt        time.Time            `json:"completedAt"`
}

// InferenceTimeMs returns the inference time in whole milliseconds.
func (b Bundle) InferenceTimeMs() int64 {
	return b.InferenceTime.Milliseconds()
}

// Counts tallies the bundle's detections by waste category.
func (b Bundle) Counts() waste.Counts {
	return waste.Tally(b.Detections)
}
