package results

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilahsampah/pilah/internal/convert"
	"github.com/pilahsampah/pilah/internal/detector"
	"github.com/pilahsampah/pilah/internal/waste"
)

type latencyRecorder struct {
	mu      sync.Mutex
	samples []time.Duration
}

func (r *latencyRecorder) OnInferenceTime(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, d)
}

func (r *latencyRecorder) get() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.samples...)
}

type panicSink struct{}

func (panicSink) OnInferenceTime(time.Duration) { panic("sink exploded") }

func completion(mock *clock.Mock, dets []detector.Detection) detector.Completion {
	return detector.Completion{
		Detections:  dets,
		Image:       &convert.Image{Width: 1280, Height: 720},
		Rotation:    90,
		RequestTime: mock.Now(),
	}
}

func TestCorrelator_OnInferenceComplete(t *testing.T) {
	mock := clock.NewMock()
	sink := &latencyRecorder{}
	c := NewCorrelator(sink, WithClock(mock))

	dets := []detector.Detection{{
		Label: "botol",
		Score: 0.82,
		Box:   detector.BoundingBox{Left: 100, Top: 50, Right: 300, Bottom: 250},
	}}
	comp := completion(mock, dets)
	mock.Add(42 * time.Millisecond)

	b, err := c.OnInferenceComplete(comp)
	require.NoError(t, err)

	assert.NotEmpty(t, b.ID)
	assert.Equal(t, 42*time.Millisecond, b.InferenceTime)
	assert.Equal(t, int64(42), b.InferenceTimeMs())
	assert.Equal(t, 1280, b.InputImageWidth)
	assert.Equal(t, 720, b.InputImageHeight)
	assert.Equal(t, 90, b.InputImageRotation)
	if diff := cmp.Diff(dets, b.Detections); diff != "" {
		t.Errorf("detections changed (-want +got):\n%s", diff)
	}
	assert.Equal(t, waste.Counts{Anorganik: 1}, b.Counts())

	assert.Equal(t, []time.Duration{42 * time.Millisecond}, sink.get())
	select {
	case got := <-c.Bundles():
		assert.Equal(t, b.ID, got.ID)
	default:
		t.Fatal("bundle not published")
	}
}

func TestCorrelator_Malformed(t *testing.T) {
	mock := clock.NewMock()
	sink := &latencyRecorder{}
	c := NewCorrelator(sink, WithClock(mock))

	tests := []struct {
		name string
		comp detector.Completion
	}{
		{"no image", detector.Completion{RequestTime: mock.Now()}},
		{"no request time", detector.Completion{Image: &convert.Image{Width: 1, Height: 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.OnInferenceComplete(tt.comp)
			assert.True(t, errors.Is(err, errMalformed))
		})
	}
	assert.Empty(t, sink.get())
	assert.Empty(t, c.Bundles())
}

func TestCorrelator_RecoversPanic(t *testing.T) {
	mock := clock.NewMock()
	c := NewCorrelator(panicSink{}, WithClock(mock))

	var err error
	assert.NotPanics(t, func() {
		_, err = c.OnInferenceComplete(completion(mock, nil))
	})
	assert.Error(t, err)
}

func TestCorrelator_ClockSkewClampsToZero(t *testing.T) {
	mock := clock.NewMock()
	c := NewCorrelator(nil, WithClock(mock))

	comp := completion(mock, nil)
	comp.RequestTime = mock.Now().Add(time.Second)

	b, err := c.OnInferenceComplete(comp)
	require.NoError(t, err)
	assert.Zero(t, b.InferenceTime)
}

func TestCorrelator_QueueWaitIsNotInferenceTime(t *testing.T) {
	mock := clock.NewMock()
	sink := &latencyRecorder{}
	c := NewCorrelator(sink, WithClock(mock))

	comp := completion(mock, nil)
	mock.Add(30 * time.Millisecond)
	comp.CompletedAt = mock.Now()
	mock.Add(70 * time.Millisecond)

	b, err := c.OnInferenceComplete(comp)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Millisecond, b.InferenceTime)
	assert.Equal(t, comp.CompletedAt, b.CompletedAt)
	assert.Equal(t, []time.Duration{30 * time.Millisecond}, sink.get())
}

func TestCorrelator_LatestBundleWins(t *testing.T) {
	mock := clock.NewMock()
	c := NewCorrelator(nil, WithClock(mock))

	first, err := c.OnInferenceComplete(completion(mock, nil))
	require.NoError(t, err)
	second, err := c.OnInferenceComplete(completion(mock, nil))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	got := <-c.Bundles()
	assert.Equal(t, second.ID, got.ID)
	assert.Empty(t, c.Bundles())
}

func TestCorrelator_OutOfOrderCompletions(t *testing.T) {
	mock := clock.NewMock()
	sink := &latencyRecorder{}
	c := NewCorrelator(sink, WithClock(mock))

	early := completion(mock, nil)
	mock.Add(30 * time.Millisecond)
	late := completion(mock, nil)
	mock.Add(20 * time.Millisecond)

	// The later request completes first.
	_, err := c.OnInferenceComplete(late)
	require.NoError(t, err)
	_, err = c.OnInferenceComplete(early)
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{20 * time.Millisecond, 50 * time.Millisecond}, sink.get())
}

func TestCorrelator_Run(t *testing.T) {
	mock := clock.NewMock()
	sink := &latencyRecorder{}
	c := NewCorrelator(sink, WithClock(mock))

	completions := make(chan detector.Completion)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, completions) }()

	completions <- completion(mock, nil)
	completions <- detector.Completion{} // malformed, dropped
	completions <- completion(mock, nil)

	require.Eventually(t, func() bool { return len(sink.get()) == 2 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestCorrelator_RunClosedChannel(t *testing.T) {
	c := NewCorrelator(nil)
	completions := make(chan detector.Completion)
	close(completions)

	assert.NoError(t, c.Run(context.Background(), completions))
}
