package detector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilahsampah/pilah/internal/convert"
)

const waitFor = 2 * time.Second

func testImage() *convert.Image {
	return &convert.Image{Pix: make([]byte, 4*4*4), Width: 4, Height: 4, Rotation: 90}
}

func newTestSession(t *testing.T, engine Engine) *Session {
	t.Helper()
	s := NewSession(engine)
	t.Cleanup(s.Shutdown)
	return s
}

func nextCompletion(t *testing.T, s *Session) Completion {
	t.Helper()
	select {
	case c := <-s.Completions():
		return c
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for completion")
		return Completion{}
	}
}

func drainNotices(s *Session) []Notice {
	var out []Notice
	for {
		select {
		case n := <-s.Notices():
			out = append(out, n)
		default:
			return out
		}
	}
}

func TestSession_ConfigureGPU(t *testing.T) {
	engine := NewMockEngine()
	s := newTestSession(t, engine)

	assert.Equal(t, StateUninitialized, s.State())
	assert.True(t, s.IsClosed())

	require.NoError(t, s.Configure(t.Context(), DefaultOptions()))

	assert.Equal(t, StateReady, s.State())
	assert.True(t, s.IsReady())
	assert.False(t, s.IsClosed())
	assert.Equal(t, BackendGPU, s.Backend())
	assert.Equal(t, []Backend{BackendGPU}, engine.Opens())
	assert.Empty(t, drainNotices(s))
}

func TestSession_GPUFallback(t *testing.T) {
	engine := NewMockEngine()
	engine.SetOpenError(BackendGPU, errors.New("no CUDA device"))
	s := newTestSession(t, engine)

	require.NoError(t, s.Configure(t.Context(), DefaultOptions()))

	assert.True(t, s.IsReady())
	assert.Equal(t, BackendCPU, s.Backend())
	assert.Equal(t, BackendCPU, s.Options().Backend)
	assert.Equal(t, []Backend{BackendGPU, BackendCPU}, engine.Opens())

	notices := drainNotices(s)
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeGPUFallback, notices[0].Code)
	assert.False(t, notices[0].Fatal)
}

func TestSession_Unavailable(t *testing.T) {
	engine := NewMockEngine()
	engine.SetOpenError(BackendGPU, errors.New("no CUDA device"))
	engine.SetOpenError(BackendCPU, errors.New("corrupt model"))
	s := newTestSession(t, engine)

	err := s.Configure(t.Context(), DefaultOptions())
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "corrupt model")

	assert.Equal(t, StateUninitialized, s.State())
	assert.ErrorIs(t, s.Submit(testImage(), 0, time.Now()), ErrNotReady)

	notices := drainNotices(s)
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeUnavailable, notices[0].Code)
	assert.True(t, notices[0].Fatal)
}

func TestSession_CPUFailureHasNoFallback(t *testing.T) {
	engine := NewMockEngine()
	engine.SetOpenError(BackendCPU, errors.New("bad model"))
	s := newTestSession(t, engine)

	opts := DefaultOptions()
	opts.Backend = BackendCPU
	require.ErrorIs(t, s.Configure(t.Context(), opts), ErrUnavailable)
	assert.Equal(t, []Backend{BackendCPU}, engine.Opens())
}

type panicEngine struct{}

func (panicEngine) Open(ctx context.Context, opts Options) (Runner, error) {
	panic("native crash")
}

func TestSession_OpenPanicIsAnError(t *testing.T) {
	s := newTestSession(t, panicEngine{})

	err := s.Configure(t.Context(), DefaultOptions())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, StateUninitialized, s.State())
}

func TestSession_SubmitNotReady(t *testing.T) {
	s := newTestSession(t, NewMockEngine())

	assert.ErrorIs(t, s.Submit(testImage(), 0, time.Now()), ErrNotReady)
}

func TestSession_SubmitDeliversCompletion(t *testing.T) {
	engine := NewMockEngine()
	engine.SetDetections([]Detection{
		{Label: "botol", Score: 0.92, Box: BoundingBox{Left: 1, Top: 1, Right: 3, Bottom: 3}},
		{Label: "kaleng", Score: 0.3},
	})
	mock := clock.NewMock()
	s := NewSession(engine, WithClock(mock))
	t.Cleanup(s.Shutdown)
	require.NoError(t, s.Configure(t.Context(), DefaultOptions()))

	img := testImage()
	requested := mock.Now()
	require.NoError(t, s.Submit(img, 90, requested))

	c := nextCompletion(t, s)
	require.Len(t, c.Detections, 1)
	assert.Equal(t, "botol", c.Detections[0].Label)
	assert.Equal(t, 90, c.Rotation)
	assert.Same(t, img, c.Image)
	assert.Equal(t, requested, c.RequestTime)
	assert.Equal(t, mock.Now(), c.CompletedAt)
	assert.Equal(t, 90, engine.LastRotation())
}

func TestSession_SubmitBusy(t *testing.T) {
	engine := NewMockEngine()
	gate := make(chan struct{})
	engine.SetGate(gate)
	s := newTestSession(t, engine)
	require.NoError(t, s.Configure(t.Context(), DefaultOptions()))

	require.NoError(t, s.Submit(testImage(), 0, time.Now()))
	// Wait for the worker to pick it up.
	require.Eventually(t, func() bool { return len(s.worker.queue) == 0 }, waitFor, time.Millisecond)

	require.NoError(t, s.Submit(testImage(), 0, time.Now()))
	assert.ErrorIs(t, s.Submit(testImage(), 0, time.Now()), ErrBusy)

	close(gate)
	nextCompletion(t, s)
	nextCompletion(t, s)
}

func TestSession_SubmitFailsFastWhileLocked(t *testing.T) {
	s := newTestSession(t, NewMockEngine())
	require.NoError(t, s.Configure(t.Context(), DefaultOptions()))

	s.mu.Lock()
	done := make(chan error, 1)
	go func() { done <- s.Submit(testImage(), 0, time.Now()) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrBusy)
	case <-time.After(waitFor):
		t.Fatal("Submit blocked on the session lock")
	}
	s.mu.Unlock()
}

func TestSession_CloseIdempotent(t *testing.T) {
	engine := NewMockEngine()
	s := newTestSession(t, engine)
	require.NoError(t, s.Configure(t.Context(), DefaultOptions()))

	s.Close()
	s.Close()

	assert.Equal(t, StateClosed, s.State())
	assert.True(t, s.IsClosed())
	assert.False(t, s.IsReady())
	assert.Equal(t, 1, engine.ClosedRunners())
	assert.ErrorIs(t, s.Submit(testImage(), 0, time.Now()), ErrNotReady)
}

func TestSession_CloseDeliversInFlight(t *testing.T) {
	engine := NewMockEngine()
	engine.SetDetections([]Detection{{Label: "kardus", Score: 0.8}})
	gate := make(chan struct{})
	engine.SetGate(gate)
	s := newTestSession(t, engine)
	require.NoError(t, s.Configure(t.Context(), DefaultOptions()))

	require.NoError(t, s.Submit(testImage(), 0, time.Now()))
	require.Eventually(t, func() bool { return len(s.worker.queue) == 0 }, waitFor, time.Millisecond)

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	close(gate)

	c := nextCompletion(t, s)
	assert.Equal(t, "kardus", c.Detections[0].Label)
	<-closed
	assert.Equal(t, 1, engine.ClosedRunners())
}

func TestSession_ReconfigureReplacesRunner(t *testing.T) {
	engine := NewMockEngine()
	s := newTestSession(t, engine)
	require.NoError(t, s.Configure(t.Context(), DefaultOptions()))

	opts := DefaultOptions()
	opts.Backend = BackendCPU
	require.NoError(t, s.Configure(t.Context(), opts))

	assert.Equal(t, 1, engine.ClosedRunners())
	assert.Equal(t, BackendCPU, s.Backend())
	assert.True(t, s.IsReady())
}

func TestSession_EngineNotStartedRecovers(t *testing.T) {
	engine := NewMockEngine()
	engine.SetDetections([]Detection{{Label: "botol", Score: 0.9}})
	engine.FailNext(ErrEngineNotStarted)
	s := newTestSession(t, engine)
	require.NoError(t, s.Configure(t.Context(), DefaultOptions()))

	require.NoError(t, s.Submit(testImage(), 0, time.Now()))

	require.Eventually(t, func() bool {
		return len(engine.Opens()) == 2 && s.IsReady()
	}, waitFor, time.Millisecond)
	assert.Equal(t, 1, engine.ClosedRunners())

	require.NoError(t, s.Submit(testImage(), 0, time.Now()))
	c := nextCompletion(t, s)
	assert.Equal(t, "botol", c.Detections[0].Label)
}

func TestSession_EngineErrorIsNonFatal(t *testing.T) {
	engine := NewMockEngine()
	engine.FailNext(errors.New("tensor shape mismatch"))
	s := newTestSession(t, engine)
	require.NoError(t, s.Configure(t.Context(), DefaultOptions()))

	require.NoError(t, s.Submit(testImage(), 0, time.Now()))

	select {
	case n := <-s.Notices():
		assert.Equal(t, NoticeEngineError, n.Code)
		assert.False(t, n.Fatal)
	case <-time.After(waitFor):
		t.Fatal("expected engine error notice")
	}
	assert.True(t, s.IsReady())
	assert.Len(t, engine.Opens(), 1)
}

func TestSession_ConfigureAsync(t *testing.T) {
	engine := NewMockEngine()
	s := newTestSession(t, engine)

	s.ConfigureAsync(DefaultOptions())

	require.Eventually(t, s.IsReady, waitFor, time.Millisecond)
}

func TestSession_ShutdownRejectsConfigure(t *testing.T) {
	s := NewSession(NewMockEngine())
	require.NoError(t, s.Configure(t.Context(), DefaultOptions()))

	s.Shutdown()
	s.Shutdown()

	assert.True(t, s.IsClosed())
	assert.ErrorIs(t, s.Configure(t.Context(), DefaultOptions()), ErrShutdown)
}

func TestSession_OneShot(t *testing.T) {
	engine := NewMockEngine()
	engine.SetDetections([]Detection{{Label: "masker", Score: 0.77}})
	s := newTestSession(t, engine)

	opts := DefaultOptions()
	opts.Mode = ModeOneShot
	require.NoError(t, s.Configure(t.Context(), opts))

	dets, err := s.Detect(t.Context(), testImage(), 0)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "masker", dets[0].Label)

	assert.ErrorIs(t, s.Submit(testImage(), 0, time.Now()), ErrWrongMode)
}

func TestSession_DetectRequiresOneShot(t *testing.T) {
	s := newTestSession(t, NewMockEngine())
	require.NoError(t, s.Configure(t.Context(), DefaultOptions()))

	_, err := s.Detect(t.Context(), testImage(), 0)
	assert.ErrorIs(t, err, ErrWrongMode)
}
