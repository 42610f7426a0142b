package detector

import (
	"context"
	"sync"
	"time"

	"github.com/pilahsampah/pilah/internal/convert"
)

// MockEngine is a test implementation of the Engine interface.
// It allows tests to control open failures per backend and the
// detections returned by every runner it creates.
type MockEngine struct {
	mu         sync.Mutex
	openErr    map[Backend]error
	opens      []Backend
	detections []Detection
	detectErr  error
	failNext   []error
	gate       <-chan struct{}
	delay      time.Duration
	calls      int
	closed     int
	lastRot    int
}

// NewMockEngine creates a new MockEngine instance.
func NewMockEngine() *MockEngine {
	return &MockEngine{openErr: make(map[Backend]error)}
}

// SetOpenError makes Open fail for backend. A nil err clears it.
func (m *MockEngine) SetOpenError(backend Backend, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.openErr, backend)
		return
	}
	m.openErr[backend] = err
}

// SetDetections sets the detections returned by Detect.
func (m *MockEngine) SetDetections(dets []Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detections = append([]Detection(nil), dets...)
}

// SetDetectError sets the error returned by every Detect.
func (m *MockEngine) SetDetectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detectErr = err
}

// FailNext queues errors returned by the next Detect calls, in order.
func (m *MockEngine) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = append(m.failNext, errs...)
}

// SetGate makes Detect wait for a receive from gate before returning.
func (m *MockEngine) SetGate(gate <-chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = gate
}

// SetDelay makes every Detect take at least d.
func (m *MockEngine) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Opens returns the backends passed to Open, in order.
func (m *MockEngine) Opens() []Backend {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Backend(nil), m.opens...)
}

// DetectCalls returns how many times Detect ran.
func (m *MockEngine) DetectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// ClosedRunners returns how many runners were closed.
func (m *MockEngine) ClosedRunners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// LastRotation returns the rotation passed to the latest Detect.
func (m *MockEngine) LastRotation() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRot
}

// Open records the backend and returns a runner unless an open error is set.
func (m *MockEngine) Open(ctx context.Context, opts Options) (Runner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.opens = append(m.opens, opts.Backend)
	if err := m.openErr[opts.Backend]; err != nil {
		return nil, err
	}
	return &mockRunner{engine: m}, nil
}

type mockRunner struct {
	engine *MockEngine
}

func (r *mockRunner) Detect(ctx context.Context, img *convert.Image, rotation int) ([]Detection, error) {
	m := r.engine

	m.mu.Lock()
	gate, delay := m.gate, m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.lastRot = rotation
	if len(m.failNext) > 0 {
		err := m.failNext[0]
		m.failNext = m.failNext[1:]
		return nil, err
	}
	if m.detectErr != nil {
		return nil, m.detectErr
	}
	return append([]Detection(nil), m.detections...), nil
}

func (r *mockRunner) Close() error {
	r.engine.mu.Lock()
	defer r.engine.mu.Unlock()
	r.engine.closed++
	return nil
}
