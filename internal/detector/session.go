package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pilahsampah/pilah/internal/convert"
)

var (
	// ErrNotReady is returned by Submit while the session is not Ready.
	ErrNotReady = errors.New("detector session not ready")
	// ErrBusy is returned by Submit when a configure holds the lock or an
	// inference is already queued.
	ErrBusy = errors.New("detector session busy")
	// ErrUnavailable is returned when no backend could be initialized.
	ErrUnavailable = errors.New("detector unavailable")
	// ErrWrongMode is returned when an operation does not match the configured Mode.
	ErrWrongMode = errors.New("operation not supported in this mode")
	// ErrShutdown is returned after Shutdown.
	ErrShutdown = errors.New("detector session shut down")
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// NoticeCode classifies a Notice.
type NoticeCode int

const (
	// NoticeGPUFallback means GPU init failed and the session runs on CPU.
	NoticeGPUFallback NoticeCode = iota + 1
	// NoticeUnavailable means no backend could be initialized.
	NoticeUnavailable
	// NoticeEngineError reports a non-fatal inference failure.
	NoticeEngineError
)

func (c NoticeCode) String() string {
	switch c {
	case NoticeGPUFallback:
		return "gpu-fallback"
	case NoticeUnavailable:
		return "unavailable"
	case NoticeEngineError:
		return "engine-error"
	default:
		return fmt.Sprintf("NoticeCode(%d)", int(c))
	}
}

// Notice is a one-line message for the presentation layer.
type Notice struct {
	Code    NoticeCode
	Message string
	Fatal   bool
}

// Completion is emitted once per finished inference.
type Completion struct {
	Detections  []Detection
	Image       *convert.Image
	Rotation    int
	RequestTime time.Time
	CompletedAt time.Time
}

type request struct {
	image       *convert.Image
	rotation    int
	requestTime time.Time
}

type worker struct {
	queue chan request
	stop  chan struct{}
	done  chan struct{}
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(log *zap.SugaredLogger) SessionOption {
	return func(s *Session) { s.log = log }
}

// WithClock sets the clock used to stamp completions.
func WithClock(clk clock.Clock) SessionOption {
	return func(s *Session) { s.clock = clk }
}

// Session owns exactly one live engine Runner. Transitions happen under
// one mutex; state queries are lock-free.
type Session struct {
	engine Engine
	log    *zap.SugaredLogger
	clock  clock.Clock

	mu       sync.Mutex
	opts     Options
	runner   Runner
	worker   *worker
	gen      uint64
	shutdown bool

	state   *atomic.Int32
	backend *atomic.Int32

	completions chan Completion
	notices     chan Notice
	initReq     chan Options

	ctx          context.Context
	cancel       context.CancelFunc
	initDone     chan struct{}
	shutdownOnce sync.Once
}

// NewSession creates a Session and starts its background init goroutine.
// Nothing is loaded until Configure or ConfigureAsync is called.
func NewSession(engine Engine, opts ...SessionOption) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		engine:      engine,
		clock:       clock.New(),
		state:       atomic.NewInt32(int32(StateUninitialized)),
		backend:     atomic.NewInt32(int32(BackendCPU)),
		completions: make(chan Completion, 2),
		notices:     make(chan Notice, 8),
		initReq:     make(chan Options, 1),
		ctx:         ctx,
		cancel:      cancel,
		initDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}

	go s.initLoop()

	return s
}

// Completions returns the channel of finished inferences.
func (s *Session) Completions() <-chan Completion {
	return s.completions
}

// Notices returns the channel of presentation notices.
func (s *Session) Notices() <-chan Notice {
	return s.notices
}

// State returns the current state without blocking.
func (s *Session) State() State {
	return State(s.state.Load())
}

// IsReady reports whether Submit can accept work.
func (s *Session) IsReady() bool {
	return s.State() == StateReady
}

// IsClosed reports whether no engine is loaded, either because the
// session was closed or because it never initialized.
func (s *Session) IsClosed() bool {
	st := s.State()
	return st == StateClosed || st == StateUninitialized
}

// Backend returns the backend actually in use.
func (s *Session) Backend() Backend {
	return Backend(s.backend.Load())
}

// Options returns the options of the last configure, with Backend
// reflecting any fallback.
func (s *Session) Options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// Configure (re)initializes the engine synchronously. Any previous runner
// is drained and closed first. If GPU init fails, CPU is tried once.
func (s *Session) Configure(ctx context.Context, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configureLocked(ctx, opts)
}

// ConfigureAsync schedules a configure on the session's init goroutine.
// Pending requests are coalesced; the latest options win.
func (s *Session) ConfigureAsync(opts Options) {
	for {
		select {
		case s.initReq <- opts:
			return
		default:
		}
		select {
		case <-s.initReq:
		default:
		}
	}
}

// Close releases the engine. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardownLocked()
	s.setState(StateClosed)
}

// Shutdown stops the init goroutine and closes the session. The session
// cannot be configured again.
func (s *Session) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.cancel()
		<-s.initDone

		s.mu.Lock()
		s.shutdown = true
		s.teardownLocked()
		s.setState(StateClosed)
		s.mu.Unlock()
	})
}

// Submit queues img for asynchronous inference. It never blocks: if a
// configure holds the lock, the session is not Ready, or an inference is
// already queued, the frame is rejected and the caller must drop it.
func (s *Session) Submit(img *convert.Image, rotation int, requestTime time.Time) error {
	if !s.mu.TryLock() {
		return ErrBusy
	}
	defer s.mu.Unlock()

	if s.State() != StateReady {
		return ErrNotReady
	}
	if s.worker == nil {
		return ErrWrongMode
	}

	select {
	case s.worker.queue <- request{image: img, rotation: rotation, requestTime: requestTime}:
		return nil
	default:
		return ErrBusy
	}
}

// Detect runs one inference synchronously. Only valid in ModeOneShot.
func (s *Session) Detect(ctx context.Context, img *convert.Image, rotation int) ([]Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateReady {
		return nil, ErrNotReady
	}
	if s.opts.Mode != ModeOneShot {
		return nil, ErrWrongMode
	}

	dets, err := s.runner.Detect(ctx, img, rotation)
	if err != nil {
		if errors.Is(err, ErrEngineNotStarted) {
			s.teardownLocked()
			s.setState(StateUninitialized)
			s.ConfigureAsync(s.opts)
		}
		return nil, err
	}
	return filterDetections(dets, s.opts), nil
}

func (s *Session) configureLocked(ctx context.Context, opts Options) error {
	if s.shutdown {
		return ErrShutdown
	}

	s.teardownLocked()
	s.setState(StateInitializing)
	s.opts = opts

	runner, backend, err := s.openWithFallback(ctx, opts)
	if err != nil {
		s.setState(StateUninitialized)
		s.notify(Notice{
			Code:    NoticeUnavailable,
			Message: "Object detector failed to initialize. See error logs for details",
			Fatal:   true,
		})
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.opts.Backend = backend
	s.backend.Store(int32(backend))
	s.runner = runner
	s.gen++
	if opts.Mode == ModeStream {
		s.worker = s.startWorker(runner, s.gen, s.opts)
	}
	s.setState(StateReady)

	s.log.Infow("detector ready", "session", uuid.NewString(), "backend", backend, "model", opts.ModelPath)
	return nil
}

func (s *Session) openWithFallback(ctx context.Context, opts Options) (Runner, Backend, error) {
	runner, err := s.safeOpen(ctx, opts)
	if err == nil {
		return runner, opts.Backend, nil
	}
	s.log.Errorw("failed to load model", "backend", opts.Backend, "error", err)

	if opts.Backend != BackendGPU {
		return nil, opts.Backend, err
	}

	s.log.Infow("attempting CPU fallback")
	cpu := opts
	cpu.Backend = BackendCPU
	runner, cpuErr := s.safeOpen(ctx, cpu)
	if cpuErr != nil {
		s.log.Errorw("CPU fallback also failed", "error", cpuErr)
		return nil, opts.Backend, multierr.Append(err, cpuErr)
	}

	s.notify(Notice{Code: NoticeGPUFallback, Message: "GPU not available, using CPU"})
	return runner, BackendCPU, nil
}

func (s *Session) safeOpen(ctx context.Context, opts Options) (runner Runner, err error) {
	defer func() {
		if r := recover(); r != nil {
			runner = nil
			err = fmt.Errorf("engine open panicked: %v", r)
		}
	}()
	return s.engine.Open(ctx, opts)
}

// teardownLocked drains the worker and closes the runner. The in-flight
// inference finishes before the runner is closed. Its completion is
// delivered if the completions buffer has room.
func (s *Session) teardownLocked() {
	if s.worker != nil {
		close(s.worker.queue)
		close(s.worker.stop)
		<-s.worker.done
		s.worker = nil
	}
	if s.runner != nil {
		if err := s.runner.Close(); err != nil {
			s.log.Warnw("error closing detector", "error", err)
		}
		s.runner = nil
	}
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Session) notify(n Notice) {
	select {
	case s.notices <- n:
	default:
		s.log.Warnw("notice dropped", "code", n.Code, "message", n.Message)
	}
}

func (s *Session) initLoop() {
	defer close(s.initDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case opts := <-s.initReq:
			if err := s.Configure(s.ctx, opts); err != nil {
				s.log.Errorw("async configure failed", "error", err)
			}
		}
	}
}

func (s *Session) startWorker(runner Runner, gen uint64, opts Options) *worker {
	w := &worker{
		queue: make(chan request, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		for req := range w.queue {
			s.infer(w, runner, gen, opts, req)
		}
	}()
	return w
}

func (s *Session) infer(w *worker, runner Runner, gen uint64, opts Options, req request) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("panic during inference", "panic", r)
		}
	}()

	dets, err := runner.Detect(s.ctx, req.image, req.rotation)
	if err != nil {
		if errors.Is(err, ErrEngineNotStarted) {
			s.log.Warnw("engine not started, reinitializing", "error", err)
			go s.recoverFault(gen)
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		s.log.Errorw("detection failed", "error", err)
		s.notify(Notice{Code: NoticeEngineError, Message: "Object detector error: " + err.Error()})
		return
	}

	c := Completion{
		Detections:  filterDetections(dets, opts),
		Image:       req.image,
		Rotation:    req.rotation,
		RequestTime: req.requestTime,
		CompletedAt: s.clock.Now(),
	}

	select {
	case s.completions <- c:
		return
	default:
	}
	select {
	case s.completions <- c:
	case <-w.stop:
		s.log.Debugw("completion dropped, session torn down")
	case <-s.ctx.Done():
	}
}

// recoverFault marks the session Uninitialized and schedules a
// reinitialization with the last options. Stale faults from an older
// runner generation are ignored.
func (s *Session) recoverFault(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.State() != StateReady {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.setState(StateUninitialized)
	opts := s.opts
	s.mu.Unlock()

	s.ConfigureAsync(opts)
}
