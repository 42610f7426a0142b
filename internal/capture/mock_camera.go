package capture

import (
	"fmt"
	"sync"
	"time"
)

// MockCamera plays back pre-built frames for testing. Each ReadFrame
// returns a fresh copy so ownership and release can be tracked.
type MockCamera struct {
	frames      []*Frame
	index       int
	loop        bool
	mu          sync.Mutex
	running     bool
	res         Resolution
	resHistory  []Resolution
	outstanding int
	released    int
	now         func() time.Time
}

func NewMockCamera(frames []*Frame, loop bool) *MockCamera {
	return &MockCamera{
		frames: frames,
		loop:   loop,
		res:    Resolution{Width: DefaultWidth, Height: DefaultHeight},
		now:    time.Now,
	}
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.index = 0
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

func (c *MockCamera) ReadFrame() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}

	if len(c.frames) == 0 {
		return nil, fmt.Errorf("no frames available")
	}

	if c.index >= len(c.frames) {
		if c.loop {
			c.index = 0
		} else {
			return nil, fmt.Errorf("no more frames")
		}
	}

	src := c.frames[c.index]
	c.index++

	planes := make([]Plane, len(src.Planes))
	for i, p := range src.Planes {
		planes[i] = Plane{
			Data:        append([]byte(nil), p.Data...),
			RowStride:   p.RowStride,
			PixelStride: p.PixelStride,
		}
	}

	c.outstanding++
	frame := NewFrame(src.Width, src.Height, src.Format, planes, src.RotationDegrees, c.now(), func() {
		c.mu.Lock()
		c.outstanding--
		c.released++
		c.mu.Unlock()
	})

	return frame, nil
}

func (c *MockCamera) SetResolution(res Resolution) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.res = res
	c.resHistory = append(c.resHistory, res)
	return nil
}

func (c *MockCamera) Resolution() Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res
}

func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// ResolutionHistory returns every resolution requested via SetResolution.
func (c *MockCamera) ResolutionHistory() []Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Resolution(nil), c.resHistory...)
}

// Outstanding returns the number of frames handed out and not yet released.
func (c *MockCamera) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outstanding
}

// ReleasedCount returns the number of frames released so far.
func (c *MockCamera) ReleasedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// SetNow overrides the timestamp source for delivered frames.
func (c *MockCamera) SetNow(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// SetFrames replaces the frame sequence
func (c *MockCamera) SetFrames(frames []*Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = frames
	c.index = 0
}

// Reset restarts playback from the beginning
func (c *MockCamera) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = 0
}
