package capture

import (
	"fmt"
	"sync"
	"time"
)

// PixelFormat identifies the memory layout of a Frame's planes.
type PixelFormat int

const (
	// FormatRGBA8888 is a single packed plane, 4 bytes per pixel in R, G, B, A order.
	FormatRGBA8888 PixelFormat = iota
	// FormatYUV420 is three planes (Y, U, V) with chroma subsampled by 2 in both axes.
	FormatYUV420
)

func (f PixelFormat) String() string {
	switch f {
	case FormatRGBA8888:
		return "RGBA8888"
	case FormatYUV420:
		return "YUV420"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(f))
	}
}

// Plane is one byte buffer of a Frame.
type Plane struct {
	Data        []byte
	RowStride   int
	PixelStride int
}

// Resolution is a capture size in pixels.
type Resolution struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Frame is one camera delivery. The plane memory is owned by the camera
// until Release is called; nothing may read Planes after that.
type Frame struct {
	Width           int
	Height          int
	Format          PixelFormat
	Planes          []Plane
	RotationDegrees int
	Timestamp       time.Time

	releaseOnce sync.Once
	release     func()
	released    bool
	mu          sync.Mutex
}

// NewFrame creates a Frame whose release func is invoked exactly once by Release.
func NewFrame(width, height int, format PixelFormat, planes []Plane, rotation int, ts time.Time, release func()) *Frame {
	return &Frame{
		Width:           width,
		Height:          height,
		Format:          format,
		Planes:          planes,
		RotationDegrees: rotation,
		Timestamp:       ts,
		release:         release,
	}
}

// Release returns the underlying buffer to its owner. It is safe to call
// more than once and on a nil Frame.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	f.releaseOnce.Do(func() {
		if f.release != nil {
			f.release()
		}
		f.mu.Lock()
		f.released = true
		f.Planes = nil
		f.mu.Unlock()
	})
}

// Released reports whether Release has been called.
func (f *Frame) Released() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}
