// Package capture provides camera capture functionality using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultWidth  = 1280
	DefaultHeight = 720
)

// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
var ErrCameraNotOpen = errors.New("camera is not open")

// Camera defines the interface for camera capture implementations.
type Camera interface {
	Open() error
	Close() error
	// ReadFrame blocks until the next frame is available. The caller owns
	// the returned Frame and must Release it.
	ReadFrame() (*Frame, error)
	// SetResolution rebinds capture at the requested size.
	SetResolution(res Resolution) error
	Resolution() Resolution
	IsOpen() bool
}

// CameraOption configures a camera created by NewCamera.
type CameraOption func(*cameraImpl)

// WithRotation sets the sensor rotation reported on every frame.
func WithRotation(degrees int) CameraOption {
	return func(c *cameraImpl) { c.rotation = degrees }
}

// WithClock sets the clock used to timestamp frames.
func WithClock(clk clock.Clock) CameraOption {
	return func(c *cameraImpl) { c.clock = clk }
}

// WithResolution sets the initial capture size.
func WithResolution(res Resolution) CameraOption {
	return func(c *cameraImpl) { c.res = res }
}

// cameraImpl manages video capture from a camera device using GoCV.
type cameraImpl struct {
	deviceID int
	capture  *gocv.VideoCapture
	mu       sync.Mutex
	running  bool
	res      Resolution
	rotation int
	clock    clock.Clock
}

// NewCamera creates a new Camera with the given device ID.
// Frames are delivered as packed RGBA.
func NewCamera(deviceID int, opts ...CameraOption) Camera {
	c := &cameraImpl{
		deviceID: deviceID,
		res:      Resolution{Width: DefaultWidth, Height: DefaultHeight},
		clock:    clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open opens the camera for capturing frames at the current resolution.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.deviceID)
	if err != nil {
		return fmt.Errorf("open camera %d: %w", c.deviceID, err)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(c.res.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(c.res.Height))

	c.capture = capture
	c.running = true

	return nil
}

// Close closes the camera and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame from the camera and converts it to RGBA.
// The frame's plane aliases the Mat memory; Release closes the Mat.
func (c *cameraImpl) ReadFrame() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	defer mat.Close()
	if ok := c.capture.Read(&mat); !ok {
		return nil, errors.New("failed to read frame from camera")
	}

	if mat.Empty() {
		return nil, errors.New("captured frame is empty")
	}

	rgba := gocv.NewMat()
	gocv.CvtColor(mat, &rgba, gocv.ColorBGRToRGBA)

	data, err := rgba.DataPtrUint8()
	if err != nil {
		rgba.Close()
		return nil, fmt.Errorf("access frame data: %w", err)
	}

	plane := Plane{Data: data, RowStride: rgba.Step(), PixelStride: 4}
	frame := NewFrame(rgba.Cols(), rgba.Rows(), FormatRGBA8888, []Plane{plane}, c.rotation, c.clock.Now(), func() {
		rgba.Close()
	})

	return frame, nil
}

// SetResolution changes the capture size. When the camera is open the
// new size is applied to the running capture immediately.
func (c *cameraImpl) SetResolution(res Resolution) error {
	if res.Width <= 0 || res.Height <= 0 {
		return fmt.Errorf("invalid resolution %s", res)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.res = res

	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFrameWidth, float64(res.Width))
		c.capture.Set(gocv.VideoCaptureFrameHeight, float64(res.Height))
	}

	return nil
}

// Resolution returns the requested capture size.
func (c *cameraImpl) Resolution() Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.res
}

// IsOpen returns true if the camera is currently open and running.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}
