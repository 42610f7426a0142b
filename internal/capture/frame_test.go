package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFrame_ReleaseOnce(t *testing.T) {
	calls := 0
	f := NewFrame(1, 1, FormatRGBA8888, []Plane{{Data: []byte{1, 2, 3, 4}, RowStride: 4, PixelStride: 4}}, 90, time.Now(), func() {
		calls++
	})

	assert.False(t, f.Released())
	f.Release()
	f.Release()

	assert.Equal(t, 1, calls)
	assert.True(t, f.Released())
	assert.Nil(t, f.Planes, "planes must not be reachable after release")
}

func TestFrame_ReleaseNil(t *testing.T) {
	var f *Frame
	assert.NotPanics(t, f.Release)
}

func TestPixelFormat_String(t *testing.T) {
	assert.Equal(t, "RGBA8888", FormatRGBA8888.String())
	assert.Equal(t, "YUV420", FormatYUV420.String())
	assert.Equal(t, "PixelFormat(7)", PixelFormat(7).String())
}

func TestResolution_String(t *testing.T) {
	assert.Equal(t, "1280x720", Resolution{Width: 1280, Height: 720}.String())
}
