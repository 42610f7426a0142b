// Package testdata builds synthetic camera frames for tests.
package testdata

import (
	"time"

	"github.com/pilahsampah/pilah/internal/capture"
)

// RGBAFrame returns a packed RGBA frame filled with a horizontal gradient.
func RGBAFrame(width, height, rotation int) *capture.Frame {
	return PaddedRGBAFrame(width, height, 0, rotation)
}

// PaddedRGBAFrame returns an RGBA frame whose rows carry padding extra
// bytes, as some camera stacks deliver them.
func PaddedRGBAFrame(width, height, padding, rotation int) *capture.Frame {
	stride := width*4 + padding
	data := make([]byte, stride*height)
	for y := 0; y < height; y++ {
		row := data[y*stride:]
		for x := 0; x < width; x++ {
			v := byte(x * 255 / max(width-1, 1))
			row[x*4] = v
			row[x*4+1] = byte(y)
			row[x*4+2] = 255 - v
			row[x*4+3] = 0xff
		}
	}
	planes := []capture.Plane{{Data: data, RowStride: stride, PixelStride: 4}}
	return capture.NewFrame(width, height, capture.FormatRGBA8888, planes, rotation, time.Time{}, nil)
}

// YUVFrame returns a mid-grey YUV420 frame with planar chroma.
func YUVFrame(width, height, rotation int) *capture.Frame {
	cw, ch := (width+1)/2, (height+1)/2
	y := make([]byte, width*height)
	for i := range y {
		y[i] = 0x80
	}
	u := make([]byte, cw*ch)
	v := make([]byte, cw*ch)
	for i := range u {
		u[i], v[i] = 0x80, 0x80
	}
	planes := []capture.Plane{
		{Data: y, RowStride: width, PixelStride: 1},
		{Data: u, RowStride: cw, PixelStride: 1},
		{Data: v, RowStride: cw, PixelStride: 1},
	}
	return capture.NewFrame(width, height, capture.FormatYUV420, planes, rotation, time.Time{}, nil)
}

// Sequence returns n copies of the same RGBA frame layout.
func Sequence(n, width, height, rotation int) []*capture.Frame {
	frames := make([]*capture.Frame, n)
	for i := range frames {
		frames[i] = RGBAFrame(width, height, rotation)
	}
	return frames
}
