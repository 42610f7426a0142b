// Package convert turns raw camera frames into canonical RGBA images for inference.
package convert

import (
	"errors"
	"fmt"
	"image"

	"github.com/pilahsampah/pilah/internal/capture"
)

// ErrConversion is returned for frames that cannot be converted. The
// caller must release the source frame and skip it; retrying the same
// buffer never succeeds.
var ErrConversion = errors.New("frame conversion failed")

// Image is a decoded RGBA pixmap. It owns its pixel memory and is never
// mutated after Convert returns it.
type Image struct {
	// Pix holds packed R, G, B, A bytes with a stride of Width*4.
	Pix      []byte
	Width    int
	Height   int
	Rotation int
}

// ARGB returns the pixel at (x, y) as a 0xAARRGGBB value.
func (img *Image) ARGB(x, y int) uint32 {
	i := (y*img.Width + x) * 4
	r, g, b, a := img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3]
	return uint32(a)<<24 | uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// NRGBA returns a standard library view over the same pixels. The view
// must be treated as read-only.
func (img *Image) NRGBA() *image.NRGBA {
	return &image.NRGBA{
		Pix:    img.Pix,
		Stride: img.Width * 4,
		Rect:   image.Rect(0, 0, img.Width, img.Height),
	}
}

// Convert decodes frame into a new Image. It does not release the frame.
func Convert(frame *capture.Frame) (*Image, error) {
	if frame == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrConversion)
	}
	if frame.Width <= 0 || frame.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrConversion, frame.Width, frame.Height)
	}
	if len(frame.Planes) == 0 {
		return nil, fmt.Errorf("%w: frame has no planes", ErrConversion)
	}

	p0 := frame.Planes[0]
	if frame.Format == capture.FormatRGBA8888 && p0.PixelStride == 4 && p0.RowStride >= frame.Width*4 {
		return convertRGBA(frame)
	}

	if frame.Format == capture.FormatYUV420 && len(frame.Planes) >= 3 {
		return convertYUV420(frame)
	}

	return nil, fmt.Errorf("%w: unsupported format %s (pixelStride=%d, rowStride=%d, planes=%d)",
		ErrConversion, frame.Format, p0.PixelStride, p0.RowStride, len(frame.Planes))
}

func convertRGBA(frame *capture.Frame) (*Image, error) {
	w, h := frame.Width, frame.Height
	plane := frame.Planes[0]
	rowBytes := w * 4

	// The last row may omit its padding.
	need := plane.RowStride*(h-1) + rowBytes
	if len(plane.Data) < need {
		return nil, fmt.Errorf("%w: plane holds %d bytes, need %d", ErrConversion, len(plane.Data), need)
	}

	pix := make([]byte, rowBytes*h)
	if plane.RowStride == rowBytes {
		copy(pix, plane.Data[:rowBytes*h])
	} else {
		for y := 0; y < h; y++ {
			src := plane.Data[y*plane.RowStride : y*plane.RowStride+rowBytes]
			copy(pix[y*rowBytes:], src)
		}
	}

	return &Image{Pix: pix, Width: w, Height: h, Rotation: frame.RotationDegrees}, nil
}

func convertYUV420(frame *capture.Frame) (*Image, error) {
	w, h := frame.Width, frame.Height
	yp, up, vp := frame.Planes[0], frame.Planes[1], frame.Planes[2]

	if yp.PixelStride > 1 {
		return nil, fmt.Errorf("%w: Y pixel stride %d", ErrConversion, yp.PixelStride)
	}
	yRowStride := yp.RowStride
	if yRowStride <= 0 {
		yRowStride = w
	}
	if yRowStride < w {
		return nil, fmt.Errorf("%w: Y row stride %d below width %d", ErrConversion, yRowStride, w)
	}
	uRowStride, uPixelStride := chromaStrides(up, w)
	vRowStride, vPixelStride := chromaStrides(vp, w)

	if len(yp.Data) < yRowStride*(h-1)+w {
		return nil, fmt.Errorf("%w: Y plane too small", ErrConversion)
	}
	lastU := ((h-1)>>1)*uRowStride + ((w-1)>>1)*uPixelStride
	lastV := ((h-1)>>1)*vRowStride + ((w-1)>>1)*vPixelStride
	if len(up.Data) <= lastU || len(vp.Data) <= lastV {
		return nil, fmt.Errorf("%w: chroma plane too small", ErrConversion)
	}

	pix := make([]byte, w*h*4)
	o := 0
	for row := 0; row < h; row++ {
		yRow := row * yRowStride
		uRow := (row >> 1) * uRowStride
		vRow := (row >> 1) * vRowStride
		for col := 0; col < w; col++ {
			y := float32(yp.Data[yRow+col])
			u := float32(up.Data[uRow+(col>>1)*uPixelStride]) - 128
			v := float32(vp.Data[vRow+(col>>1)*vPixelStride]) - 128

			pix[o] = clamp(y + 1.402*v)
			pix[o+1] = clamp(y - 0.344136*u - 0.714136*v)
			pix[o+2] = clamp(y + 1.772*u)
			pix[o+3] = 0xff
			o += 4
		}
	}

	return &Image{Pix: pix, Width: w, Height: h, Rotation: frame.RotationDegrees}, nil
}

// chromaStrides returns the strides of a subsampled chroma plane, filling
// in tightly packed defaults for zero values.
func chromaStrides(p capture.Plane, w int) (rowStride, pixelStride int) {
	pixelStride = p.PixelStride
	if pixelStride <= 0 {
		pixelStride = 1
	}
	rowStride = p.RowStride
	if rowStride <= 0 {
		rowStride = ((w + 1) / 2) * pixelStride
	}
	return rowStride, pixelStride
}

func clamp(v float32) byte {
	i := int(v)
	if i < 0 {
		return 0
	}
	if i > 255 {
		return 255
	}
	return byte(i)
}
