// Package overlay maps detection boxes from source-image pixels onto a
// display surface.
package overlay

import (
	"fmt"

	"github.com/pilahsampah/pilah/internal/detector"
	"github.com/pilahsampah/pilah/internal/waste"
)

// Rect is a rectangle in display coordinates.
type Rect struct {
	Left, Top, Right, Bottom float64
}

// RotateBox rotates box clockwise by rotation degrees inside a w x h
// image and returns it with the rotated image size.
func RotateBox(box detector.BoundingBox, w, h, rotation int) (detector.BoundingBox, int, int, error) {
	fw, fh := float64(w), float64(h)

	switch ((rotation % 360) + 360) % 360 {
	case 0:
		return box, w, h, nil
	case 90:
		return detector.BoundingBox{
			Left:   fh - box.Bottom,
			Top:    box.Left,
			Right:  fh - box.Top,
			Bottom: box.Right,
		}, h, w, nil
	case 180:
		return detector.BoundingBox{
			Left:   fw - box.Right,
			Top:    fh - box.Bottom,
			Right:  fw - box.Left,
			Bottom: fh - box.Top,
		}, w, h, nil
	case 270:
		return detector.BoundingBox{
			Left:   box.Top,
			Top:    fw - box.Right,
			Right:  box.Bottom,
			Bottom: fw - box.Left,
		}, h, w, nil
	default:
		return box, w, h, fmt.Errorf("unsupported rotation %d", rotation)
	}
}

// Mapper scales an upright image to fill a view, cropping the overflow
// equally on both sides.
type Mapper struct {
	ViewWidth  float64
	ViewHeight float64
}

// Map converts box from image pixels of an upright imgW x imgH image to
// view coordinates.
func (m Mapper) Map(box detector.BoundingBox, imgW, imgH int) Rect {
	scale := max(m.ViewWidth/float64(imgW), m.ViewHeight/float64(imgH))
	offX := (m.ViewWidth - float64(imgW)*scale) / 2
	offY := (m.ViewHeight - float64(imgH)*scale) / 2

	return Rect{
		Left:   box.Left*scale + offX,
		Top:    box.Top*scale + offY,
		Right:  box.Right*scale + offX,
		Bottom: box.Bottom*scale + offY,
	}
}

// Visible reports whether r overlaps the view.
func (m Mapper) Visible(r Rect) bool {
	return r.Bottom >= 0 && r.Top <= m.ViewHeight && r.Right >= 0 && r.Left <= m.ViewWidth
}

// Item is one drawable detection.
type Item struct {
	Rect     Rect
	Label    string
	Score    float64
	Category waste.Category
	Color    uint32
}

// Caption returns the text drawn above the box.
func (it Item) Caption() string {
	return fmt.Sprintf("%s (%.2f)", it.Label, it.Score)
}

// Layout rotates each detection by rotation, maps it into the view and
// drops the ones that fall entirely outside.
func (m Mapper) Layout(dets []detector.Detection, imgW, imgH, rotation int) ([]Item, error) {
	if imgW <= 0 || imgH <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", imgW, imgH)
	}
	if m.ViewWidth <= 0 || m.ViewHeight <= 0 {
		return nil, fmt.Errorf("invalid view size %vx%v", m.ViewWidth, m.ViewHeight)
	}

	items := make([]Item, 0, len(dets))
	for _, d := range dets {
		box, w, h, err := RotateBox(d.Box, imgW, imgH, rotation)
		if err != nil {
			return nil, err
		}
		r := m.Map(box, w, h)
		if !m.Visible(r) {
			continue
		}
		cat := waste.Classify(d.Label)
		items = append(items, Item{
			Rect:     r,
			Label:    d.Label,
			Score:    d.Score,
			Category: cat,
			Color:    cat.Color(),
		})
	}
	return items, nil
}
