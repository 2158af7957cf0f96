// Package geometry converts marker rectangles between document space (page
// units, top-left origin) and screen space (pixels of the rendering surface
// under the current pan and zoom).
package geometry

import (
	"errors"
	"math"
)

// Zoom range accepted by the viewer.
const (
	MinScale = 0.5
	MaxScale = 3.0
)

// ErrLayoutNotReady is returned when a conversion is attempted before the
// container has been laid out or the page has been rendered once.
var ErrLayoutNotReady = errors.New("layout not ready")

// Point is a 2D coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a 2D extent.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is an axis-aligned rectangle anchored at its top-left corner.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Origin returns the top-left corner.
func (r Rect) Origin() Point {
	return Point{X: r.X, Y: r.Y}
}

// Size returns the rectangle extents.
func (r Rect) Size() Size {
	return Size{Width: r.Width, Height: r.Height}
}

// SmallerThan reports whether either side is below the given minimum.
func (r Rect) SmallerThan(minW, minH float64) bool {
	return r.Width < minW || r.Height < minH
}

// Ready reports whether screen/document conversion is possible.
func Ready(container Rect, page Size) bool {
	return container.Width > 0 && container.Height > 0 && page.Width > 0 && page.Height > 0
}

// Transform places an element in screen space: a translation relative to the
// overlay origin plus explicit extents. It is never applied as a uniform
// scale so element borders stay crisp at any zoom.
type Transform struct {
	TranslateX float64 `json:"translateX"`
	TranslateY float64 `json:"translateY"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}

// ScreenRect returns the absolute screen rectangle of an element placed with
// t on an overlay layer whose top-left corner sits at origin.
func (t Transform) ScreenRect(origin Point) Rect {
	return Rect{
		X:      origin.X + t.TranslateX,
		Y:      origin.Y + t.TranslateY,
		Width:  t.Width,
		Height: t.Height,
	}
}

// Translate returns t moved by (dx, dy).
func (t Transform) Translate(dx, dy float64) Transform {
	t.TranslateX += dx
	t.TranslateY += dy
	return t
}

// ScreenRectToDocument converts a screen rectangle to document space relative
// to the rendered page container. The result is rounded to whole document
// units so repeated read-modify-write cycles are stable.
func ScreenRectToDocument(r, container Rect, page Size) (Rect, error) {
	if !Ready(container, page) {
		return Rect{}, ErrLayoutNotReady
	}

	sx := page.Width / container.Width
	sy := page.Height / container.Height

	return Rect{
		X:      round((r.X - container.X) * sx),
		Y:      round((r.Y - container.Y) * sy),
		Width:  round(r.Width * sx),
		Height: round(r.Height * sy),
	}, nil
}

// DocumentRectToScreenTransform computes the overlay placement of a document
// rectangle. Pan is subtracted in screen units already multiplied by the
// current zoom, matching the viewer's scroll convention.
func DocumentRectToScreenTransform(doc, container Rect, page Size, pan Point, scale float64) (Transform, error) {
	if !Ready(container, page) {
		return Transform{}, ErrLayoutNotReady
	}

	sx := container.Width / page.Width
	sy := container.Height / page.Height

	return Transform{
		TranslateX: doc.X*sx - pan.X*scale,
		TranslateY: doc.Y*sy - pan.Y*scale,
		Width:      doc.Width * sx,
		Height:     doc.Height * sy,
	}, nil
}

// FitScale returns the largest uniform scale at which page fits inside container.
func FitScale(container, page Size) float64 {
	if page.Width <= 0 || page.Height <= 0 {
		return 0
	}
	return math.Min(container.Width/page.Width, container.Height/page.Height)
}

// ClampScale limits s to [lo, hi].
func ClampScale(s, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, s))
}

// round rounds half up, so -2.5 becomes -2 rather than -3.
func round(v float64) float64 {
	return math.Floor(v + 0.5)
}
