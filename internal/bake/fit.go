package bake

import (
	"github.com/OCAP2/pdfzones/internal/geometry"
	"github.com/OCAP2/pdfzones/pkg/core"
)

// Placement is where an image is drawn relative to its marker box. Offsets
// are measured from the box's top-left corner and are negative on the
// overflowing axis of a cover fit.
type Placement struct {
	OffsetX float64
	OffsetY float64
	Width   float64
	Height  float64
	// Clip is set when the drawn image extends past the box.
	Clip bool
}

// Rect returns the placement in the same space as box.
func (p Placement) Rect(box geometry.Rect) geometry.Rect {
	return geometry.Rect{X: box.X + p.OffsetX, Y: box.Y + p.OffsetY, Width: p.Width, Height: p.Height}
}

// FitImage places an image of the given width/height aspect ratio inside a
// box of w by h.
func FitImage(fit core.Fit, aspect, w, h float64) Placement {
	if aspect <= 0 || w <= 0 || h <= 0 || fit == core.FitStretch {
		return Placement{Width: w, Height: h}
	}
	zoneAspect := w / h

	var p Placement
	switch fit {
	case core.FitCover:
		if aspect > zoneAspect {
			p.Height = h
			p.Width = h * aspect
			p.OffsetX = (w - p.Width) / 2
		} else {
			p.Width = w
			p.Height = w / aspect
			p.OffsetY = (h - p.Height) / 2
		}
		p.Clip = p.Width > w || p.Height > h
	default:
		if aspect > zoneAspect {
			p.Width = w
			p.Height = w / aspect
			p.OffsetY = (h - p.Height) / 2
		} else {
			p.Height = h
			p.Width = h * aspect
			p.OffsetX = (w - p.Width) / 2
		}
	}
	return p
}
