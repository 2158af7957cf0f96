package bake

import (
	"strings"

	"github.com/OCAP2/pdfzones/internal/geometry"
	"github.com/OCAP2/pdfzones/pkg/core"
)

// MinFontSize is the floor of the shrink-to-fit loop.
const MinFontSize = 1.0

const shrinkStep = 0.5

// Measurer returns the advance width of text set at size.
type Measurer interface {
	Width(text string, size float64) float64
}

// Line is one laid-out line of text. X and Y are the baseline origin in
// bottom-left page coordinates.
type Line struct {
	Text  string
	X     float64
	Y     float64
	Width float64
}

// TextLayout is the result of fitting a text marker into its box.
type TextLayout struct {
	Size       float64
	LineHeight float64
	Lines      []Line
}

// Height returns the height of the wrapped block.
func (l TextLayout) Height() float64 {
	return float64(len(l.Lines)) * l.LineHeight
}

// LayoutText wraps and positions t inside box, shrinking the font until the
// block fits or MinFontSize is reached. box is in top-left document space,
// the returned coordinates are bottom-left.
func LayoutText(t core.Text, box geometry.Rect, pageHeight float64, font Font, m Measurer) TextLayout {
	t = t.WithDefaults()
	paragraphs := strings.Split(strings.ReplaceAll(t.Content, "\r\n", "\n"), "\n")

	size := max(t.FontSize, MinFontSize)
	var lines []string
	for {
		lines = wrap(paragraphs, box.Width, size, m)
		if fits(lines, box, size, font, m) || size <= MinFontSize {
			break
		}
		size = max(size-shrinkStep, MinFontSize)
	}

	lineH := font.LineHeight(size)
	total := float64(len(lines)) * lineH
	top := pageHeight - box.Y

	var y0 float64
	switch t.VerticalAlign {
	case core.VerticalBottom:
		y0 = top - box.Height + total - lineH
	case core.VerticalCenter:
		y0 = top - (box.Height-total)/2 - lineH
	default:
		y0 = top - lineH
	}

	out := TextLayout{Size: size, LineHeight: lineH, Lines: make([]Line, 0, len(lines))}
	for i, text := range lines {
		w := m.Width(text, size)
		x := box.X
		switch t.Align {
		case core.AlignRight:
			x = box.X + box.Width - w
		case core.AlignCenter:
			x = box.X + (box.Width-w)/2
		}
		out.Lines = append(out.Lines, Line{
			Text:  text,
			X:     x,
			Y:     y0 - float64(i)*lineH,
			Width: w,
		})
	}
	return out
}

// wrap breaks paragraphs into lines greedily. A word wider than the box gets
// a line of its own.
func wrap(paragraphs []string, width, size float64, m Measurer) []string {
	var lines []string
	for _, p := range paragraphs {
		words := strings.Fields(p)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}
		current := ""
		for _, w := range words {
			candidate := w
			if current != "" {
				candidate = current + " " + w
			}
			if current == "" || m.Width(candidate, size) <= width {
				current = candidate
				continue
			}
			lines = append(lines, current)
			current = w
		}
		lines = append(lines, current)
	}
	return lines
}

func fits(lines []string, box geometry.Rect, size float64, font Font, m Measurer) bool {
	if float64(len(lines))*font.LineHeight(size) > box.Height {
		return false
	}
	for _, l := range lines {
		if m.Width(l, size) > box.Width {
			return false
		}
	}
	return true
}
