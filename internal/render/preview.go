package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/OCAP2/pdfzones/internal/bake"
	"github.com/OCAP2/pdfzones/internal/cache"
	"github.com/OCAP2/pdfzones/internal/geometry"
	"github.com/OCAP2/pdfzones/internal/store"
	"github.com/OCAP2/pdfzones/pkg/core"
)

// MaxRasterSide bounds either side of a raster in pixels.
const MaxRasterSide = 8192

// ErrNoPage is returned for pages the document does not have.
var ErrNoPage = errors.New("page not in document")

var (
	zoneFill    = color.NRGBA{R: 0x33, G: 0x99, B: 0xff, A: 0x22}
	zoneOutline = color.NRGBA{R: 0x33, G: 0x99, B: 0xff, A: 0xff}
)

// PreviewRasterizer draws a page as a white sheet with every marker on it:
// text markers as outlined boxes with their wrapped content, image markers
// with their cached image fitted into the box. It does not interpret the
// source page content.
type PreviewRasterizer struct {
	PageSize func(page int) (geometry.Size, bool)
	Markers  func(page int) []core.Marker
	Images   *cache.ImageCache
}

// Rasterize implements Rasterizer. Cancellation is checked between markers.
func (r *PreviewRasterizer) Rasterize(ctx context.Context, page int, scale float64) (image.Image, error) {
	size, ok := r.PageSize(page)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoPage, page)
	}
	if scale <= 0 {
		scale = 1
	}
	w := int(math.Ceil(size.Width * scale))
	h := int(math.Ceil(size.Height * scale))
	if w > MaxRasterSide || h > MaxRasterSide {
		f := float64(MaxRasterSide) / float64(max(w, h))
		scale *= f
		w = int(math.Ceil(size.Width * scale))
		h = int(math.Ceil(size.Height * scale))
	}
	w, h = min(w, MaxRasterSide), min(h, MaxRasterSide)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var markers []core.Marker
	if r.Markers != nil {
		markers = r.Markers(page)
	}
	for _, m := range markers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		box := scaleRect(store.DocRect(m), scale)
		switch m.Kind {
		case core.KindImage:
			r.drawImage(dst, m, box)
		default:
			drawTextZone(dst, m, box)
		}
	}
	return dst, ctx.Err()
}

func (r *PreviewRasterizer) drawImage(dst *image.RGBA, m core.Marker, box image.Rectangle) {
	img := m.Image.WithDefaults()
	if r.Images == nil {
		drawZone(dst, box)
		return
	}
	cached, ok := r.Images.Get(img.Source())
	if !ok {
		drawZone(dst, box)
		return
	}
	src, _, err := image.Decode(bytes.NewReader(cached.Data))
	if err != nil {
		drawZone(dst, box)
		return
	}

	p := bake.FitImage(img.Fit, cached.Aspect(), float64(box.Dx()), float64(box.Dy()))
	target := image.Rect(
		box.Min.X+int(math.Round(p.OffsetX)),
		box.Min.Y+int(math.Round(p.OffsetY)),
		box.Min.X+int(math.Round(p.OffsetX+p.Width)),
		box.Min.Y+int(math.Round(p.OffsetY+p.Height)),
	)
	clip := dst.SubImage(box).(*image.RGBA)
	draw.ApproxBiLinear.Scale(clip, target, src, src.Bounds(), draw.Over, nil)
}

func drawTextZone(dst *image.RGBA, m core.Marker, box image.Rectangle) {
	drawZone(dst, box)

	t := m.Text.WithDefaults()
	rr, gg, bb, _ := bake.ParseColor(t.Color)
	face := basicfont.Face7x13
	fontH := float64(face.Metrics().Height.Ceil())

	// Lay out in pixel space with the fixed-size face; the shrink loop is a
	// no-op since the face cannot scale.
	layout := bake.LayoutText(
		core.Text{Content: t.Content, Align: t.Align, VerticalAlign: t.VerticalAlign, FontSize: fontH},
		geometry.Rect{X: float64(box.Min.X), Y: float64(box.Min.Y), Width: float64(box.Dx()), Height: float64(box.Dy())},
		float64(dst.Bounds().Dy()),
		bake.Font{HeightRatio: 1},
		faceMeasurer{face},
	)

	d := &font.Drawer{
		Dst:  dst.SubImage(box).(*image.RGBA),
		Src:  image.NewUniform(color.RGBA{R: uint8(rr), G: uint8(gg), B: uint8(bb), A: 0xff}),
		Face: face,
	}
	descent := face.Metrics().Descent.Ceil()
	for _, line := range layout.Lines {
		y := float64(dst.Bounds().Dy()) - line.Y
		d.Dot = fixed.P(int(math.Round(line.X)), int(math.Round(y))-descent)
		d.DrawString(line.Text)
	}
}

func drawZone(dst *image.RGBA, box image.Rectangle) {
	draw.Draw(dst, box, image.NewUniform(zoneFill), image.Point{}, draw.Over)
	edge := image.NewUniform(zoneOutline)
	draw.Draw(dst, image.Rect(box.Min.X, box.Min.Y, box.Max.X, box.Min.Y+1), edge, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(box.Min.X, box.Max.Y-1, box.Max.X, box.Max.Y), edge, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(box.Min.X, box.Min.Y, box.Min.X+1, box.Max.Y), edge, image.Point{}, draw.Src)
	draw.Draw(dst, image.Rect(box.Max.X-1, box.Min.Y, box.Max.X, box.Max.Y), edge, image.Point{}, draw.Src)
}

func scaleRect(r geometry.Rect, scale float64) image.Rectangle {
	return image.Rect(
		int(math.Round(r.X*scale)),
		int(math.Round(r.Y*scale)),
		int(math.Round((r.X+r.Width)*scale)),
		int(math.Round((r.Y+r.Height)*scale)),
	)
}

type faceMeasurer struct {
	face font.Face
}

func (m faceMeasurer) Width(text string, _ float64) float64 {
	return float64(font.MeasureString(m.face, text).Ceil())
}

// EncodePNG encodes a raster for transport.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding raster: %w", err)
	}
	return buf.Bytes(), nil
}
