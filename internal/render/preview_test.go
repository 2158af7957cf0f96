package render

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/pdfzones/internal/cache"
	"github.com/OCAP2/pdfzones/internal/geometry"
	"github.com/OCAP2/pdfzones/pkg/core"
)

func solidPNG(t *testing.T, w, h int, c color.Color) cache.Image {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return cache.Image{Data: buf.Bytes(), Type: "PNG", Width: w, Height: h}
}

func newPreview(markers []core.Marker, images *cache.ImageCache) *PreviewRasterizer {
	return &PreviewRasterizer{
		PageSize: func(page int) (geometry.Size, bool) {
			if page != 1 {
				return geometry.Size{}, false
			}
			return geometry.Size{Width: 200, Height: 100}, true
		},
		Markers: func(int) []core.Marker { return markers },
		Images:  images,
	}
}

func rgbaAt(img image.Image, x, y int) color.RGBA {
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

func TestPreview_BlankPageAtScale(t *testing.T) {
	r := newPreview(nil, nil)

	img, err := r.Rasterize(context.Background(), 1, 1.5)
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 300, 150), img.Bounds())
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, rgbaAt(img, 10, 10))
}

func TestPreview_UnknownPage(t *testing.T) {
	r := newPreview(nil, nil)

	_, err := r.Rasterize(context.Background(), 4, 1)
	assert.ErrorIs(t, err, ErrNoPage)
}

func TestPreview_ClampsHugeScale(t *testing.T) {
	r := newPreview(nil, nil)

	img, err := r.Rasterize(context.Background(), 1, 1000)
	require.NoError(t, err)
	assert.LessOrEqual(t, img.Bounds().Dx(), MaxRasterSide)
	assert.LessOrEqual(t, img.Bounds().Dy(), MaxRasterSide)
}

func TestPreview_DrawsMarkers(t *testing.T) {
	images := cache.NewImageCache()
	images.Set("red.png", solidPNG(t, 4, 2, color.RGBA{255, 0, 0, 255}))

	markers := []core.Marker{
		{
			ID: "img", Page: 1, Position: &core.Point{X: 100, Y: 0}, Width: 100, Height: 100,
			Kind: core.KindImage, Image: core.Image{Image: "red.png", Fit: core.FitContain},
		},
		{
			ID: "txt", Page: 1, Position: &core.Point{X: 10, Y: 10}, Width: 60, Height: 30,
			Kind: core.KindText, Text: core.Text{Content: "hi"},
		},
	}
	r := newPreview(markers, images)

	img, err := r.Rasterize(context.Background(), 1, 1)
	require.NoError(t, err)

	// 2:1 image contained in a 100x100 box is drawn 100x50 at y 25..75.
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, rgbaAt(img, 150, 50))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, rgbaAt(img, 150, 10))

	outline := rgbaAt(img, 10, 20)
	assert.Equal(t, color.RGBA{0x33, 0x99, 0xff, 0xff}, outline)
}

func TestPreview_MissingImageDrawsZone(t *testing.T) {
	markers := []core.Marker{{
		ID: "img", Page: 1, Position: &core.Point{X: 0, Y: 0}, Width: 50, Height: 50,
		Kind: core.KindImage, Image: core.Image{Image: "nope.png"},
	}}
	r := newPreview(markers, cache.NewImageCache())

	img, err := r.Rasterize(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{0x33, 0x99, 0xff, 0xff}, rgbaAt(img, 0, 25))
}

func TestPreview_ObservesCancellation(t *testing.T) {
	r := newPreview([]core.Marker{{ID: "a", Page: 1, Position: &core.Point{}, Width: 5, Height: 5}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Rasterize(ctx, 1, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEncodePNG(t *testing.T) {
	data, err := EncodePNG(image.NewRGBA(image.Rect(0, 0, 3, 2)))
	require.NoError(t, err)

	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Width)
	assert.Equal(t, 2, cfg.Height)
}
