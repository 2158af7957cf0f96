// Package bake draws markers permanently into a PDF document.
package bake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/OCAP2/pdfzones/internal/store"
	"github.com/OCAP2/pdfzones/pkg/core"
)

var (
	// ErrUnknownMarkerType is reported for markers that are neither text nor image.
	ErrUnknownMarkerType = errors.New("unknown marker type")
	// ErrPageOutOfRange is reported for markers anchored past the last page.
	ErrPageOutOfRange = errors.New("marker page out of range")
	// ErrNotPlaced is reported for markers without usable geometry.
	ErrNotPlaced = errors.New("marker has no geometry")
)

// Skip records a marker that was left out of the output.
type Skip struct {
	MarkerID string
	Reason   string
	Err      error
}

// Result is the outcome of one bake pass.
type Result struct {
	Data     []byte
	Pages    int
	Drawn    int
	Skipped  []Skip
	Duration time.Duration
}

// Options tune image prefetching.
type Options struct {
	ImageConcurrency int
}

// Engine bakes marker snapshots onto source documents. It holds no
// per-document state, so one engine serves every bake.
type Engine struct {
	fetcher *Fetcher
	opts    Options
	logger  *slog.Logger

	duration metric.Float64Histogram
	skipped  metric.Int64Counter
}

// NewEngine creates an Engine using the global OTel meter.
func NewEngine(fetcher *Fetcher, opts Options, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{fetcher: fetcher, opts: opts, logger: logger}

	m := meter()
	var err error
	e.duration, err = m.Float64Histogram(
		"bake.duration",
		metric.WithDescription("Time spent producing a baked document"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating bake duration histogram: %w", err)
	}
	e.skipped, err = m.Int64Counter(
		"bake.markers.skipped",
		metric.WithDescription("Markers left out of a baked document"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating skipped counter: %w", err)
	}
	return e, nil
}

// Bake draws markers onto a copy of source in order. Per-marker failures
// are collected in Result.Skipped; only a source document that cannot be
// read or written fails the bake.
func (e *Engine) Bake(ctx context.Context, source []byte, markers []core.Marker) (Result, error) {
	start := time.Now()
	var res Result

	fetchErrs := e.fetcher.Prefetch(ctx, imageSources(markers), e.opts.ImageConcurrency)
	if err := ctx.Err(); err != nil {
		return res, err
	}

	w, err := openPDF(source)
	if err != nil {
		return res, err
	}
	res.Pages = w.pageCount()

	byPage := make(map[int][]core.Marker)
	for _, m := range markers {
		switch {
		case !m.Placed():
			res.Skipped = append(res.Skipped, e.skip(ctx, m, "unplaced", ErrNotPlaced))
		case m.Page < 1 || m.Page > res.Pages:
			res.Skipped = append(res.Skipped, e.skip(ctx, m, "page", fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, m.Page, res.Pages)))
		default:
			byPage[m.Page] = append(byPage[m.Page], m)
		}
	}

	for n := 1; n <= res.Pages; n++ {
		if err := w.addPage(n); err != nil {
			return res, err
		}
		pageHeight := w.pageSize(n).Height
		for _, m := range byPage[n] {
			if err := e.draw(ctx, w, m, pageHeight, fetchErrs); err != nil {
				res.Skipped = append(res.Skipped, e.skip(ctx, m, reason(err), err))
				continue
			}
			res.Drawn++
		}
	}

	res.Data, err = w.output()
	if err != nil {
		return res, err
	}

	res.Duration = time.Since(start)
	e.duration.Record(ctx, float64(res.Duration.Milliseconds()))
	e.logger.Debug("Bake complete",
		"pages", res.Pages,
		"drawn", res.Drawn,
		"skipped", len(res.Skipped),
		"duration", res.Duration)
	return res, nil
}

func (e *Engine) draw(ctx context.Context, w *pdfWriter, m core.Marker, pageHeight float64, fetchErrs map[string]error) error {
	box := store.DocRect(m)

	switch m.Kind {
	case core.KindText:
		t := m.Text.WithDefaults()
		font, ok := LookupFont(t.FontName)
		if !ok {
			e.logger.Warn("Unknown font, using Helvetica", "id", m.ID, "font", t.FontName)
		}
		r, g, b, ok := ParseColor(t.Color)
		if !ok {
			e.logger.Warn("Invalid text color, using black", "id", m.ID, "color", t.Color)
		}
		layout := LayoutText(t, box, pageHeight, font, w.measurer(font))
		return w.drawText(layout, font, pageHeight, r, g, b)

	case core.KindImage:
		img := m.Image.WithDefaults()
		source := img.Source()
		if err, failed := fetchErrs[source]; failed {
			return err
		}
		data, err := e.fetcher.Fetch(ctx, source)
		if err != nil {
			return err
		}
		p := FitImage(img.Fit, data.Aspect(), box.Width, box.Height)
		return w.drawImage(source, data, box, p)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownMarkerType, m.Kind)
	}
}

func (e *Engine) skip(ctx context.Context, m core.Marker, reason string, err error) Skip {
	e.logger.Warn("Marker skipped", "id", m.ID, "page", m.Page, "reason", reason, "error", err)
	e.skipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	return Skip{MarkerID: m.ID, Reason: reason, Err: err}
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownMarkerType):
		return "type"
	case errors.Is(err, ErrUnsupportedImage):
		return "unsupported_image"
	case errors.Is(err, ErrNoImageSource):
		return "no_source"
	default:
		return "error"
	}
}

func imageSources(markers []core.Marker) []string {
	var out []string
	for _, m := range markers {
		if m.Kind != core.KindImage || !m.Placed() {
			continue
		}
		if s := m.Image.Source(); s != "" {
			out = append(out, s)
		}
	}
	return out
}
