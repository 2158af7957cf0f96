// Package render produces page rasters with last-requester-wins semantics.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/OCAP2/pdfzones/internal/cache"
)

// Outcome tells a caller what became of its render request.
type Outcome int

const (
	// Completed means the raster is current and may be applied.
	Completed Outcome = iota
	// Superseded means a newer request replaced this one. It is not a failure.
	Superseded
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Superseded:
		return "superseded"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Rasterizer draws one page. Implementations must return promptly with the
// context's error once it is cancelled.
type Rasterizer interface {
	Rasterize(ctx context.Context, page int, scale float64) (image.Image, error)
}

// Raster is a completed page rendering.
type Raster struct {
	Page  int
	Scale float64
	Image image.Image
}

// Pipeline runs at most one render at a time. Starting a render cancels the
// one in flight, and a render that finishes after being replaced reports
// Superseded no matter what the rasterizer returned.
type Pipeline struct {
	rasterizer Rasterizer
	logger     *slog.Logger

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc

	superseded      *cache.Counter
	supersededTotal metric.Int64Counter
}

// New creates a Pipeline using the global OTel meter.
func New(r Rasterizer, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{rasterizer: r, logger: logger, superseded: &cache.Counter{}}

	var err error
	p.supersededTotal, err = meter().Int64Counter(
		"render.superseded",
		metric.WithDescription("Page renders replaced by a newer request"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating superseded counter: %w", err)
	}
	return p, nil
}

// Job is one registered render request.
type Job struct {
	p      *Pipeline
	ctx    context.Context
	cancel context.CancelFunc
	seq    uint64
	page   int
	scale  float64
}

// Start registers a render request and cancels the one in flight. Requests
// are ordered by Start, so a caller that starts renders under its own lock
// gets last-requester-wins regardless of when each Job runs.
func (p *Pipeline) Start(ctx context.Context, page int, scale float64) *Job {
	rctx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.seq++
	seq := p.seq
	p.cancel = cancel
	p.mu.Unlock()

	return &Job{p: p, ctx: rctx, cancel: cancel, seq: seq, page: page, scale: scale}
}

// Run rasterizes the page. Errors are only returned for genuine rendering
// failures of the latest request.
func (j *Job) Run() (Raster, Outcome, error) {
	defer j.cancel()
	p := j.p

	var img image.Image
	err := j.ctx.Err()
	if err == nil {
		img, err = p.rasterizer.Rasterize(j.ctx, j.page, j.scale)
	}

	p.mu.Lock()
	current := j.seq == p.seq
	if current {
		p.cancel = nil
	}
	p.mu.Unlock()

	if !current || (err != nil && errors.Is(err, context.Canceled)) {
		p.superseded.Inc()
		p.supersededTotal.Add(context.Background(), 1)
		p.logger.Debug("Render superseded", "page", j.page, "seq", j.seq)
		return Raster{}, Superseded, nil
	}
	if err != nil {
		return Raster{}, Completed, fmt.Errorf("rendering page %d: %w", j.page, err)
	}
	return Raster{Page: j.page, Scale: j.scale, Image: img}, Completed, nil
}

// Render rasterizes page at scale. It is Start followed by Run.
func (p *Pipeline) Render(ctx context.Context, page int, scale float64) (Raster, Outcome, error) {
	return p.Start(ctx, page, scale).Run()
}

// Cancel stops the render in flight, if any.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// SupersededCount returns how many renders were replaced so far.
func (p *Pipeline) SupersededCount() int {
	return p.superseded.Value()
}
