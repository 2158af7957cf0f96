package render

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedRasterizer blocks every page until it is released or cancelled.
type gatedRasterizer struct {
	started chan int

	mu    sync.Mutex
	gates map[int]chan struct{}
	// stubborn pages ignore cancellation and finish anyway when released.
	stubborn map[int]bool
}

func newGated() *gatedRasterizer {
	return &gatedRasterizer{
		started:  make(chan int, 8),
		gates:    make(map[int]chan struct{}),
		stubborn: make(map[int]bool),
	}
}

func (g *gatedRasterizer) gate(page int) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[page]
	if !ok {
		ch = make(chan struct{})
		g.gates[page] = ch
	}
	return ch
}

func (g *gatedRasterizer) release(page int) {
	close(g.gate(page))
}

func (g *gatedRasterizer) Rasterize(ctx context.Context, page int, scale float64) (image.Image, error) {
	g.started <- page
	g.mu.Lock()
	stubborn := g.stubborn[page]
	g.mu.Unlock()

	if stubborn {
		<-g.gate(page)
		return image.NewRGBA(image.Rect(0, 0, page, page)), nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.gate(page):
		return image.NewRGBA(image.Rect(0, 0, page, page)), nil
	}
}

type renderResult struct {
	raster  Raster
	outcome Outcome
	err     error
}

func renderAsync(p *Pipeline, page int) <-chan renderResult {
	out := make(chan renderResult, 1)
	go func() {
		r, o, err := p.Render(context.Background(), page, 1)
		out <- renderResult{r, o, err}
	}()
	return out
}

func waitStarted(t *testing.T, g *gatedRasterizer, page int) {
	t.Helper()
	select {
	case got := <-g.started:
		require.Equal(t, page, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("render of page %d never started", page)
	}
}

func receive(t *testing.T, ch <-chan renderResult) renderResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("render did not finish")
		return renderResult{}
	}
}

func TestPipeline_PageSwitchDiscardsStaleRender(t *testing.T) {
	g := newGated()
	p, err := New(g, nil)
	require.NoError(t, err)

	page2 := renderAsync(p, 2)
	waitStarted(t, g, 2)

	page1 := renderAsync(p, 1)
	waitStarted(t, g, 1)

	stale := receive(t, page2)
	assert.Equal(t, Superseded, stale.outcome)
	assert.NoError(t, stale.err)
	assert.Nil(t, stale.raster.Image)

	g.release(1)
	final := receive(t, page1)
	require.NoError(t, final.err)
	assert.Equal(t, Completed, final.outcome)
	assert.Equal(t, 1, final.raster.Page)
	assert.Equal(t, 1, final.raster.Image.Bounds().Dx())
	assert.Equal(t, 1, p.SupersededCount())
}

func TestPipeline_LateResultOfReplacedRenderIsDiscarded(t *testing.T) {
	g := newGated()
	g.stubborn[2] = true
	p, err := New(g, nil)
	require.NoError(t, err)

	page2 := renderAsync(p, 2)
	waitStarted(t, g, 2)
	page1 := renderAsync(p, 1)
	waitStarted(t, g, 1)

	// Page 2 ignores cancellation and completes after page 1 was requested.
	g.release(2)
	stale := receive(t, page2)
	assert.Equal(t, Superseded, stale.outcome)
	assert.Nil(t, stale.raster.Image)

	g.release(1)
	final := receive(t, page1)
	assert.Equal(t, Completed, final.outcome)
	assert.Equal(t, 1, final.raster.Page)
}

func TestPipeline_Cancel(t *testing.T) {
	g := newGated()
	p, err := New(g, nil)
	require.NoError(t, err)

	res := renderAsync(p, 3)
	waitStarted(t, g, 3)
	p.Cancel()

	r := receive(t, res)
	assert.Equal(t, Superseded, r.outcome)
	assert.NoError(t, r.err)
}

type failingRasterizer struct{}

func (failingRasterizer) Rasterize(context.Context, int, float64) (image.Image, error) {
	return nil, errors.New("boom")
}

func TestPipeline_RealFailureIsAnError(t *testing.T) {
	p, err := New(failingRasterizer{}, nil)
	require.NoError(t, err)

	_, outcome, err := p.Render(context.Background(), 1, 1)

	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, Completed, outcome)
	assert.Equal(t, 0, p.SupersededCount())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "superseded", Superseded.String())
	assert.Equal(t, "outcome(7)", Outcome(7).String())
}

func TestPipeline_StartOrderDecidesWinner(t *testing.T) {
	calls := make(chan int, 4)
	r := rasterizerFunc(func(ctx context.Context, page int, _ float64) (image.Image, error) {
		calls <- page
		return image.NewRGBA(image.Rect(0, 0, 1, 1)), nil
	})
	p, err := New(r, nil)
	require.NoError(t, err)

	older := p.Start(context.Background(), 2, 1)
	newer := p.Start(context.Background(), 1, 1)

	// The newer job runs first; the older one must not draw at all.
	raster, outcome, err := newer.Run()
	require.NoError(t, err)
	assert.Equal(t, Completed, outcome)
	assert.Equal(t, 1, raster.Page)

	_, outcome, err = older.Run()
	require.NoError(t, err)
	assert.Equal(t, Superseded, outcome)

	close(calls)
	var pages []int
	for page := range calls {
		pages = append(pages, page)
	}
	assert.Equal(t, []int{1}, pages)
}

type rasterizerFunc func(ctx context.Context, page int, scale float64) (image.Image, error)

func (f rasterizerFunc) Rasterize(ctx context.Context, page int, scale float64) (image.Image, error) {
	return f(ctx, page, scale)
}
