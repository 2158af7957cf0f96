// Package session is the editor context: it owns the marker store, the
// overlay, the selection and the document, and drives baking and page
// rendering in response to host commands.
//
// All state changes run under one lock, so handlers behave as if they ran on
// a single event thread. Rendering and debounced re-bakes run in the
// background and re-enter through the same lock to apply their results.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/OCAP2/pdfzones/internal/bake"
	"github.com/OCAP2/pdfzones/internal/cache"
	"github.com/OCAP2/pdfzones/internal/document"
	"github.com/OCAP2/pdfzones/internal/geometry"
	"github.com/OCAP2/pdfzones/internal/overlay"
	"github.com/OCAP2/pdfzones/internal/queue"
	"github.com/OCAP2/pdfzones/internal/render"
	"github.com/OCAP2/pdfzones/internal/selection"
	"github.com/OCAP2/pdfzones/internal/store"
	"github.com/OCAP2/pdfzones/pkg/core"
)

// ErrInvalidPage is returned for page requests outside the document.
var ErrInvalidPage = errors.New("invalid page")

// FilenameProperty is the host property naming generated documents.
const FilenameProperty = "filename"

// Notifier receives everything the host must see.
type Notifier interface {
	selection.Notifier
	OverlayChanged(page int, elements []overlay.Element)
	PageChanged(view store.ViewState)
	RasterReady(r render.Raster, png []byte)
	DocumentReady(doc Generated)
	Error(command string, err error)
}

// Documents loads source documents and publishes generated ones.
type Documents interface {
	Load(ctx context.Context, url string) (document.Document, error)
	UploadEnabled() bool
	Upload(ctx context.Context, filename string, data []byte) error
}

// Baker draws markers into a document.
type Baker interface {
	Bake(ctx context.Context, source []byte, markers []core.Marker) (bake.Result, error)
}

// Generated is a baked document handed to the host.
type Generated struct {
	Filename string
	Data     []byte
	// Path is where the document was written, if an output directory is set.
	Path     string
	Uploaded bool
	Skipped  []bake.Skip
}

// Config tunes a Session.
type Config struct {
	Debounce         time.Duration
	DevicePixelRatio float64
	MaxZoom          float64
	DefaultFilename  string
	OutputDir        string
}

// Dependencies are the collaborators of a Session.
type Dependencies struct {
	Documents Documents
	Baker     Baker
	Notifier  Notifier
	// Images is shared with the bake fetcher so previews show fetched images.
	Images *cache.ImageCache
	// Rasterizer defaults to a preview of the markers over a blank sheet.
	Rasterizer render.Rasterizer
	Logger     *slog.Logger
	Now        func() time.Time
}

// LoadRequest opens a document with an initial snapshot.
type LoadRequest struct {
	DocumentURL string
	Markers     []core.Marker
	Properties  map[string]any
	Layout      *overlay.Layout
}

// Session is the explicit editor context.
type Session struct {
	cfg    Config
	deps   Dependencies
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	store     *store.Store
	overlay   *overlay.Reconciler
	selection *selection.Controller
	pipeline  *render.Pipeline
	layout    overlay.Layout
	source    document.Document
	current   []byte
	lastBake  bake.Result
	renderSeq uint64
	// pendingSelect is a host selection waiting for its page to render.
	pendingSelect string

	pending *queue.Queue[string]
	timer   *time.Timer
	bakeMu  sync.Mutex
	bakes   *cache.Counter
	// staleRasters counts renders that finished after a newer one started.
	staleRasters *cache.Counter

	docMu sync.RWMutex
	pages []geometry.Size
}

// New creates an empty session. Nothing is shown until Load.
func New(cfg Config, deps Dependencies) (*Session, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Images == nil {
		deps.Images = cache.NewImageCache()
	}
	if cfg.DevicePixelRatio <= 0 {
		cfg.DevicePixelRatio = 1
	}
	if cfg.MaxZoom <= 0 {
		cfg.MaxZoom = geometry.MaxScale
	}
	if cfg.DefaultFilename == "" {
		cfg.DefaultFilename = "document.pdf"
	}

	s := &Session{
		cfg:          cfg,
		deps:         deps,
		logger:       deps.Logger,
		store:        store.New(),
		overlay:      overlay.New(),
		pending:      queue.New[string](),
		bakes:        &cache.Counter{},
		staleRasters: &cache.Counter{},
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if deps.Rasterizer == nil {
		deps.Rasterizer = &render.PreviewRasterizer{
			PageSize: s.pageSize,
			Markers:  s.store.MarkersForPage,
			Images:   deps.Images,
		}
	}
	var err error
	s.pipeline, err = render.New(deps.Rasterizer, s.logger)
	if err != nil {
		return nil, err
	}

	s.selection = selection.New(selection.Dependencies{
		Store:           s.store,
		Overlay:         s.overlay,
		Notifier:        deps.Notifier,
		Resync:          func() { s.resync() },
		GeometryChanged: s.scheduleBake,
		Now:             deps.Now,
		Logger:          s.logger,
	})
	return s, nil
}

// Close stops background work, waits for it to finish and drops the cached
// images.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	s.cancel()
	s.pipeline.Cancel()
	s.wg.Wait()
	// A bake started by the timer may still hold bakeMu.
	s.bakeMu.Lock()
	defer s.bakeMu.Unlock()
	s.deps.Images.Reset()
}

// Load resolves the document, installs the snapshot and renders page 1.
// Document failures fall back to a blank page inside Documents.Load.
func (s *Session) Load(ctx context.Context, req LoadRequest) error {
	doc, err := s.deps.Documents.Load(ctx, req.DocumentURL)
	if err != nil {
		return fmt.Errorf("loading document: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.setDocument(doc)
	s.pending.Clear()
	s.pendingSelect = ""
	s.selection.Deselect()
	s.store.ReplaceAll(req.Markers, req.Properties)

	total := doc.PageCount()
	view := s.store.SetViewState(store.ViewPatch{
		TotalPages:    &total,
		CurrentPage:   store.Ptr(1),
		LastValidPage: store.Ptr(1),
		Pan:           &geometry.Point{},
		Scale:         store.Ptr(1.0),
		PageSize:      &geometry.Size{},
	})
	if req.Layout != nil {
		s.layout = *req.Layout
	}

	s.logger.Info("Document opened",
		"url", doc.URL,
		"blank", doc.Blank(),
		"pages", total,
		"markers", s.store.Len())

	s.resync()
	s.deps.Notifier.PageChanged(view)
	s.scheduleBake(s.markerIDs())
	s.startRender(1)
	return nil
}

// Update replaces the marker snapshot. The selection survives if its
// element is still on the page.
func (s *Session) Update(markers []core.Marker, properties map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store.ReplaceAll(markers, properties)
	s.resync()
	s.scheduleBake(s.markerIDs())
}

// SetLayout records where the page surface sits on screen and re-places
// the overlay. A container resize re-renders the page at the new fit.
func (s *Session) SetLayout(l overlay.Layout) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resized := l.Container.Size() != s.layout.Container.Size()
	s.layout = l
	s.resync()
	if resized && s.current != nil {
		s.startRender(s.store.View().CurrentPage)
	}
}

// ChangePage switches to page n. An out-of-range page leaves the view
// untouched and re-announces the last valid page so the host can revert.
func (s *Session) ChangePage(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changePage(n)
}

func (s *Session) changePage(n int) error {
	view := s.store.View()
	if n < 1 || n > view.TotalPages {
		s.deps.Notifier.PageChanged(view)
		return fmt.Errorf("%w: %d of %d", ErrInvalidPage, n, view.TotalPages)
	}
	if n == view.CurrentPage {
		return nil
	}

	s.selection.Deselect()
	view = s.store.SetViewState(store.ViewPatch{
		CurrentPage:   &n,
		LastValidPage: &n,
		Pan:           &geometry.Point{},
		Scale:         store.Ptr(1.0),
	})
	s.resync()
	s.deps.Notifier.PageChanged(view)
	s.startRender(n)
	return nil
}

// SelectFromHost applies a host selection request. An empty id clears the
// selection; a marker on another page is selected once that page rendered.
func (s *Session) SelectFromHost(id string, page int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		s.pendingSelect = ""
		s.selection.Deselect()
		return nil
	}

	view := s.store.View()
	if page != 0 && page != view.CurrentPage {
		if err := s.changePage(page); err != nil {
			return err
		}
		s.pendingSelect = id
		return nil
	}
	if !view.PageReady {
		s.pendingSelect = id
		return nil
	}
	if !s.selection.Select(id) {
		s.logger.Debug("Host selected a marker that is not on the page", "id", id, "page", view.CurrentPage)
	}
	return nil
}

// resync reconciles the overlay with the store and publishes the result.
// Callers hold mu.
func (s *Session) resync() {
	view := s.store.View()
	in := overlay.Input{
		Markers: s.store.MarkersForPage(view.CurrentPage),
		Layout:  s.layout,
		Pan:     view.Pan,
		Scale:   view.Scale,
	}
	if view.PageReady {
		in.PageSize = view.PageSize
	}
	res := s.overlay.Sync(in)
	if res.Changed() {
		s.logger.Debug("Overlay reconciled",
			"page", view.CurrentPage,
			"created", len(res.Created),
			"updated", len(res.Updated),
			"removed", len(res.Removed))
	}
	s.publishOverlay()
}

func (s *Session) publishOverlay() {
	s.deps.Notifier.OverlayChanged(s.store.View().CurrentPage, s.overlay.Elements())
}

func (s *Session) markerIDs() []string {
	markers := s.store.Attached()
	ids := make([]string, len(markers))
	for i, m := range markers {
		ids[i] = m.ID
	}
	return ids
}

func (s *Session) setDocument(doc document.Document) {
	s.source = doc
	s.current = doc.Data

	s.docMu.Lock()
	s.pages = doc.Pages
	s.docMu.Unlock()
}

// pageSize is read by the rasterizer outside mu.
func (s *Session) pageSize(page int) (geometry.Size, bool) {
	s.docMu.RLock()
	defer s.docMu.RUnlock()
	if page < 1 || page > len(s.pages) {
		return geometry.Size{}, false
	}
	return s.pages[page-1], true
}

// defaultFilename returns name, the "filename" property of the last host
// snapshot, or the configured default, with a .pdf extension.
func (s *Session) defaultFilename(name string) string {
	if name == "" {
		name, _ = s.store.Properties()[FilenameProperty].(string)
	}
	if name == "" {
		name = s.cfg.DefaultFilename
	}
	if filepath.Ext(name) == "" {
		name += ".pdf"
	}
	return name
}
