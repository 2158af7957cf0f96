// Package store owns the canonical marker list and the view state of the
// editor. Markers are replaced wholesale by host snapshots and only their
// geometry is edited locally.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/OCAP2/pdfzones/internal/geometry"
	"github.com/OCAP2/pdfzones/pkg/core"
)

// ErrUnknownMarker is returned for operations on an id the store does not hold.
var ErrUnknownMarker = errors.New("unknown marker")

// ViewState is the transient view of the document.
type ViewState struct {
	CurrentPage   int
	LastValidPage int
	TotalPages    int
	Pan           geometry.Point
	Scale         float64

	// PageSize is the document-space size of CurrentPage. It is only valid
	// once PageReady is set, which happens when the page finished rendering.
	PageSize  geometry.Size
	PageReady bool
}

// ViewPatch is a partial ViewState update; nil fields are left untouched.
type ViewPatch struct {
	CurrentPage   *int
	LastValidPage *int
	TotalPages    *int
	Pan           *geometry.Point
	Scale         *float64
	PageSize      *geometry.Size
}

// Store holds markers and view state behind a single lock.
type Store struct {
	mu         sync.RWMutex
	markers    []core.Marker
	index      map[string]int
	properties map[string]any
	view       ViewState
}

// New creates an empty store showing page 1 at zoom 1.
func New() *Store {
	return &Store{
		index: make(map[string]int),
		view: ViewState{
			CurrentPage:   1,
			LastValidPage: 1,
			Scale:         1,
		},
	}
}

// ReplaceAll installs a host snapshot. Nothing from the previous marker list
// is kept.
func (s *Store) ReplaceAll(markers []core.Marker, properties map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markers = make([]core.Marker, 0, len(markers))
	s.index = make(map[string]int, len(markers))
	for _, m := range markers {
		if _, dup := s.index[m.ID]; dup || m.ID == "" {
			continue
		}
		s.index[m.ID] = len(s.markers)
		s.markers = append(s.markers, m.Clone())
	}
	s.properties = properties
}

// Add appends a marker created locally.
func (s *Store) Add(m core.Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[m.ID]; ok {
		return fmt.Errorf("marker %q already exists", m.ID)
	}
	s.index[m.ID] = len(s.markers)
	s.markers = append(s.markers, m.Clone())
	return nil
}

// UpsertGeometry stores a new document-space rectangle for the marker and
// reports whether any field actually changed.
func (s *Store) UpsertGeometry(id string, r geometry.Rect) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return false, fmt.Errorf("upsert geometry %q: %w", id, ErrUnknownMarker)
	}
	m := &s.markers[i]

	changed := m.Position == nil ||
		m.Position.X != r.X ||
		m.Position.Y != r.Y ||
		m.Width != r.Width ||
		m.Height != r.Height

	m.Position = &core.Point{X: r.X, Y: r.Y}
	m.Width = r.Width
	m.Height = r.Height
	return changed, nil
}

// Get returns a copy of the marker with the given id.
func (s *Store) Get(id string) (core.Marker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return core.Marker{}, false
	}
	return s.markers[i].Clone(), true
}

// MarkersForPage returns the attached markers anchored to page, in snapshot order.
func (s *Store) MarkersForPage(page int) []core.Marker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Marker
	for _, m := range s.markers {
		if m.Page == page && m.Attached(s.view.TotalPages) {
			out = append(out, m.Clone())
		}
	}
	return out
}

// Attached returns every marker that can be baked: placed on an existing
// page. Orphans are left out.
func (s *Store) Attached() []core.Marker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Marker, 0, len(s.markers))
	for _, m := range s.markers {
		if m.Attached(s.view.TotalPages) {
			out = append(out, m.Clone())
		}
	}
	return out
}

// Len returns the number of markers held, orphans included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.markers)
}

// Properties returns the host properties of the last snapshot.
func (s *Store) Properties() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.properties
}

// View returns the current view state.
func (s *Store) View() ViewState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// SetViewState applies a partial update and returns the resulting state.
// Scale is clamped to the viewer zoom range. Switching page invalidates the
// page size until the new page has rendered.
func (s *Store) SetViewState(p ViewPatch) ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.TotalPages != nil {
		s.view.TotalPages = *p.TotalPages
	}
	if p.CurrentPage != nil && *p.CurrentPage != s.view.CurrentPage {
		s.view.CurrentPage = *p.CurrentPage
		s.view.PageReady = false
	}
	if p.LastValidPage != nil {
		s.view.LastValidPage = *p.LastValidPage
	}
	if p.Pan != nil {
		s.view.Pan = *p.Pan
	}
	if p.Scale != nil {
		s.view.Scale = geometry.ClampScale(*p.Scale, geometry.MinScale, geometry.MaxScale)
	}
	if p.PageSize != nil {
		s.view.PageSize = *p.PageSize
		s.view.PageReady = p.PageSize.Width > 0 && p.PageSize.Height > 0
	}
	return s.view
}

// DocRect returns the document-space rectangle of a placed marker.
func DocRect(m core.Marker) geometry.Rect {
	if m.Position == nil {
		return geometry.Rect{Width: m.Width, Height: m.Height}
	}
	return geometry.Rect{X: m.Position.X, Y: m.Position.Y, Width: m.Width, Height: m.Height}
}

// Ptr is a helper for building ViewPatch literals.
func Ptr[T any](v T) *T {
	return &v
}
