// Package overlay keeps one interactive element per marker of the visible
// page. Elements are a disposable projection of the marker store: they are
// rebuilt by reconciliation and only read for geometry when a manipulation
// gesture ends.
package overlay

import (
	"slices"

	"github.com/OCAP2/pdfzones/internal/geometry"
	"github.com/OCAP2/pdfzones/internal/store"
	"github.com/OCAP2/pdfzones/pkg/core"
)

// Element is the on-screen representation of a marker.
type Element struct {
	ID        string             `json:"id"`
	Transform geometry.Transform `json:"transform"`
}

// Layout describes where the page surface and the overlay layer sit on screen.
type Layout struct {
	// Container is the bounding rectangle of the rendered page surface.
	Container geometry.Rect `json:"container"`
	// Origin is the top-left corner of the layer elements are translated in.
	Origin geometry.Point `json:"origin"`
}

// Selection is the view of the selection the reconciler needs to keep it
// from referencing destroyed elements.
type Selection interface {
	IsSelected(id string) bool
	// Deselect clears the selection, notifying the host only if it was not
	// already empty.
	Deselect()
}

// Input is everything a reconciliation pass depends on.
type Input struct {
	Markers  []core.Marker
	Layout   Layout
	PageSize geometry.Size
	Pan      geometry.Point
	Scale    float64
}

// Result lists what a pass changed.
type Result struct {
	Created []string
	Updated []string
	Removed []string
	// Deferred is set when the layout was not ready and placement was skipped.
	Deferred bool
}

// Changed reports whether the pass altered the element set or any placement.
func (r Result) Changed() bool {
	return len(r.Created)+len(r.Updated)+len(r.Removed) > 0
}

// Reconciler owns the live elements. It is driven from the session's single
// event thread and does no locking of its own.
type Reconciler struct {
	elements  map[string]*Element
	order     []string
	layout    Layout
	selection Selection
}

// New creates a reconciler with no elements.
func New() *Reconciler {
	return &Reconciler{elements: make(map[string]*Element)}
}

// Bind attaches the selection that removals must be reported to.
func (r *Reconciler) Bind(sel Selection) {
	r.selection = sel
}

// Sync runs a full reconciliation pass: every marker of the visible page gets
// exactly one element placed from its stored document geometry, and every
// other element is removed. Running it twice with the same input changes
// nothing the second time.
func (r *Reconciler) Sync(in Input) Result {
	var res Result
	r.layout = in.Layout

	wanted := make(map[string]bool, len(in.Markers))
	for _, m := range in.Markers {
		wanted[m.ID] = true
	}

	ready := geometry.Ready(in.Layout.Container, in.PageSize)
	res.Deferred = !ready

	if ready {
		for _, m := range in.Markers {
			t, err := geometry.DocumentRectToScreenTransform(store.DocRect(m), in.Layout.Container, in.PageSize, in.Pan, in.Scale)
			if err != nil {
				res.Deferred = true
				break
			}

			if el, ok := r.elements[m.ID]; ok {
				if el.Transform != t {
					el.Transform = t
					res.Updated = append(res.Updated, m.ID)
				}
				continue
			}

			r.elements[m.ID] = &Element{ID: m.ID, Transform: t}
			r.order = append(r.order, m.ID)
			res.Created = append(res.Created, m.ID)
		}
	}

	selectedRemoved := false
	kept := r.order[:0]
	for _, id := range r.order {
		if wanted[id] {
			kept = append(kept, id)
			continue
		}
		delete(r.elements, id)
		res.Removed = append(res.Removed, id)
		if r.selection != nil && r.selection.IsSelected(id) {
			selectedRemoved = true
		}
	}
	r.order = kept

	if selectedRemoved {
		r.selection.Deselect()
	}
	return res
}

// Has reports whether an element exists for id.
func (r *Reconciler) Has(id string) bool {
	_, ok := r.elements[id]
	return ok
}

// Element returns a copy of the element for id.
func (r *Reconciler) Element(id string) (Element, bool) {
	el, ok := r.elements[id]
	if !ok {
		return Element{}, false
	}
	return *el, true
}

// Elements returns copies of all elements in creation order.
func (r *Reconciler) Elements() []Element {
	out := make([]Element, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.elements[id])
	}
	return out
}

// IDs returns the element ids in creation order.
func (r *Reconciler) IDs() []string {
	return slices.Clone(r.order)
}

// Layout returns the layout of the last pass.
func (r *Reconciler) Layout() Layout {
	return r.layout
}

// Place overwrites the live placement of an element while it is being
// manipulated. It returns false if the element does not exist.
func (r *Reconciler) Place(id string, t geometry.Transform) bool {
	el, ok := r.elements[id]
	if !ok {
		return false
	}
	el.Transform = t
	return true
}

// ScreenRect returns the live screen rectangle of an element.
func (r *Reconciler) ScreenRect(id string) (geometry.Rect, bool) {
	el, ok := r.elements[id]
	if !ok {
		return geometry.Rect{}, false
	}
	return el.Transform.ScreenRect(r.layout.Origin), true
}
