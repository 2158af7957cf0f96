// Package selection turns resolved pointer gestures into zone creation,
// selection changes and geometry edits.
package selection

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/OCAP2/pdfzones/internal/geometry"
	"github.com/OCAP2/pdfzones/internal/overlay"
	"github.com/OCAP2/pdfzones/internal/store"
	"github.com/OCAP2/pdfzones/pkg/core"
)

// Gestures smaller than this, in screen pixels, are treated as noise.
const (
	MinZoneWidth  = 2
	MinZoneHeight = 2
)

// State is the controller's gesture state.
type State int

const (
	Idle State = iota
	DraggingNewZone
	Selected
	Dragging
	Resizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case DraggingNewZone:
		return "dragging-new-zone"
	case Selected:
		return "selected"
	case Dragging:
		return "dragging"
	case Resizing:
		return "resizing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Notifier receives the events the host must see.
type Notifier interface {
	// SelectionChanged reports the single selected marker, or nil on deselect.
	SelectionChanged(m *core.Marker)
	// MarkerUpdated reports a created marker or a geometry change.
	MarkerUpdated(m core.Marker)
}

// Target identifies what a pointer-down landed on.
type Target struct {
	// Element is the id of the overlay element under the pointer, if any.
	Element string
	// Handle is set when the pointer is on a manipulation handle.
	Handle bool
}

// Dependencies are the collaborators of a Controller.
type Dependencies struct {
	Store    *store.Store
	Overlay  *overlay.Reconciler
	Notifier Notifier
	// Resync re-runs overlay reconciliation after the marker set or view changed.
	Resync func()
	// GeometryChanged receives the ids whose stored geometry changed.
	GeometryChanged func(ids []string)
	Now             func() time.Time
	Logger          *slog.Logger
}

// Controller is the selection state machine. Like the reconciler it runs on
// the session's event thread.
type Controller struct {
	deps     Dependencies
	state    State
	selected []string
}

// New creates an idle controller and binds it to the overlay so removals of
// selected elements clear the selection.
func New(deps Dependencies) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Resync == nil {
		deps.Resync = func() {}
	}
	if deps.GeometryChanged == nil {
		deps.GeometryChanged = func([]string) {}
	}
	c := &Controller{deps: deps}
	deps.Overlay.Bind(c)
	return c
}

// State returns the current gesture state.
func (c *Controller) State() State {
	return c.state
}

// Selection returns the selected element ids.
func (c *Controller) Selection() []string {
	return slices.Clone(c.selected)
}

// IsSelected reports whether id is part of the selection.
func (c *Controller) IsSelected(id string) bool {
	return slices.Contains(c.selected, id)
}

// Deselect clears the selection. The host is notified only on the transition
// from a non-empty selection, so repeated calls never duplicate the event.
func (c *Controller) Deselect() {
	if len(c.selected) == 0 {
		if c.state != DraggingNewZone {
			c.state = Idle
		}
		return
	}
	c.selected = nil
	c.state = Idle
	c.deps.Notifier.SelectionChanged(nil)
}

// Select makes id the only selected element without notifying the host. It
// is used for selections the host itself requested.
func (c *Controller) Select(id string) bool {
	if !c.deps.Overlay.Has(id) {
		return false
	}
	c.selected = []string{id}
	c.state = Selected
	return true
}

// BeginSelectDrag is called when a rubber-band gesture starts. It returns
// false when the gesture starts on something already manipulable, in which
// case the drag belongs to the manipulation and must not create a zone.
func (c *Controller) BeginSelectDrag(target Target) bool {
	if c.state == Dragging || c.state == Resizing {
		return false
	}
	if target.Handle || (target.Element != "" && c.IsSelected(target.Element)) {
		return false
	}
	if target.Element == "" {
		c.state = DraggingNewZone
	}
	return true
}

// EndSelectDrag finishes a rubber-band gesture. A real drag on empty canvas
// that covers at least the minimum size creates a text marker from the
// screen rectangle; anything else is discarded.
func (c *Controller) EndSelectDrag(rect geometry.Rect, isDrag bool) (*core.Marker, error) {
	if c.state != DraggingNewZone {
		return nil, nil
	}
	c.restState()

	if !isDrag || rect.SmallerThan(MinZoneWidth, MinZoneHeight) {
		return nil, nil
	}

	view := c.deps.Store.View()
	if !view.PageReady {
		return nil, geometry.ErrLayoutNotReady
	}
	doc, err := geometry.ScreenRectToDocument(rect, c.deps.Overlay.Layout().Container, view.PageSize)
	if err != nil {
		return nil, err
	}
	if doc.Width <= 0 || doc.Height <= 0 {
		return nil, nil
	}

	m := core.Marker{
		ID:       core.NewID(c.deps.Now()),
		Page:     view.CurrentPage,
		Position: &core.Point{X: doc.X, Y: doc.Y},
		Width:    doc.Width,
		Height:   doc.Height,
		Kind:     core.KindText,
		Text:     core.Text{}.WithDefaults(),
	}
	if err := c.deps.Store.Add(m); err != nil {
		return nil, err
	}

	c.deps.Logger.Debug("Zone created", "id", m.ID, "page", m.Page, "rect", doc)
	c.deps.Notifier.MarkerUpdated(m)
	c.deps.GeometryChanged([]string{m.ID})
	c.deps.Resync()
	return &m, nil
}

// SelectEnd applies the result of a selection gesture. ids may contain
// several elements; only one marker is reported outward: the one under the
// pointer if it is selected, otherwise the first.
func (c *Controller) SelectEnd(ids []string, pointer string) {
	live := make([]string, 0, len(ids))
	for _, id := range ids {
		if c.deps.Overlay.Has(id) && !slices.Contains(live, id) {
			live = append(live, id)
		}
	}

	if len(live) == 0 {
		c.Deselect()
		return
	}

	c.selected = live
	c.state = Selected

	primary := live[0]
	if slices.Contains(live, pointer) {
		primary = pointer
	}
	m, ok := c.deps.Store.Get(primary)
	if !ok {
		return
	}
	c.deps.Notifier.SelectionChanged(&m)
}

// DragStart begins moving the selected elements.
func (c *Controller) DragStart() bool {
	if c.state != Selected {
		return false
	}
	c.state = Dragging
	return true
}

// Drag moves every selected element by a screen delta.
func (c *Controller) Drag(dx, dy float64) {
	if c.state != Dragging {
		return
	}
	for _, id := range c.selected {
		el, ok := c.deps.Overlay.Element(id)
		if !ok {
			continue
		}
		c.deps.Overlay.Place(id, el.Transform.Translate(dx, dy))
	}
}

// DragEnd commits the moved geometry.
func (c *Controller) DragEnd() ([]string, error) {
	if c.state != Dragging {
		return nil, nil
	}
	return c.commit()
}

// ResizeStart begins resizing the selected elements.
func (c *Controller) ResizeStart() bool {
	if c.state != Selected {
		return false
	}
	c.state = Resizing
	return true
}

// Resize grows the selected elements by (dw, dh) and moves them by (dx, dy),
// the latter being non-zero when a top or left handle is dragged.
func (c *Controller) Resize(dw, dh, dx, dy float64) {
	if c.state != Resizing {
		return
	}
	for _, id := range c.selected {
		el, ok := c.deps.Overlay.Element(id)
		if !ok {
			continue
		}
		t := el.Transform.Translate(dx, dy)
		t.Width = max(1, t.Width+dw)
		t.Height = max(1, t.Height+dh)
		c.deps.Overlay.Place(id, t)
	}
}

// ResizeEnd commits the resized geometry.
func (c *Controller) ResizeEnd() ([]string, error) {
	if c.state != Resizing {
		return nil, nil
	}
	return c.commit()
}

// Scroll records a pan offset. Any selection is dropped before elements move.
func (c *Controller) Scroll(left, top float64) {
	c.deps.Store.SetViewState(store.ViewPatch{Pan: &geometry.Point{X: left, Y: top}})
	c.Deselect()
	c.deps.Resync()
}

// Pinch records a zoom factor. Any selection is dropped before elements move.
func (c *Controller) Pinch(zoom float64) {
	c.deps.Store.SetViewState(store.ViewPatch{Scale: &zoom})
	c.Deselect()
	c.deps.Resync()
}

// commit re-derives document geometry from every live element's current
// screen rectangle rather than accumulating deltas, then snaps the overlay
// back onto the stored, rounded geometry.
func (c *Controller) commit() ([]string, error) {
	c.state = Selected
	defer c.deps.Resync()

	view := c.deps.Store.View()
	if !view.PageReady {
		return nil, geometry.ErrLayoutNotReady
	}
	container := c.deps.Overlay.Layout().Container

	var changed []string
	for _, id := range c.deps.Overlay.IDs() {
		rect, ok := c.deps.Overlay.ScreenRect(id)
		if !ok {
			continue
		}
		doc, err := geometry.ScreenRectToDocument(rect, container, view.PageSize)
		if err != nil {
			return changed, err
		}
		if doc.Width <= 0 || doc.Height <= 0 {
			continue
		}
		ok, err = c.deps.Store.UpsertGeometry(id, doc)
		if err != nil {
			c.deps.Logger.Warn("Geometry update for unknown element", "id", id, "error", err)
			continue
		}
		if !ok {
			continue
		}
		changed = append(changed, id)
		if m, found := c.deps.Store.Get(id); found {
			c.deps.Notifier.MarkerUpdated(m)
		}
	}

	if len(changed) > 0 {
		c.deps.GeometryChanged(changed)
	}
	return changed, nil
}

// restState returns to Selected or Idle after a rubber-band gesture.
func (c *Controller) restState() {
	if len(c.selected) > 0 {
		c.state = Selected
	} else {
		c.state = Idle
	}
}
