package session

import (
	"errors"
	"fmt"

	"github.com/OCAP2/pdfzones/internal/dispatcher"
	"github.com/OCAP2/pdfzones/internal/overlay"
	"github.com/OCAP2/pdfzones/internal/selection"
	"github.com/OCAP2/pdfzones/pkg/bridge"
)

// ErrUnknownGesture is returned for gesture kinds the session does not handle.
var ErrUnknownGesture = errors.New("unknown gesture")

// generateQueueSize bounds generate requests waiting behind a running bake.
const generateQueueSize = 4

// RegisterHandlers registers every host command on d. Generation runs on the
// dispatcher's buffer goroutine so a long bake does not stall the bridge.
func (s *Session) RegisterHandlers(d *dispatcher.Dispatcher) {
	d.Register(bridge.TypeLoad, s.handleLoad, dispatcher.Logged())
	d.Register(bridge.TypeUpdate, s.handleUpdate, dispatcher.Logged())
	d.Register(bridge.TypeLayout, s.handleLayout, dispatcher.Logged())
	d.Register(bridge.TypeChangePage, s.handleChangePage, dispatcher.Logged())
	d.Register(bridge.TypeSelect, s.handleSelect, dispatcher.Logged())
	d.Register(bridge.TypeGesture, s.handleGesture, dispatcher.Logged())
	d.Register(bridge.TypeGenerate, s.handleGenerate, dispatcher.Buffered(generateQueueSize), dispatcher.Logged())
}

func (s *Session) handleLoad(e dispatcher.Event) (any, error) {
	var p bridge.LoadPayload
	if err := e.Decode(&p); err != nil {
		return nil, err
	}
	req := LoadRequest{DocumentURL: p.DocumentURL, Markers: p.Markers, Properties: p.Properties}
	if p.Layout != nil {
		req.Layout = &overlay.Layout{Container: p.Layout.Container, Origin: p.Layout.Origin}
	}
	return nil, s.Load(s.ctx, req)
}

func (s *Session) handleUpdate(e dispatcher.Event) (any, error) {
	var p bridge.UpdatePayload
	if err := e.Decode(&p); err != nil {
		return nil, err
	}
	s.Update(p.Markers, p.Properties)
	return nil, nil
}

func (s *Session) handleLayout(e dispatcher.Event) (any, error) {
	var p bridge.LayoutPayload
	if err := e.Decode(&p); err != nil {
		return nil, err
	}
	s.SetLayout(overlay.Layout{Container: p.Container, Origin: p.Origin})
	return nil, nil
}

func (s *Session) handleChangePage(e dispatcher.Event) (any, error) {
	var p bridge.ChangePagePayload
	if err := e.Decode(&p); err != nil {
		return nil, err
	}
	return nil, s.ChangePage(p.Page)
}

func (s *Session) handleSelect(e dispatcher.Event) (any, error) {
	var p bridge.SelectPayload
	if err := e.Decode(&p); err != nil {
		return nil, err
	}
	return nil, s.SelectFromHost(p.ID, p.Page)
}

func (s *Session) handleGesture(e dispatcher.Event) (any, error) {
	var p bridge.GesturePayload
	if err := e.Decode(&p); err != nil {
		return nil, err
	}
	return nil, s.Gesture(p)
}

func (s *Session) handleGenerate(e dispatcher.Event) (any, error) {
	var p bridge.GeneratePayload
	if err := e.Decode(&p); err != nil {
		return nil, err
	}
	gen, err := s.Generate(s.ctx, p.Filename)
	if err != nil {
		s.deps.Notifier.Error(bridge.TypeGenerate, err)
		return nil, err
	}
	return gen.Filename, nil
}

// Gesture applies one resolved pointer gesture to the selection.
func (s *Session) Gesture(g bridge.GesturePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel := s.selection
	switch g.Kind {
	case bridge.GestureSelectStart:
		sel.BeginSelectDrag(selection.Target{Element: g.Target, Handle: g.Handle})
	case bridge.GestureSelectEnd:
		_, err := sel.EndSelectDrag(g.Rect, g.IsDrag)
		return err
	case bridge.GestureSelection:
		sel.SelectEnd(g.IDs, g.Pointer)
	case bridge.GestureDragStart:
		sel.DragStart()
	case bridge.GestureDrag:
		sel.Drag(g.DX, g.DY)
		s.publishOverlay()
	case bridge.GestureDragEnd:
		_, err := sel.DragEnd()
		return err
	case bridge.GestureResizeStart:
		sel.ResizeStart()
	case bridge.GestureResize:
		sel.Resize(g.Width, g.Height, g.DX, g.DY)
		s.publishOverlay()
	case bridge.GestureResizeEnd:
		_, err := sel.ResizeEnd()
		return err
	case bridge.GestureScroll:
		sel.Scroll(g.Left, g.Top)
	case bridge.GesturePinch:
		sel.Pinch(g.Zoom)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownGesture, g.Kind)
	}
	return nil
}
