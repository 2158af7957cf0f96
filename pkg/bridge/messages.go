// Package bridge defines the messages exchanged with the host over the
// bridge WebSocket. Every frame is an Envelope carrying one payload.
package bridge

import (
	"encoding/json"

	"github.com/OCAP2/pdfzones/internal/geometry"
	"github.com/OCAP2/pdfzones/pkg/core"
)

// Inbound message types (host -> service).
const (
	TypeLoad       = "load"
	TypeUpdate     = "update"
	TypeLayout     = "layout"
	TypeChangePage = "change_page"
	TypeSelect     = "select"
	TypeGesture    = "gesture"
	TypeGenerate   = "generate"
)

// Outbound message types (service -> host).
const (
	TypeHello         = "hello"
	TypeAck           = "ack"
	TypeMarkerUpdated = "marker_updated"
	TypeSelection     = "selection"
	TypeOverlay       = "overlay"
	TypePage          = "page"
	TypeRaster        = "raster"
	TypeDocument      = "document"
	TypeError         = "error"
)

// Gesture kinds carried by a gesture message.
const (
	GestureSelectStart = "select_start"
	GestureSelectEnd   = "select_end"
	GestureSelection   = "selection"
	GestureDragStart   = "drag_start"
	GestureDrag        = "drag"
	GestureDragEnd     = "drag_end"
	GestureResizeStart = "resize_start"
	GestureResize      = "resize"
	GestureResizeEnd   = "resize_end"
	GestureScroll      = "scroll"
	GesturePinch       = "pinch"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AckMessage acknowledges a message of the given type.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// LayoutPayload locates the rendered page surface on screen.
type LayoutPayload struct {
	Container geometry.Rect  `json:"container"`
	Origin    geometry.Point `json:"origin"`
}

// LoadPayload opens a document with an initial marker snapshot.
type LoadPayload struct {
	DocumentURL string         `json:"documentUrl"`
	Markers     []core.Marker  `json:"markers"`
	Properties  map[string]any `json:"properties,omitempty"`
	Layout      *LayoutPayload `json:"layout,omitempty"`
}

// UpdatePayload replaces the marker snapshot.
type UpdatePayload struct {
	Markers    []core.Marker  `json:"markers"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ChangePagePayload requests a page switch.
type ChangePagePayload struct {
	Page int `json:"page"`
}

// SelectPayload is a host selection request. An empty ID clears the selection.
type SelectPayload struct {
	ID   string `json:"id"`
	Page int    `json:"page,omitempty"`
}

// GesturePayload is a resolved pointer gesture. Which fields are meaningful
// depends on Kind.
type GesturePayload struct {
	Kind string `json:"kind"`

	// select_start
	Target string `json:"target,omitempty"`
	Handle bool   `json:"handle,omitempty"`

	// select_end
	Rect   geometry.Rect `json:"rect"`
	IsDrag bool          `json:"isDrag,omitempty"`

	// selection
	IDs     []string `json:"ids,omitempty"`
	Pointer string   `json:"pointer,omitempty"`

	// drag, resize
	DX     float64 `json:"dx,omitempty"`
	DY     float64 `json:"dy,omitempty"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`

	// scroll, pinch
	Left float64 `json:"left,omitempty"`
	Top  float64 `json:"top,omitempty"`
	Zoom float64 `json:"zoom,omitempty"`
}

// GeneratePayload requests the baked document.
type GeneratePayload struct {
	Filename string `json:"filename,omitempty"`
}

// HelloPayload introduces the service after every (re)connect.
type HelloPayload struct {
	Service   string   `json:"service"`
	Version   string   `json:"version"`
	SessionID string   `json:"sessionId"`
	Commands  []string `json:"commands"`
}

// MarkerUpdatedPayload reports a created marker or a geometry change.
type MarkerUpdatedPayload struct {
	Marker core.Marker `json:"marker"`
}

// SelectionPayload reports the selected marker; Marker is null on deselect.
type SelectionPayload struct {
	Marker *core.Marker `json:"marker"`
}

// Element is the placement of one overlay element.
type Element struct {
	ID        string             `json:"id"`
	Transform geometry.Transform `json:"transform"`
}

// OverlayPayload lists every overlay element of the visible page.
type OverlayPayload struct {
	Page     int       `json:"page"`
	Elements []Element `json:"elements"`
}

// PagePayload announces the current page. On a rejected page change it
// carries the page the toolbar must revert to.
type PagePayload struct {
	Current   int     `json:"current"`
	Total     int     `json:"total"`
	LastValid int     `json:"lastValid"`
	Width     float64 `json:"width,omitempty"`
	Height    float64 `json:"height,omitempty"`
}

// RasterPayload carries a rendered page as PNG.
type RasterPayload struct {
	Page   int     `json:"page"`
	Scale  float64 `json:"scale"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	PNG    []byte  `json:"png"`
}

// SkippedMarker names a marker that was left out of a baked document.
type SkippedMarker struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// DocumentPayload carries a generated document.
type DocumentPayload struct {
	Filename string          `json:"filename"`
	Size     int             `json:"size"`
	Data     []byte          `json:"data"`
	Path     string          `json:"path,omitempty"`
	Uploaded bool            `json:"uploaded,omitempty"`
	Skipped  []SkippedMarker `json:"skipped,omitempty"`
}

// ErrorPayload reports a failed command.
type ErrorPayload struct {
	For     string `json:"for"`
	Message string `json:"message"`
}
