// pkg/core/marker.go
package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind tags the content variant of a marker.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Align is the horizontal placement of text lines inside a marker box.
type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

// VerticalAlign is the vertical placement of the wrapped text block.
type VerticalAlign string

const (
	VerticalTop    VerticalAlign = "top"
	VerticalCenter VerticalAlign = "center"
	VerticalBottom VerticalAlign = "bottom"
)

// Fit is how an image is scaled into its marker box.
type Fit string

const (
	FitContain Fit = "contain"
	FitCover   Fit = "cover"
	FitStretch Fit = "stretch"
)

// Text defaults applied at bake time.
const (
	DefaultFontName = "Helvetica"
	DefaultFontSize = 12.0
	DefaultColor    = "#000000"
)

// Point is a document-space position, top-left origin, in page units.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Text is the payload of a text marker.
type Text struct {
	Content       string
	Align         Align
	VerticalAlign VerticalAlign
	FontName      string
	FontSize      float64
	Color         string
}

// WithDefaults returns t with unset fields filled in.
func (t Text) WithDefaults() Text {
	if t.Align == "" {
		t.Align = AlignCenter
	}
	if t.VerticalAlign == "" {
		t.VerticalAlign = VerticalTop
	}
	if t.FontName == "" {
		t.FontName = DefaultFontName
	}
	if t.FontSize <= 0 {
		t.FontSize = DefaultFontSize
	}
	if t.Color == "" {
		t.Color = DefaultColor
	}
	return t
}

// Image is the payload of an image marker.
type Image struct {
	UseURL   bool
	ImageURL string
	Image    string
	Fit      Fit
}

// Source returns the location the image bytes are fetched from.
func (i Image) Source() string {
	if i.UseURL {
		return i.ImageURL
	}
	return i.Image
}

// WithDefaults returns i with unset fields filled in.
func (i Image) WithDefaults() Image {
	if i.Fit == "" {
		i.Fit = FitContain
	}
	return i
}

// Marker is a page-anchored content placeholder. Kind selects which of Text
// or Image is meaningful. Extra carries host fields this service does not
// interpret so they survive a round trip.
type Marker struct {
	ID       string
	Page     int
	Position *Point
	Width    float64
	Height   float64
	Kind     Kind
	Text     Text
	Image    Image
	Extra    map[string]json.RawMessage
}

// Placed reports whether the marker has usable geometry.
func (m Marker) Placed() bool {
	return m.Position != nil && m.Width > 0 && m.Height > 0
}

// Attached reports whether the marker is placed on an existing page.
func (m Marker) Attached(totalPages int) bool {
	return m.Placed() && m.Page >= 1 && m.Page <= totalPages
}

// Clone returns a deep copy.
func (m Marker) Clone() Marker {
	if m.Position != nil {
		p := *m.Position
		m.Position = &p
	}
	if m.Extra != nil {
		extra := make(map[string]json.RawMessage, len(m.Extra))
		for k, v := range m.Extra {
			extra[k] = v
		}
		m.Extra = extra
	}
	return m
}

// NewID returns a marker id made of the creation time in base 36 followed by
// a random suffix.
func NewID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strconv.FormatInt(now.UnixMilli(), 36) + suffix[:11]
}

// markerWire is the flat host representation of a marker.
type markerWire struct {
	ID            string        `json:"id"`
	Page          int           `json:"page,omitempty"`
	Position      *Point        `json:"position,omitempty"`
	Width         float64       `json:"width,omitempty"`
	Height        float64       `json:"height,omitempty"`
	Type          Kind          `json:"type,omitempty"`
	Content       string        `json:"content,omitempty"`
	Align         Align         `json:"align,omitempty"`
	VerticalAlign VerticalAlign `json:"verticalAlign,omitempty"`
	FontName      string        `json:"fontName,omitempty"`
	FontSize      float64       `json:"fontSize,omitempty"`
	Color         string        `json:"color,omitempty"`
	UseURL        bool          `json:"useUrl,omitempty"`
	ImageURL      string        `json:"imageUrl,omitempty"`
	Image         string        `json:"image,omitempty"`
	Fit           Fit           `json:"fit,omitempty"`
}

var wireKeys = []string{
	"id", "page", "position", "width", "height", "type",
	"content", "align", "verticalAlign", "fontName", "fontSize", "color",
	"useUrl", "imageUrl", "image", "fit",
}

// UnmarshalJSON decodes the flat host representation.
func (m *Marker) UnmarshalJSON(data []byte) error {
	var w markerWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode marker: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode marker fields: %w", err)
	}
	for _, k := range wireKeys {
		delete(raw, k)
	}

	*m = Marker{
		ID:       w.ID,
		Page:     w.Page,
		Position: w.Position,
		Width:    w.Width,
		Height:   w.Height,
		Kind:     w.Type,
	}
	switch w.Type {
	case KindText:
		m.Text = Text{
			Content:       w.Content,
			Align:         w.Align,
			VerticalAlign: w.VerticalAlign,
			FontName:      w.FontName,
			FontSize:      w.FontSize,
			Color:         w.Color,
		}
	case KindImage:
		m.Image = Image{UseURL: w.UseURL, ImageURL: w.ImageURL, Image: w.Image, Fit: w.Fit}
	}
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

// MarshalJSON encodes the flat host representation, extra fields included.
func (m Marker) MarshalJSON() ([]byte, error) {
	w := markerWire{
		ID:       m.ID,
		Page:     m.Page,
		Position: m.Position,
		Width:    m.Width,
		Height:   m.Height,
		Type:     m.Kind,
	}
	switch m.Kind {
	case KindText:
		w.Content = m.Text.Content
		w.Align = m.Text.Align
		w.VerticalAlign = m.Text.VerticalAlign
		w.FontName = m.Text.FontName
		w.FontSize = m.Text.FontSize
		w.Color = m.Text.Color
	case KindImage:
		w.UseURL = m.Image.UseURL
		w.ImageURL = m.Image.ImageURL
		w.Image = m.Image.Image
		w.Fit = m.Image.Fit
	}

	known, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return known, nil
	}

	out := make(map[string]json.RawMessage, len(m.Extra)+len(wireKeys))
	for k, v := range m.Extra {
		out[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		out[k] = v
	}
	return json.Marshal(out)
}
