package core

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkerUnmarshal_Text(t *testing.T) {
	raw := `{
		"id": "m1", "page": 2, "position": {"x": 10, "y": 20},
		"width": 100, "height": 40, "type": "text",
		"content": "Hello World", "align": "left", "fontSize": 9,
		"name": "Title", "locked": true
	}`

	var m Marker
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, 2, m.Page)
	require.NotNil(t, m.Position)
	assert.Equal(t, Point{X: 10, Y: 20}, *m.Position)
	assert.Equal(t, KindText, m.Kind)
	assert.Equal(t, "Hello World", m.Text.Content)
	assert.Equal(t, AlignLeft, m.Text.Align)
	assert.Equal(t, 9.0, m.Text.FontSize)
	assert.Equal(t, Image{}, m.Image)
	assert.Len(t, m.Extra, 2)
	assert.JSONEq(t, `"Title"`, string(m.Extra["name"]))
}

func TestMarkerMarshal_KeepsHostFields(t *testing.T) {
	raw := `{"id":"m1","page":1,"position":{"x":1,"y":2},"width":3,"height":4,"type":"image","useUrl":true,"imageUrl":"http://x/a.png","fit":"cover","name":"Logo"}`

	var m Marker
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	m.Width = 30

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"m1","page":1,"position":{"x":1,"y":2},"width":30,"height":4,"type":"image","useUrl":true,"imageUrl":"http://x/a.png","fit":"cover","name":"Logo"}`, string(out))
}

func TestMarkerMarshal_UnplacedMarker(t *testing.T) {
	out, err := json.Marshal(Marker{ID: "fresh"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"fresh"}`, string(out))
}

func TestTextWithDefaults(t *testing.T) {
	got := Text{Content: "x"}.WithDefaults()
	assert.Equal(t, Text{
		Content:       "x",
		Align:         AlignCenter,
		VerticalAlign: VerticalTop,
		FontName:      DefaultFontName,
		FontSize:      DefaultFontSize,
		Color:         DefaultColor,
	}, got)

	kept := Text{Align: AlignRight, FontSize: 20, Color: "#ff0000"}.WithDefaults()
	assert.Equal(t, AlignRight, kept.Align)
	assert.Equal(t, 20.0, kept.FontSize)
	assert.Equal(t, "#ff0000", kept.Color)
}

func TestImageSource(t *testing.T) {
	assert.Equal(t, "http://a", Image{UseURL: true, ImageURL: "http://a", Image: "http://b"}.Source())
	assert.Equal(t, "http://b", Image{UseURL: false, ImageURL: "http://a", Image: "http://b"}.Source())
	assert.Equal(t, FitContain, Image{}.WithDefaults().Fit)
	assert.Equal(t, FitStretch, Image{Fit: FitStretch}.WithDefaults().Fit)
}

func TestMarkerAttached(t *testing.T) {
	pos := &Point{X: 1, Y: 1}
	tests := []struct {
		name   string
		marker Marker
		want   bool
	}{
		{"placed on existing page", Marker{Page: 2, Position: pos, Width: 5, Height: 5}, true},
		{"page beyond document", Marker{Page: 4, Position: pos, Width: 5, Height: 5}, false},
		{"page zero", Marker{Page: 0, Position: pos, Width: 5, Height: 5}, false},
		{"no position", Marker{Page: 1, Width: 5, Height: 5}, false},
		{"zero width", Marker{Page: 1, Position: pos, Height: 5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.marker.Attached(3))
		})
	}
}

func TestMarkerClone(t *testing.T) {
	m := Marker{ID: "a", Position: &Point{X: 1}, Extra: map[string]json.RawMessage{"k": json.RawMessage(`1`)}}
	c := m.Clone()
	c.Position.X = 99
	c.Extra["k"] = json.RawMessage(`2`)

	assert.Equal(t, 1.0, m.Position.X)
	assert.Equal(t, `1`, string(m.Extra["k"]))
}

func TestNewID(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	a := NewID(now)
	b := NewID(now)

	prefix := strconv.FormatInt(now.UnixMilli(), 36)
	assert.True(t, len(a) > len(prefix))
	assert.Equal(t, prefix, a[:len(prefix)])
	assert.NotEqual(t, a, b)
}
