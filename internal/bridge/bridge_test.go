package bridge

import (
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/pdfzones/internal/bake"
	"github.com/OCAP2/pdfzones/internal/dispatcher"
	"github.com/OCAP2/pdfzones/internal/geometry"
	"github.com/OCAP2/pdfzones/internal/overlay"
	"github.com/OCAP2/pdfzones/internal/render"
	"github.com/OCAP2/pdfzones/internal/session"
	"github.com/OCAP2/pdfzones/internal/store"
	"github.com/OCAP2/pdfzones/pkg/bridge"
	"github.com/OCAP2/pdfzones/pkg/core"
)

const waitFor = 3 * time.Second

// fakeHost is the host side of the bridge. It acks every hello and records
// every frame it receives.
type fakeHost struct {
	srv      *httptest.Server
	upgrader ws.Upgrader

	mu      sync.Mutex
	conns   []*ws.Conn
	secrets []string
	frames  chan []byte
}

func newFakeHost(t *testing.T) *fakeHost {
	t.Helper()
	h := &fakeHost{frames: make(chan []byte, 64)}
	h.srv = httptest.NewServer(http.HandlerFunc(h.serve))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *fakeHost) url() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http")
}

func (h *fakeHost) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.conns = append(h.conns, conn)
	h.secrets = append(h.secrets, r.URL.Query().Get("secret"))
	h.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env bridge.Envelope
		if json.Unmarshal(data, &env) == nil && env.Type == bridge.TypeHello {
			h.write(conn, bridge.AckMessage{Type: bridge.TypeAck, For: bridge.TypeHello})
		}
		h.frames <- data
	}
}

func (h *fakeHost) write(conn *ws.Conn, v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = conn.WriteJSON(v)
}

func (h *fakeHost) conn(i int) *ws.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[i]
}

func (h *fakeHost) connCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// next returns the next received frame as an envelope.
func (h *fakeHost) next(t *testing.T) bridge.Envelope {
	t.Helper()
	select {
	case data := <-h.frames:
		var env bridge.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(waitFor):
		t.Fatal("no frame received")
		return bridge.Envelope{}
	}
}

func (h *fakeHost) nextRaw(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-h.frames:
		return data
	case <-time.After(waitFor):
		t.Fatal("no frame received")
		return nil
	}
}

type fakeDispatcher struct {
	mu     sync.Mutex
	events []dispatcher.Event
	fail   map[string]error
}

func (d *fakeDispatcher) Dispatch(e dispatcher.Event) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
	if err, ok := d.fail[e.Command]; ok {
		return nil, err
	}
	return nil, nil
}

func (d *fakeDispatcher) received() []dispatcher.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatcher.Event(nil), d.events...)
}

var testHello = bridge.HelloPayload{
	Service:   "pdfzones",
	Version:   "test",
	SessionID: "s-1",
	Commands:  []string{bridge.TypeLoad},
}

func connect(t *testing.T, host *fakeHost, d Dispatcher, secret string) *Bridge {
	t.Helper()
	b, err := New(Config{URL: host.url(), Secret: secret}, d, nil)
	require.NoError(t, err)
	b.conn.initialBackoff = 10 * time.Millisecond
	t.Cleanup(func() { _ = b.Close() })

	require.NoError(t, b.Connect(testHello))
	env := host.next(t)
	require.Equal(t, bridge.TypeHello, env.Type)
	return b
}

func TestConnect_SendsHelloWithSecret(t *testing.T) {
	host := newFakeHost(t)
	b, err := New(Config{URL: host.url(), Secret: "s3cret"}, &fakeDispatcher{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	require.NoError(t, b.Connect(testHello))

	env := host.next(t)
	assert.Equal(t, bridge.TypeHello, env.Type)
	var hello bridge.HelloPayload
	require.NoError(t, json.Unmarshal(env.Payload, &hello))
	assert.Equal(t, testHello, hello)

	host.mu.Lock()
	assert.Equal(t, []string{"s3cret"}, host.secrets)
	host.mu.Unlock()
}

func TestConnect_OmitsEmptySecret(t *testing.T) {
	host := newFakeHost(t)
	connect(t, host, &fakeDispatcher{}, "")

	host.mu.Lock()
	defer host.mu.Unlock()
	assert.Equal(t, []string{""}, host.secrets)
}

func TestConnect_TimesOutWithoutAck(t *testing.T) {
	upgrader := ws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	b, err := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, &fakeDispatcher{}, nil)
	require.NoError(t, err)
	defer b.Close()
	b.conn.ackTimeout = 50 * time.Millisecond

	err = b.Connect(testHello)
	assert.ErrorContains(t, err, "timeout waiting for ack")
}

func TestConnect_DialFailure(t *testing.T) {
	b, err := New(Config{URL: "ws://127.0.0.1:1/bridge"}, &fakeDispatcher{}, nil)
	require.NoError(t, err)
	assert.Error(t, b.Connect(testHello))
}

func TestInbound_DispatchesAndAcks(t *testing.T) {
	host := newFakeHost(t)
	d := &fakeDispatcher{}
	connect(t, host, d, "")

	host.write(host.conn(0), bridge.Envelope{Type: bridge.TypeSelect, Payload: json.RawMessage(`{"id":"a"}`)})

	var ack bridge.AckMessage
	require.NoError(t, json.Unmarshal(host.nextRaw(t), &ack))
	assert.Equal(t, bridge.AckMessage{Type: bridge.TypeAck, For: bridge.TypeSelect}, ack)

	events := d.received()
	require.Len(t, events, 1)
	assert.Equal(t, bridge.TypeSelect, events[0].Command)
	assert.JSONEq(t, `{"id":"a"}`, string(events[0].Payload))
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestInbound_FailureSendsError(t *testing.T) {
	host := newFakeHost(t)
	d := &fakeDispatcher{fail: map[string]error{"explode": errors.New("unknown command: explode")}}
	connect(t, host, d, "")

	host.write(host.conn(0), bridge.Envelope{Type: "explode"})

	env := host.next(t)
	assert.Equal(t, bridge.TypeError, env.Type)
	var p bridge.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, bridge.ErrorPayload{For: "explode", Message: "unknown command: explode"}, p)
}

func TestInbound_MalformedFrameIsIgnored(t *testing.T) {
	host := newFakeHost(t)
	d := &fakeDispatcher{}
	connect(t, host, d, "")

	host.mu.Lock()
	require.NoError(t, host.conns[0].WriteMessage(ws.TextMessage, []byte("{not json")))
	host.mu.Unlock()
	host.write(host.conn(0), bridge.Envelope{Type: bridge.TypeLoad})

	var ack bridge.AckMessage
	require.NoError(t, json.Unmarshal(host.nextRaw(t), &ack))
	assert.Equal(t, bridge.TypeLoad, ack.For)
	assert.Len(t, d.received(), 1)
}

func TestNotifier_Envelopes(t *testing.T) {
	host := newFakeHost(t)
	b := connect(t, host, &fakeDispatcher{}, "")

	marker := core.Marker{ID: "a", Page: 1, Position: &core.Point{X: 1, Y: 2}, Width: 3, Height: 4, Kind: core.KindText}

	tests := []struct {
		name     string
		notify   func()
		wantType string
		want     string
	}{
		{
			name:     "deselect",
			notify:   func() { b.SelectionChanged(nil) },
			wantType: bridge.TypeSelection,
			want:     `{"marker":null}`,
		},
		{
			name:     "select",
			notify:   func() { b.SelectionChanged(&marker) },
			wantType: bridge.TypeSelection,
			want:     `{"marker":{"id":"a","page":1,"position":{"x":1,"y":2},"width":3,"height":4,"type":"text"}}`,
		},
		{
			name:     "marker updated",
			notify:   func() { b.MarkerUpdated(marker) },
			wantType: bridge.TypeMarkerUpdated,
			want:     `{"marker":{"id":"a","page":1,"position":{"x":1,"y":2},"width":3,"height":4,"type":"text"}}`,
		},
		{
			name: "overlay",
			notify: func() {
				b.OverlayChanged(2, []overlay.Element{{ID: "a", Transform: geometry.Transform{TranslateX: 1, TranslateY: 2, Width: 3, Height: 4}}})
			},
			wantType: bridge.TypeOverlay,
			want:     `{"page":2,"elements":[{"id":"a","transform":{"translateX":1,"translateY":2,"width":3,"height":4}}]}`,
		},
		{
			name:     "page before render",
			notify:   func() { b.PageChanged(store.ViewState{CurrentPage: 2, LastValidPage: 2, TotalPages: 3}) },
			wantType: bridge.TypePage,
			want:     `{"current":2,"total":3,"lastValid":2}`,
		},
		{
			name: "page after render",
			notify: func() {
				b.PageChanged(store.ViewState{CurrentPage: 2, LastValidPage: 2, TotalPages: 3, PageReady: true, PageSize: geometry.Size{Width: 300, Height: 200}})
			},
			wantType: bridge.TypePage,
			want:     `{"current":2,"total":3,"lastValid":2,"width":300,"height":200}`,
		},
		{
			name: "raster",
			notify: func() {
				b.RasterReady(render.Raster{Page: 1, Scale: 1.5, Image: image.NewRGBA(image.Rect(0, 0, 6, 3))}, []byte{1, 2})
			},
			wantType: bridge.TypeRaster,
			want:     `{"page":1,"scale":1.5,"width":6,"height":3,"png":"AQI="}`,
		},
		{
			name: "document",
			notify: func() {
				b.DocumentReady(session.Generated{
					Filename: "out.pdf",
					Data:     []byte("%PDF"),
					Uploaded: true,
					Skipped:  []bake.Skip{{MarkerID: "c", Reason: "page"}},
				})
			},
			wantType: bridge.TypeDocument,
			want:     `{"filename":"out.pdf","size":4,"data":"JVBERg==","uploaded":true,"skipped":[{"id":"c","reason":"page"}]}`,
		},
		{
			name:     "error",
			notify:   func() { b.Error("generate", errors.New("no document found")) },
			wantType: bridge.TypeError,
			want:     `{"for":"generate","message":"no document found"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.notify()
			env := host.next(t)
			assert.Equal(t, tt.wantType, env.Type)
			assert.JSONEq(t, tt.want, string(env.Payload))
		})
	}
}

func TestReconnect_ReplaysHello(t *testing.T) {
	host := newFakeHost(t)
	b := connect(t, host, &fakeDispatcher{}, "")

	require.NoError(t, host.conn(0).Close())

	env := host.next(t)
	assert.Equal(t, bridge.TypeHello, env.Type)
	var hello bridge.HelloPayload
	require.NoError(t, json.Unmarshal(env.Payload, &hello))
	assert.Equal(t, testHello.SessionID, hello.SessionID)
	assert.Equal(t, 2, host.connCount())

	b.Error("load", errors.New("boom"))
	env = host.next(t)
	assert.Equal(t, bridge.TypeError, env.Type)
}

func TestSend_DropsWhenQueueFull(t *testing.T) {
	b, err := New(Config{URL: "ws://unused"}, &fakeDispatcher{}, nil)
	require.NoError(t, err)

	for i := 0; i < sendChSize+3; i++ {
		b.Error("load", errors.New("x"))
	}
	assert.Equal(t, 3, b.Dropped())
}
