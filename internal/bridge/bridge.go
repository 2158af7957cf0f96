// Package bridge connects the editor session to its host over a WebSocket.
// Inbound frames become dispatcher events; session notifications become
// outbound frames.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/OCAP2/pdfzones/internal/cache"
	"github.com/OCAP2/pdfzones/internal/dispatcher"
	"github.com/OCAP2/pdfzones/internal/overlay"
	"github.com/OCAP2/pdfzones/internal/render"
	"github.com/OCAP2/pdfzones/internal/session"
	"github.com/OCAP2/pdfzones/internal/store"
	"github.com/OCAP2/pdfzones/pkg/bridge"
	"github.com/OCAP2/pdfzones/pkg/core"
)

// Config holds host bridge configuration.
type Config struct {
	URL    string
	Secret string
}

// Dispatcher routes inbound commands.
type Dispatcher interface {
	Dispatch(e dispatcher.Event) (any, error)
}

// Bridge is the host connection. It implements session.Notifier.
type Bridge struct {
	conn       *connection
	cfg        Config
	dispatcher Dispatcher
	logger     *slog.Logger

	droppedCount *cache.Counter
	dropped      metric.Int64Counter
}

var _ session.Notifier = (*Bridge)(nil)

// New creates a Bridge. Call Connect to start exchanging messages.
func New(cfg Config, d Dispatcher, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		conn:         newConnection(logger),
		cfg:          cfg,
		dispatcher:   d,
		logger:       logger,
		droppedCount: &cache.Counter{},
	}

	var err error
	b.dropped, err = meter().Int64Counter(
		"bridge.messages.dropped",
		metric.WithDescription("Outbound bridge messages dropped due to a full send queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	b.conn.inbound = b.handle
	b.conn.dropped = func() {
		b.droppedCount.Inc()
		b.dropped.Add(context.Background(), 1)
	}
	return b, nil
}

// Connect dials the host, sends hello and waits for its ack. The hello is
// replayed on every reconnect.
func (b *Bridge) Connect(hello bridge.HelloPayload) error {
	if err := b.conn.dial(b.cfg.URL, b.cfg.Secret); err != nil {
		return err
	}

	data, err := marshalEnvelope(bridge.TypeHello, hello)
	if err != nil {
		return err
	}

	b.conn.mu.Lock()
	b.conn.cachedHello = data
	b.conn.mu.Unlock()

	return b.conn.sendAndWait(data, bridge.TypeHello)
}

// Close disconnects from the host.
func (b *Bridge) Close() error {
	return b.conn.close()
}

// Dropped returns how many outbound messages were discarded so far.
func (b *Bridge) Dropped() int {
	return b.droppedCount.Value()
}

// handle dispatches one inbound frame and answers with ack or error.
func (b *Bridge) handle(data []byte) {
	var env bridge.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		b.logger.Debug("Ignoring malformed bridge frame", "raw", string(data))
		return
	}

	_, err := b.dispatcher.Dispatch(dispatcher.Event{
		Command:   env.Type,
		Payload:   env.Payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		b.Error(env.Type, err)
		return
	}
	b.sendAck(env.Type)
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := bridge.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelope marshals the payload into an Envelope and pushes it
// to the write loop (fire-and-forget).
func (b *Bridge) sendEnvelope(msgType string, payload any) {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		b.logger.Error("Dropping unencodable bridge message", "type", msgType, "error", err)
		return
	}
	b.conn.send(data)
}

func (b *Bridge) sendAck(msgType string) {
	data, err := json.Marshal(bridge.AckMessage{Type: bridge.TypeAck, For: msgType})
	if err != nil {
		return
	}
	b.conn.send(data)
}

// SelectionChanged implements session.Notifier.
func (b *Bridge) SelectionChanged(m *core.Marker) {
	b.sendEnvelope(bridge.TypeSelection, bridge.SelectionPayload{Marker: m})
}

// MarkerUpdated implements session.Notifier.
func (b *Bridge) MarkerUpdated(m core.Marker) {
	b.sendEnvelope(bridge.TypeMarkerUpdated, bridge.MarkerUpdatedPayload{Marker: m})
}

// OverlayChanged implements session.Notifier.
func (b *Bridge) OverlayChanged(page int, elements []overlay.Element) {
	out := make([]bridge.Element, len(elements))
	for i, el := range elements {
		out[i] = bridge.Element{ID: el.ID, Transform: el.Transform}
	}
	b.sendEnvelope(bridge.TypeOverlay, bridge.OverlayPayload{Page: page, Elements: out})
}

// PageChanged implements session.Notifier.
func (b *Bridge) PageChanged(view store.ViewState) {
	p := bridge.PagePayload{
		Current:   view.CurrentPage,
		Total:     view.TotalPages,
		LastValid: view.LastValidPage,
	}
	if view.PageReady {
		p.Width = view.PageSize.Width
		p.Height = view.PageSize.Height
	}
	b.sendEnvelope(bridge.TypePage, p)
}

// RasterReady implements session.Notifier.
func (b *Bridge) RasterReady(r render.Raster, png []byte) {
	bounds := r.Image.Bounds()
	b.sendEnvelope(bridge.TypeRaster, bridge.RasterPayload{
		Page:   r.Page,
		Scale:  r.Scale,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		PNG:    png,
	})
}

// DocumentReady implements session.Notifier.
func (b *Bridge) DocumentReady(doc session.Generated) {
	skipped := make([]bridge.SkippedMarker, len(doc.Skipped))
	for i, s := range doc.Skipped {
		skipped[i] = bridge.SkippedMarker{ID: s.MarkerID, Reason: s.Reason}
	}
	b.sendEnvelope(bridge.TypeDocument, bridge.DocumentPayload{
		Filename: doc.Filename,
		Size:     len(doc.Data),
		Data:     doc.Data,
		Path:     doc.Path,
		Uploaded: doc.Uploaded,
		Skipped:  skipped,
	})
}

// Error implements session.Notifier.
func (b *Bridge) Error(command string, err error) {
	b.sendEnvelope(bridge.TypeError, bridge.ErrorPayload{For: command, Message: err.Error()})
}
