package session

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/OCAP2/pdfzones/internal/bake"
	"github.com/OCAP2/pdfzones/internal/document"
)

// scheduleBake queues ids for the next re-bake and restarts the debounce
// window. Callers hold mu.
func (s *Session) scheduleBake(ids []string) {
	if len(ids) == 0 || s.closed {
		return
	}
	s.pending.Push(ids...)
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.cfg.Debounce, s.flushPending)
}

func (s *Session) flushPending() {
	if _, _, err := s.FlushBake(s.ctx); err != nil {
		s.logger.Error("Re-bake failed", "error", err)
		s.deps.Notifier.Error("bake", err)
	}
}

// FlushBake runs the pending re-bake now. It reports false when nothing was
// pending or when a Load replaced the document while baking. The baked
// document becomes the displayed one and the current page is rendered again.
func (s *Session) FlushBake(ctx context.Context) (bake.Result, bool, error) {
	s.bakeMu.Lock()
	defer s.bakeMu.Unlock()

	s.mu.Lock()
	ids := s.pending.GetAndEmpty()
	source := s.source.Data
	markers := s.store.Attached()
	s.mu.Unlock()

	if len(ids) == 0 || source == nil {
		return bake.Result{}, false, nil
	}

	s.logger.Debug("Re-baking document", "changed", len(ids), "markers", len(markers))
	res, err := s.deps.Baker.Bake(ctx, source, markers)
	if err != nil {
		return res, true, fmt.Errorf("baking document: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !sameDocument(s.source.Data, source) {
		s.logger.Debug("Discarding bake of a replaced document", "changed", len(ids))
		return bake.Result{}, false, nil
	}
	s.applyBake(res)
	s.startRender(s.store.View().CurrentPage)
	return res, true, nil
}

// Generate bakes the current snapshot immediately, cancelling any pending
// debounced bake, and publishes the document.
func (s *Session) Generate(ctx context.Context, filename string) (Generated, error) {
	s.bakeMu.Lock()
	defer s.bakeMu.Unlock()

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.pending.Clear()
	source := s.source.Data
	markers := s.store.Attached()
	s.mu.Unlock()

	if source == nil {
		return Generated{}, document.ErrNoDocument
	}

	res, err := s.deps.Baker.Bake(ctx, source, markers)
	if err != nil {
		return Generated{}, fmt.Errorf("baking document: %w", err)
	}

	s.mu.Lock()
	if sameDocument(s.source.Data, source) {
		s.applyBake(res)
	}
	s.mu.Unlock()

	gen := Generated{
		Filename: s.defaultFilename(filename),
		Data:     res.Data,
		Skipped:  res.Skipped,
	}

	if s.cfg.OutputDir != "" {
		gen.Path, err = document.Save(s.cfg.OutputDir, gen.Filename, gen.Data)
		if err != nil {
			return gen, err
		}
	}

	if s.deps.Documents.UploadEnabled() {
		if err := s.deps.Documents.Upload(ctx, gen.Filename, gen.Data); err != nil {
			s.logger.Warn("Document upload failed", "filename", gen.Filename, "error", err)
		} else {
			gen.Uploaded = true
		}
	}

	s.logger.Info("Document generated",
		"filename", gen.Filename,
		"size", humanize.Bytes(uint64(len(gen.Data))),
		"drawn", res.Drawn,
		"skipped", len(res.Skipped),
		"path", gen.Path,
		"uploaded", gen.Uploaded)

	s.deps.Notifier.DocumentReady(gen)
	return gen, nil
}

// applyBake records a finished bake and evicts cached images no marker uses
// any more. Callers hold mu.
func (s *Session) applyBake(res bake.Result) {
	s.current = res.Data
	s.lastBake = res
	s.bakes.Inc()

	keep := make(map[string]bool)
	for _, m := range s.store.Attached() {
		if src := m.Image.Source(); src != "" {
			keep[src] = true
		}
	}
	if evicted := s.deps.Images.Retain(keep); evicted > 0 {
		s.logger.Debug("Evicted unused images", "count", evicted)
	}

	for _, skip := range res.Skipped {
		s.logger.Warn("Marker skipped during bake", "id", skip.MarkerID, "reason", skip.Reason, "error", skip.Err)
	}
}

// sameDocument reports whether a and b are the same source buffer. A Load
// always installs a new buffer, so equal contents are not enough.
func sameDocument(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}
