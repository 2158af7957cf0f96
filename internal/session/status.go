package session

import (
	"log/slog"
	"time"
)

// Status is a point-in-time summary of the session.
type Status struct {
	CurrentPage      int           `json:"currentPage"`
	TotalPages       int           `json:"totalPages"`
	Markers          int           `json:"markers"`
	Selected         int           `json:"selected"`
	PageReady        bool          `json:"pageReady"`
	PendingBake      int           `json:"pendingBake"`
	Bakes            int           `json:"bakes"`
	LastBakeDuration time.Duration `json:"lastBakeDuration"`
	LastBakeSize     int           `json:"lastBakeSize"`
	LastBakeSkipped  int           `json:"lastBakeSkipped"`
	SupersededRender int           `json:"supersededRenders"`
	CachedImages     int           `json:"cachedImages"`
	CachedImageBytes int64         `json:"cachedImageBytes"`
}

// Status reports the current session state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := s.store.View()
	return Status{
		CurrentPage:      view.CurrentPage,
		TotalPages:       view.TotalPages,
		Markers:          s.store.Len(),
		Selected:         len(s.selection.Selection()),
		PageReady:        view.PageReady,
		PendingBake:      s.pending.Len(),
		Bakes:            s.bakes.Value(),
		LastBakeDuration: s.lastBake.Duration,
		LastBakeSize:     len(s.lastBake.Data),
		LastBakeSkipped:  len(s.lastBake.Skipped),
		SupersededRender: s.pipeline.SupersededCount() + s.staleRasters.Value(),
		CachedImages:     s.deps.Images.Len(),
		CachedImageBytes: s.deps.Images.Size(),
	}
}

// LogAttrs returns the attributes added to every log record. It only reads
// the store, which has its own lock, so it is safe to call while mu is held.
func (s *Session) LogAttrs() []slog.Attr {
	view := s.store.View()
	return []slog.Attr{
		slog.Int("page", view.CurrentPage),
		slog.Int("markers", s.store.Len()),
	}
}
