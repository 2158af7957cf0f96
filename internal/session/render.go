package session

import (
	"github.com/OCAP2/pdfzones/internal/geometry"
	"github.com/OCAP2/pdfzones/internal/render"
	"github.com/OCAP2/pdfzones/internal/store"
)

// renderScale is the raster scale for a page: the fit into the container,
// times the device pixel ratio and the maximum zoom so zooming in stays sharp.
func (s *Session) renderScale(page geometry.Size) float64 {
	fit := geometry.FitScale(s.layout.Container.Size(), page)
	if fit <= 0 {
		fit = 1
	}
	return fit * s.cfg.DevicePixelRatio * s.cfg.MaxZoom
}

// startRender rasterizes page in the background. Only the most recently
// started render may apply its result. Callers hold mu.
func (s *Session) startRender(page int) {
	if s.closed {
		return
	}
	size, ok := s.pageSize(page)
	if !ok {
		return
	}
	s.renderSeq++
	seq := s.renderSeq
	job := s.pipeline.Start(s.ctx, page, s.renderScale(size))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.render(seq, page, job)
	}()
}

func (s *Session) render(seq uint64, page int, job *render.Job) {
	raster, outcome, err := job.Run()
	if outcome == render.Superseded {
		return
	}
	if err != nil {
		s.logger.Error("Page render failed", "page", page, "error", err)
		s.deps.Notifier.Error("render", err)
		return
	}

	png, err := render.EncodePNG(raster.Image)
	if err != nil {
		s.logger.Error("Raster encoding failed", "page", page, "error", err)
		s.deps.Notifier.Error("render", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.renderSeq {
		s.staleRasters.Inc()
		s.logger.Debug("Discarding stale raster", "page", page, "seq", seq)
		return
	}
	s.applyRaster(raster, png)
}

// applyRaster makes a completed render current. Its page size becomes valid
// for conversions, any selection is dropped and the overlay is re-placed.
func (s *Session) applyRaster(raster render.Raster, png []byte) {
	size, ok := s.pageSize(raster.Page)
	if !ok {
		return
	}
	view := s.store.SetViewState(store.ViewPatch{PageSize: &size})

	s.deps.Notifier.RasterReady(raster, png)
	s.deps.Notifier.PageChanged(view)

	s.selection.Deselect()
	s.resync()

	if id := s.pendingSelect; id != "" {
		s.pendingSelect = ""
		if !s.selection.Select(id) {
			s.logger.Debug("Pending selection not on rendered page", "id", id, "page", raster.Page)
		}
	}
}
