package bake

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"codeberg.org/go-pdf/fpdf"
	"codeberg.org/go-pdf/fpdf/contrib/gofpdi"

	"github.com/OCAP2/pdfzones/internal/cache"
	"github.com/OCAP2/pdfzones/internal/geometry"
)

// ErrNoPages is returned when the source document yields no importable page.
var ErrNoPages = errors.New("source document has no pages")

// pdfWriter rebuilds a source document page by page with fpdf, importing
// every source page as a template and drawing on top of it.
type pdfWriter struct {
	pdf      *fpdf.Fpdf
	importer *gofpdi.Importer
	source   io.ReadSeeker
	sizes    map[int]map[string]map[string]float64
	first    int
	tr       func(string) string
	images   map[string]string

	// metrics measures text. It never gets a page, so its font changes
	// write nothing into the output.
	metrics *fpdf.Fpdf
}

// openPDF imports the first page of source, which also yields the size of
// every page. gofpdi panics on malformed input.
func openPDF(source []byte) (w *pdfWriter, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("importing source document: %v", r)
		}
	}()

	w = &pdfWriter{
		pdf:      fpdf.New("P", "pt", "A4", ""),
		metrics:  fpdf.New("P", "pt", "A4", ""),
		importer: gofpdi.NewImporter(),
		source:   bytes.NewReader(source),
		images:   make(map[string]string),
	}
	w.pdf.SetMargins(0, 0, 0)
	w.pdf.SetAutoPageBreak(false, 0)
	w.pdf.SetCreator("pdfzones", false)
	w.tr = w.pdf.UnicodeTranslatorFromDescriptor("")

	w.first = w.importer.ImportPageFromStream(w.pdf, &w.source, 1, "/MediaBox")
	w.sizes = w.importer.GetPageSizes()
	if len(w.sizes) == 0 {
		return nil, ErrNoPages
	}
	if err := w.pdf.Error(); err != nil {
		return nil, fmt.Errorf("importing source document: %w", err)
	}
	return w, nil
}

func (w *pdfWriter) pageCount() int {
	return len(w.sizes)
}

// pageSize returns the MediaBox size of a source page.
func (w *pdfWriter) pageSize(n int) geometry.Size {
	box := w.sizes[n]["/MediaBox"]
	return geometry.Size{Width: box["w"], Height: box["h"]}
}

// addPage appends source page n to the output. Drawing calls that follow go
// onto this page.
func (w *pdfWriter) addPage(n int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("importing page %d: %v", n, r)
		}
	}()

	size := w.pageSize(n)
	w.pdf.AddPageFormat("P", fpdf.SizeType{Wd: size.Width, Ht: size.Height})
	tpl := w.first
	if n > 1 {
		tpl = w.importer.ImportPageFromStream(w.pdf, &w.source, n, "/MediaBox")
	}
	w.importer.UseImportedTemplate(w.pdf, tpl, 0, 0, size.Width, size.Height)
	return w.pdf.Error()
}

// measurer returns a Measurer for font bound to the writer's font metrics.
func (w *pdfWriter) measurer(font Font) Measurer {
	return fpdfMeasurer{w: w, font: font}
}

func (w *pdfWriter) drawText(layout TextLayout, font Font, pageHeight float64, r, g, b int) error {
	w.pdf.SetFont(font.Family, font.Style, layout.Size)
	w.pdf.SetTextColor(r, g, b)
	for _, line := range layout.Lines {
		if line.Text == "" {
			continue
		}
		w.pdf.Text(line.X, pageHeight-line.Y, w.tr(line.Text))
	}
	return w.takeError()
}

func (w *pdfWriter) drawImage(source string, img cache.Image, box geometry.Rect, p Placement) error {
	name, ok := w.images[source]
	if !ok {
		name = fmt.Sprintf("img%d", len(w.images))
		w.pdf.RegisterImageOptionsReader(name, fpdf.ImageOptions{ImageType: img.Type}, bytes.NewReader(img.Data))
		if err := w.takeError(); err != nil {
			return fmt.Errorf("registering image: %w", err)
		}
		w.images[source] = name
	}

	if p.Clip {
		w.pdf.ClipRect(box.X, box.Y, box.Width, box.Height, false)
	}
	r := p.Rect(box)
	w.pdf.ImageOptions(name, r.X, r.Y, r.Width, r.Height, false,
		fpdf.ImageOptions{ImageType: img.Type, AllowNegativePosition: true}, 0, "")
	if p.Clip {
		w.pdf.ClipEnd()
	}
	return w.takeError()
}

// takeError returns and clears the writer's sticky error so one failed
// marker does not poison the rest of the document.
func (w *pdfWriter) takeError() error {
	err := w.pdf.Error()
	if err != nil {
		w.pdf.ClearError()
	}
	return err
}

func (w *pdfWriter) output() ([]byte, error) {
	var buf bytes.Buffer
	if err := w.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("writing document: %w", err)
	}
	return buf.Bytes(), nil
}

type fpdfMeasurer struct {
	w    *pdfWriter
	font Font
}

func (m fpdfMeasurer) Width(text string, size float64) float64 {
	m.w.metrics.SetFont(m.font.Family, m.font.Style, size)
	return m.w.metrics.GetStringWidth(m.w.tr(text))
}
