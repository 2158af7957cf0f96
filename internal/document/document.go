// Package document locates, fetches and inspects the source PDF and hands
// generated documents back out.
package document

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/go-pdf/fpdf"
	"github.com/dustin/go-humanize"
	"github.com/ledongthuc/pdf"

	"github.com/OCAP2/pdfzones/internal/geometry"
)

// A4 is the size of the blank fallback page in points.
var A4 = geometry.Size{Width: 595.28, Height: 841.89}

const maxDocumentBytes = 256 << 20

// ErrNoDocument is returned when no PDF can be found for a document URL.
var ErrNoDocument = errors.New("no document found")

// Document is a loaded source PDF.
type Document struct {
	Data  []byte
	Pages []geometry.Size
	// URL is where the bytes came from, empty for the blank fallback.
	URL string
}

// Blank reports whether the document is the generated fallback.
func (d Document) Blank() bool {
	return d.URL == ""
}

// PageCount returns the number of pages.
func (d Document) PageCount() int {
	return len(d.Pages)
}

// PageSize returns the size of the 1-based page n.
func (d Document) PageSize(n int) (geometry.Size, bool) {
	if n < 1 || n > len(d.Pages) {
		return geometry.Size{}, false
	}
	return d.Pages[n-1], true
}

// Client talks to the asset host serving source documents and to the
// optional upload endpoint for generated ones.
type Client struct {
	uploadURL  string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a new document client.
func New(timeout time.Duration, uploadURL, apiKey string, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		uploadURL:  uploadURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Load resolves url to a PDF and inspects it. Any failure along the way
// falls back to a blank one-page document, so Load only fails if even that
// cannot be produced.
func (c *Client) Load(ctx context.Context, url string) (Document, error) {
	if url != "" {
		doc, err := c.load(ctx, url)
		if err == nil {
			c.logger.Info("Document loaded",
				"url", doc.URL,
				"pages", doc.PageCount(),
				"size", humanize.Bytes(uint64(len(doc.Data))))
			return doc, nil
		}
		c.logger.Warn("Falling back to blank document", "url", url, "error", err)
	}

	data, err := Blank()
	if err != nil {
		return Document{}, err
	}
	return Document{Data: data, Pages: []geometry.Size{A4}}, nil
}

func (c *Client) load(ctx context.Context, url string) (Document, error) {
	pdfURL, err := c.Discover(ctx, url)
	if err != nil {
		return Document{}, err
	}
	data, err := c.Fetch(ctx, pdfURL)
	if err != nil {
		return Document{}, err
	}
	pages, err := Inspect(data)
	if err != nil {
		return Document{}, err
	}
	return Document{Data: data, Pages: pages, URL: pdfURL}, nil
}

// Discover reads the extract-content listing published next to url and
// returns the address of the first PDF in it.
func (c *Client) Discover(ctx context.Context, url string) (string, error) {
	body, err := c.get(ctx, url+".extract-content.json", 1<<20)
	if err != nil {
		return "", fmt.Errorf("reading content listing: %w", err)
	}

	var files []string
	if err := json.Unmarshal(body, &files); err != nil {
		return "", fmt.Errorf("decoding content listing: %w", err)
	}
	for _, f := range files {
		if strings.HasSuffix(f, ".pdf") {
			return url + f + "?no_redirect", nil
		}
	}
	return "", fmt.Errorf("%w in listing for %s", ErrNoDocument, url)
}

// Fetch downloads the bytes at url.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	data, err := c.get(ctx, url, maxDocumentBytes)
	if err != nil {
		return nil, fmt.Errorf("fetching document: %w", err)
	}
	return data, nil
}

func (c *Client) get(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}

// Blank generates an empty one-page A4 document.
func Blank() ([]byte, error) {
	doc := fpdf.New("P", "pt", "A4", "")
	doc.SetCreator("pdfzones", false)
	doc.AddPage()

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("generating blank document: %w", err)
	}
	return buf.Bytes(), nil
}

// Inspect returns the MediaBox size of every page. The PDF reader panics on
// malformed input, which is reported as an error.
func Inspect(data []byte) (sizes []geometry.Size, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reading document: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	n := r.NumPage()
	if n == 0 {
		return nil, fmt.Errorf("reading document: %w", ErrNoDocument)
	}

	sizes = make([]geometry.Size, 0, n)
	for i := 1; i <= n; i++ {
		sizes = append(sizes, mediaBox(r.Page(i)))
	}
	return sizes, nil
}

// mediaBox walks up the page tree since MediaBox is inheritable.
func mediaBox(p pdf.Page) geometry.Size {
	for v := p.V; !v.IsNull(); v = v.Key("Parent") {
		box := v.Key("MediaBox")
		if box.Kind() != pdf.Array || box.Len() != 4 {
			continue
		}
		w := box.Index(2).Float64() - box.Index(0).Float64()
		h := box.Index(3).Float64() - box.Index(1).Float64()
		if w < 0 {
			w = -w
		}
		if h < 0 {
			h = -h
		}
		return geometry.Size{Width: w, Height: h}
	}
	return A4
}

// Save writes a generated document into dir and returns its path.
func Save(dir, filename string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write document: %w", err)
	}
	return path, nil
}

// UploadEnabled reports whether an upload endpoint is configured.
func (c *Client) UploadEnabled() bool {
	return c.uploadURL != ""
}

// Upload posts a generated document to the configured endpoint.
func (c *Client) Upload(ctx context.Context, filename string, data []byte) error {
	if c.uploadURL == "" {
		return errors.New("no upload endpoint configured")
	}

	// Create multipart form
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	// Write form fields and file in goroutine
	errCh := make(chan error, 1)
	go func() {
		defer pw.Close()
		defer writer.Close()

		_ = writer.WriteField("secret", c.apiKey)
		_ = writer.WriteField("filename", filename)

		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			errCh <- fmt.Errorf("failed to create form file: %w", err)
			return
		}
		if _, err := part.Write(data); err != nil {
			errCh <- fmt.Errorf("failed to copy file: %w", err)
			return
		}
		errCh <- nil
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, pr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	// Check goroutine error
	if writeErr := <-errCh; writeErr != nil {
		return writeErr
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload returned status %d", resp.StatusCode)
	}
	c.logger.Info("Document uploaded", "filename", filename, "size", humanize.Bytes(uint64(len(data))))
	return nil
}
