package bake

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/OCAP2/pdfzones/internal/cache"
)

const maxImageBytes = 32 << 20

var (
	// ErrUnsupportedImage is returned for image data the PDF writer cannot embed.
	ErrUnsupportedImage = errors.New("unsupported image type")
	// ErrNoImageSource is returned for image markers without a source.
	ErrNoImageSource = errors.New("image marker has no source")
)

// Fetcher loads marker images over HTTP or from data URIs and normalises
// them for embedding. Results are kept in the image cache.
type Fetcher struct {
	client  *http.Client
	cache   *cache.ImageCache
	timeout time.Duration
	group   singleflight.Group
	logger  *slog.Logger
}

// NewFetcher creates a Fetcher. A nil client uses http.DefaultClient.
func NewFetcher(client *http.Client, images *cache.ImageCache, timeout time.Duration, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if images == nil {
		images = cache.NewImageCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, cache: images, timeout: timeout, logger: logger}
}

// Cache returns the image cache backing the fetcher.
func (f *Fetcher) Cache() *cache.ImageCache {
	return f.cache
}

// Fetch returns the normalised image for source, from cache when possible.
// Concurrent calls for the same source share one download.
func (f *Fetcher) Fetch(ctx context.Context, source string) (cache.Image, error) {
	if source == "" {
		return cache.Image{}, ErrNoImageSource
	}
	if img, ok := f.cache.Get(source); ok {
		return img, nil
	}

	v, err, _ := f.group.Do(source, func() (any, error) {
		if f.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, f.timeout)
			defer cancel()
		}
		data, contentType, err := f.load(ctx, source)
		if err != nil {
			return cache.Image{}, err
		}
		img, err := Normalize(data, contentType)
		if err != nil {
			return cache.Image{}, err
		}
		f.cache.Set(source, img)
		return img, nil
	})
	if err != nil {
		return cache.Image{}, err
	}
	return v.(cache.Image), nil
}

// Prefetch fetches all sources with at most limit downloads in flight and
// returns the failures by source. A failed image never stops the others.
func (f *Fetcher) Prefetch(ctx context.Context, sources []string, limit int) map[string]error {
	var (
		mu     sync.Mutex
		failed = make(map[string]error)
		seen   = make(map[string]bool, len(sources))
	)

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, source := range sources {
		if seen[source] {
			continue
		}
		seen[source] = true
		g.Go(func() error {
			if _, err := f.Fetch(ctx, source); err != nil {
				mu.Lock()
				failed[source] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

func (f *Fetcher) load(ctx context.Context, source string) ([]byte, string, error) {
	if strings.HasPrefix(source, "data:") {
		return decodeDataURI(source)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating image request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetching image: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", fmt.Errorf("reading image: %w", err)
	}
	f.logger.Debug("Image fetched", "source", source, "bytes", len(data))
	return data, resp.Header.Get("Content-Type"), nil
}

// decodeDataURI handles data:[<mediatype>][;base64],<data>.
func decodeDataURI(uri string) ([]byte, string, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, "", errors.New("malformed data URI")
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		data, err := url.PathUnescape(payload)
		if err != nil {
			return nil, "", fmt.Errorf("decoding data URI: %w", err)
		}
		return []byte(data), mediaType, nil
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, "", fmt.Errorf("decoding data URI: %w", err)
		}
	}
	return data, mediaType, nil
}

// Normalize turns raw image bytes into something the PDF writer embeds.
// The declared content type is trusted unless it is missing or generic, in
// which case the bytes are sniffed. JPEG passes through untouched; PNG, GIF,
// WebP, BMP and TIFF are decoded and re-encoded as 8-bit PNG.
func Normalize(data []byte, contentType string) (cache.Image, error) {
	mt := ""
	if contentType != "" {
		if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
			mt = parsed
		}
	}
	if mt == "" || !strings.HasPrefix(mt, "image/") {
		mt = mimetype.Detect(data).String()
	}

	switch mt {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return cache.Image{}, fmt.Errorf("decoding jpeg: %w", err)
		}
		return cache.Image{Data: data, Type: "JPG", Width: cfg.Width, Height: cfg.Height}, nil
	case "image/png", "image/gif", "image/webp", "image/bmp", "image/x-ms-bmp", "image/tiff":
		src, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return cache.Image{}, fmt.Errorf("decoding %s: %w", mt, err)
		}
		return encodePNG(src)
	default:
		return cache.Image{}, fmt.Errorf("%w: %s", ErrUnsupportedImage, mt)
	}
}

func encodePNG(src image.Image) (cache.Image, error) {
	b := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return cache.Image{}, fmt.Errorf("encoding png: %w", err)
	}
	return cache.Image{Data: buf.Bytes(), Type: "PNG", Width: b.Dx(), Height: b.Dy()}, nil
}
