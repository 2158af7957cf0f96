package cache

import "sync"

// Image is a fetched image normalised to a format the PDF writer embeds
// directly: JPEG bytes pass through, everything else is re-encoded as PNG.
type Image struct {
	Data   []byte
	Type   string // "PNG" or "JPG"
	Width  int
	Height int
}

// Aspect returns width over height, or 0 for an empty image.
func (i Image) Aspect() float64 {
	if i.Height == 0 {
		return 0
	}
	return float64(i.Width) / float64(i.Height)
}

// ImageCache keeps normalised images by source so re-bakes after a drag do
// not fetch the same bytes again
type ImageCache struct {
	mu     sync.RWMutex
	images map[string]Image
	size   int64
}

// NewImageCache creates an empty ImageCache
func NewImageCache() *ImageCache {
	return &ImageCache{
		images: make(map[string]Image),
	}
}

// Get retrieves an image by source
func (c *ImageCache) Get(source string) (Image, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	img, ok := c.images[source]
	return img, ok
}

// Set stores an image by source
func (c *ImageCache) Set(source string, img Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.images[source]; ok {
		c.size -= int64(len(old.Data))
	}
	c.images[source] = img
	c.size += int64(len(img.Data))
}

// Retain drops every image whose source is not in keep.
func (c *ImageCache) Retain(keep map[string]bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for source, img := range c.images {
		if keep[source] {
			continue
		}
		c.size -= int64(len(img.Data))
		delete(c.images, source)
		dropped++
	}
	return dropped
}

// Len returns the number of cached images
func (c *ImageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}

// Size returns the total number of cached bytes
func (c *ImageCache) Size() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

// Reset clears all images from the cache
func (c *ImageCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.images = make(map[string]Image)
	c.size = 0
}
