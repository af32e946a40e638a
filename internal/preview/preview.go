// Package preview renders downscaled JPEG previews of captured photos.
package preview

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
)

// DefaultSize is the longest preview edge in pixels.
const DefaultSize = 320

// DefaultQuality is the preview JPEG quality.
const DefaultQuality = 80

var ErrEmptyImage = errors.New("preview: empty image data")

// Thumbnail decodes data and returns a JPEG that fits in a size x size box,
// keeping the aspect ratio. Images already smaller are only re-encoded.
func Thumbnail(data []byte, size, quality int) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	if size <= 0 {
		size = DefaultSize
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode photo: %w", err)
	}

	var thumb image.Image = img
	if b := img.Bounds(); b.Dx() > size || b.Dy() > size {
		thumb = imaging.Fit(img, size, size, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

// Renderer caches the preview of the most recent photo by id.
type Renderer struct {
	Size    int
	Quality int

	mu   sync.Mutex
	id   string
	data []byte
}

// NewRenderer returns a Renderer; zero arguments select the defaults.
func NewRenderer(size, quality int) *Renderer {
	return &Renderer{Size: size, Quality: quality}
}

// Render returns the preview for the photo id with bytes data, rendering it
// only when id differs from the cached one.
func (r *Renderer) Render(id string, data []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id != "" && id == r.id {
		return r.data, nil
	}
	out, err := Thumbnail(data, r.Size, r.Quality)
	if err != nil {
		return nil, err
	}
	r.id, r.data = id, out
	return out, nil
}
