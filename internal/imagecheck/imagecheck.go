// Package imagecheck decides whether a byte buffer holds a decodable image.
//
// Only decodability matters to callers; dimensions and format are reported
// for logging but never used to rank candidates.
package imagecheck

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	// registered decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "github.com/sergeymakinen/go-ico"
	_ "github.com/sergeymakinen/go-ico/cur"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultMaxPixels bounds width*height before a full decode is attempted.
const DefaultMaxPixels = 4096 * 4096

var (
	ErrEmpty    = errors.New("empty image data")
	ErrTooLarge = errors.New("image dimensions too large")
)

// Validator is the boolean gate used during discovery.
type Validator interface {
	IsDecodableImage(b []byte) bool
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(b []byte) bool

// IsDecodableImage calls f(b).
func (f ValidatorFunc) IsDecodableImage(b []byte) bool { return f(b) }

// Decoder validates by fully decoding the buffer with the registered image
// formats: PNG, GIF, JPEG, BMP, TIFF, WebP, ICO and CUR.
type Decoder struct {
	// MaxPixels caps width*height. Zero means DefaultMaxPixels.
	MaxPixels int
}

// IsDecodableImage reports whether Decode succeeds.
func (d Decoder) IsDecodableImage(b []byte) bool {
	_, err := d.Inspect(b)
	return err == nil
}

// Info describes a successfully decoded image.
type Info struct {
	Format string
	Width  int
	Height int
}

// Inspect decodes b and returns its format and size.
func (d Decoder) Inspect(b []byte) (Info, error) {
	if len(b) == 0 {
		return Info{}, ErrEmpty
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return Info{}, fmt.Errorf("decode config: %w", err)
	}
	limit := d.MaxPixels
	if limit <= 0 {
		limit = DefaultMaxPixels
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Info{}, fmt.Errorf("%s: empty dimensions %dx%d", format, cfg.Width, cfg.Height)
	}
	if cfg.Width > limit/cfg.Height {
		return Info{}, fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}
	img, format, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return Info{}, fmt.Errorf("decode %s: %w", format, err)
	}
	r := img.Bounds()
	return Info{Format: format, Width: r.Dx(), Height: r.Dy()}, nil
}
