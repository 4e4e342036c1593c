// Package imageprep turns image blobs into size-bounded base64 data URIs
// that can be embedded in a chat message.
package imageprep

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/rs/zerolog"

	"github.com/s33g/oai-relay/internal/llm"
)

var (
	// ErrDecode matches any *DecodeError
	ErrDecode = errors.New("image decode failed")
	// ErrEncode matches any *EncodeError
	ErrEncode = errors.New("image encode failed")
)

// DecodeError reports an input that could not be read or decoded
type DecodeError struct {
	Index int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("image %d: decode: %v", e.Index, e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{ErrDecode, e.Err} }

// EncodeError reports a raster that could not be re-encoded
type EncodeError struct {
	Index int
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("image %d: encode: %v", e.Index, e.Err)
}

func (e *EncodeError) Unwrap() []error { return []error{ErrEncode, e.Err} }

// Options control the output of the pipeline. Zero values take the defaults.
type Options struct {
	MaxWidth int
	MIME     string
	Quality  float64
}

// DefaultOptions returns a 1024px wide JPEG at quality 0.85
func DefaultOptions() Options {
	return Options{
		MaxWidth: 1024,
		MIME:     MIMEJPEG,
		Quality:  0.85,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxWidth <= 0 {
		o.MaxWidth = d.MaxWidth
	}
	if o.MIME == "" {
		o.MIME = d.MIME
	}
	if o.Quality <= 0 || o.Quality > 1 {
		o.Quality = d.Quality
	}
	return o
}

// Converter runs the decode, scale, encode pipeline over a batch of images
type Converter struct {
	codec  Codec
	logger zerolog.Logger
}

// New creates a converter. A nil codec means NewRasterCodec().
func New(codec Codec, logger zerolog.Logger) *Converter {
	if codec == nil {
		codec = NewRasterCodec()
	}
	return &Converter{
		codec:  codec,
		logger: logger.With().Str("component", "imageprep").Logger(),
	}
}

// ToImageParts converts each file into an input_image content part, in
// order. Files are handled one at a time so only a single decoded raster is
// alive at once. The first file that fails aborts the batch.
func (c *Converter) ToImageParts(files []io.Reader, opts Options) ([]llm.ContentPart, error) {
	opts = opts.withDefaults()

	parts := make([]llm.ContentPart, 0, len(files))
	for i, f := range files {
		b64, err := c.encode(i, f, opts)
		if err != nil {
			return nil, err
		}
		parts = append(parts, llm.ImagePart(DataURI(opts.MIME, b64)))
	}

	return parts, nil
}

// EncodeBase64 runs the pipeline for a single file and returns the bare
// base64 payload
func (c *Converter) EncodeBase64(file io.Reader, opts Options) (string, error) {
	return c.encode(0, file, opts.withDefaults())
}

func (c *Converter) encode(index int, file io.Reader, opts Options) (string, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return "", &DecodeError{Index: index, Err: fmt.Errorf("failed to read input: %w", err)}
	}

	img, err := c.codec.Decode(data)
	if err != nil {
		return "", &DecodeError{Index: index, Err: err}
	}

	b := img.Bounds()
	w, h := ScaledSize(b.Dx(), b.Dy(), opts.MaxWidth)
	if w != b.Dx() || h != b.Dy() {
		img = c.codec.Scale(img, w, h)
	}

	out, err := c.codec.Encode(img, opts.MIME, opts.Quality)
	if err != nil {
		return "", &EncodeError{Index: index, Err: err}
	}
	if len(out) == 0 {
		return "", &EncodeError{Index: index, Err: errors.New("encoder produced no data")}
	}

	c.logger.Debug().
		Int("index", index).
		Int("in_bytes", len(data)).
		Int("out_bytes", len(out)).
		Int("width", w).
		Int("height", h).
		Msg("Image prepared")

	return base64.StdEncoding.EncodeToString(out), nil
}

// ScaledSize returns the output dimensions for a width x height image so
// that the width does not exceed maxWidth. Images are never upscaled.
func ScaledSize(width, height, maxWidth int) (int, int) {
	if width <= 0 || height <= 0 {
		return width, height
	}

	scale := math.Min(1, float64(maxWidth)/float64(width))
	w := int(math.Round(float64(width) * scale))
	h := int(math.Round(float64(height) * scale))
	return max(w, 1), max(h, 1)
}

// DataURI wraps a base64 payload as data:{mime};base64,{payload}
func DataURI(mime, b64 string) string {
	return "data:" + mime + ";base64," + b64
}
