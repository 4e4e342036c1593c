package imageprep

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	// Decoders registered with image.Decode
	_ "image/gif"

	_ "golang.org/x/image/webp"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
)

const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
)

// ErrUnsupportedMIME is returned by Encode for output types it cannot produce
var ErrUnsupportedMIME = errors.New("unsupported output mime type")

// Codec is the set of raster operations the pipeline needs
type Codec interface {
	Decode(data []byte) (image.Image, error)
	Scale(img image.Image, width, height int) image.Image
	Encode(img image.Image, mime string, quality float64) ([]byte, error)
}

// RasterCodec implements Codec with the standard image packages plus
// golang.org/x/image for WEBP input and resampling
type RasterCodec struct {
	// Interpolator defaults to draw.CatmullRom
	Interpolator draw.Interpolator
}

// NewRasterCodec returns a codec with a high quality resampler
func NewRasterCodec() *RasterCodec {
	return &RasterCodec{Interpolator: draw.CatmullRom}
}

// Decode sniffs the content type before handing the bytes to the decoder
// registry, so non-image input fails with a clear message
func (c *RasterCodec) Decode(data []byte) (image.Image, error) {
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("input is %s, not an image", mt.String())
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", mt.String(), err)
	}
	return img, nil
}

// Scale resamples img into a new width x height RGBA raster
func (c *RasterCodec) Scale(img image.Image, width, height int) image.Image {
	interp := c.Interpolator
	if interp == nil {
		interp = draw.CatmullRom
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	interp.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Encode writes img as mime. Quality in [0,1] maps onto the JPEG quality
// scale and is ignored for PNG.
func (c *RasterCodec) Encode(img image.Image, mime string, quality float64) ([]byte, error) {
	var buf bytes.Buffer

	switch mime {
	case MIMEJPEG:
		q := int(math.Round(quality * 100))
		q = max(1, min(q, 100))
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
			return nil, err
		}
	case MIMEPNG:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMIME, mime)
	}

	return buf.Bytes(), nil
}
