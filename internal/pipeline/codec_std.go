package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/resizeflow/internal/domain"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"golang.org/x/image/webp"
)

const (
	defaultJPEGQuality = 80
	defaultWebPQuality = 80
	defaultAVIFQuality = 60
)

type formatDecoder struct {
	decode       func(io.Reader) (image.Image, error)
	decodeConfig func(io.Reader) (image.Config, error)
}

// stdDecoders dispatches decoding on the detected format tag.
var stdDecoders = map[Format]formatDecoder{
	FormatPNG:  {png.Decode, png.DecodeConfig},
	FormatJPEG: {jpeg.Decode, jpeg.DecodeConfig},
	FormatGIF:  {decodeGIF, gif.DecodeConfig},
	FormatWebP: {webp.Decode, webp.DecodeConfig},
	FormatBMP:  {bmp.Decode, bmp.DecodeConfig},
	FormatTIFF: {tiff.Decode, tiff.DecodeConfig},
}

// decodeGIF returns the first frame on the logical screen. Frames that do not
// cover the screen are pasted at their offset onto a transparent canvas.
func decodeGIF(r io.Reader) (image.Image, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, err
	}
	if len(g.Image) == 0 {
		return nil, errors.New("gif has no frames")
	}
	frame := g.Image[0]
	screen := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if screen.Empty() || frame.Bounds() == screen {
		return frame, nil
	}
	canvas := imaging.New(screen.Dx(), screen.Dy(), color.Transparent)
	return imaging.Paste(canvas, frame, frame.Bounds().Min), nil
}

// stdCodec is the pure Go codec backed by golang.org/x/image and
// github.com/disintegration/imaging. WebP output needs cgo and AVIF is
// only available with the govips build.
type stdCodec struct{}

func (stdCodec) DecodeConfig(_ context.Context, data []byte, format Format) (int, int, error) {
	dec, ok := stdDecoders[format]
	if !ok {
		return 0, 0, decodeErr(format, "no decoder", ErrFormatUnavailable)
	}
	cfg, err := dec.decodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, decodeErr(format, "read header", err)
	}
	return cfg.Width, cfg.Height, nil
}

func (stdCodec) Decode(ctx context.Context, data []byte, format Format) (*Raster, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	dec, ok := stdDecoders[format]
	if !ok {
		return nil, decodeErr(format, "no decoder", ErrFormatUnavailable)
	}
	img, err := dec.decode(bytes.NewReader(data))
	if err != nil {
		return nil, decodeErr(format, "malformed image data", err)
	}
	b := img.Bounds()
	if b.Dx() < 1 || b.Dy() < 1 {
		return nil, decodeErr(format, fmt.Sprintf("invalid dimensions %dx%d", b.Dx(), b.Dy()), nil)
	}
	return newRaster(img, format), nil
}

func (stdCodec) Encode(ctx context.Context, src *Raster, format Format, quality *float64) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if src == nil || src.Image == nil {
		return nil, encodeErr(format, "raster is required", nil)
	}

	var buf bytes.Buffer
	switch format {
	case FormatJPEG:
		q := qualityOrDefault(quality, defaultJPEGQuality)
		if err := imaging.Encode(&buf, src.Image, imaging.JPEG, imaging.JPEGQuality(q)); err != nil {
			return nil, encodeErr(format, "write jpeg", err)
		}
	case FormatPNG:
		if err := imaging.Encode(&buf, src.Image, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression)); err != nil {
			return nil, encodeErr(format, "write png", err)
		}
	case FormatGIF:
		if err := imaging.Encode(&buf, src.Image, imaging.GIF, imaging.GIFNumColors(256)); err != nil {
			return nil, encodeErr(format, "write gif", err)
		}
	case FormatWebP:
		if err := encodeWebP(&buf, src.Image, qualityOrDefault(quality, defaultWebPQuality)); err != nil {
			return nil, encodeErr(format, "write webp", err)
		}
	case FormatAVIF:
		return nil, encodeErr(format, "avif export requires govips build tag", ErrFormatUnavailable)
	default:
		return nil, encodeErr(format, "unsupported output format", ErrFormatUnavailable)
	}

	return buf.Bytes(), nil
}

func qualityOrDefault(quality *float64, fallback int) int {
	if q, ok := domain.NormalizeQuality(quality); ok {
		return q
	}
	return fallback
}
