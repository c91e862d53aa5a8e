package pipeline

import (
	"context"
	"image"

	"github.com/dunamismax/resizeflow/internal/domain"
)

// Raster is a decoded pixel buffer. A Raster belongs to a single Transcode
// call and is never retained by the Transcoder.
type Raster struct {
	Image  image.Image
	Width  int
	Height int
	// ColorModel is a short description of the pixel layout, e.g. "ycbcr" or "nrgba8".
	ColorModel string
	Format     Format
}

func newRaster(img image.Image, format Format) *Raster {
	b := img.Bounds()
	return &Raster{
		Image:      img,
		Width:      b.Dx(),
		Height:     b.Dy(),
		ColorModel: colorModelName(img),
		Format:     format,
	}
}

type Decoder interface {
	// DecodeConfig reads only the header and reports the source dimensions.
	DecodeConfig(ctx context.Context, data []byte, format Format) (width, height int, err error)
	Decode(ctx context.Context, data []byte, format Format) (*Raster, error)
}

type Resampler interface {
	Resample(ctx context.Context, src *Raster, width, height int, algorithm domain.ResizeAlgorithm) (*Raster, error)
}

type Encoder interface {
	Encode(ctx context.Context, src *Raster, format Format, quality *float64) ([]byte, error)
}

// Codec bundles the decode and encode capabilities of one imaging backend.
type Codec interface {
	Decoder
	Encoder
}

func colorModelName(img image.Image) string {
	switch m := img.(type) {
	case *image.RGBA:
		return "rgba8"
	case *image.RGBA64:
		return "rgba16"
	case *image.NRGBA:
		return "nrgba8"
	case *image.NRGBA64:
		return "nrgba16"
	case *image.Gray:
		return "gray8"
	case *image.Gray16:
		return "gray16"
	case *image.YCbCr:
		return "ycbcr " + m.SubsampleRatio.String()
	case *image.NYCbCrA:
		return "nycbcra " + m.SubsampleRatio.String()
	case *image.Paletted:
		return "paletted"
	case *image.CMYK:
		return "cmyk"
	case *image.Alpha:
		return "alpha8"
	default:
		return "unknown"
	}
}
