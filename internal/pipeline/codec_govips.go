//go:build govips && cgo

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
)

// govipsCodec decodes and encodes through libvips, which adds AVIF support.
// Resampling stays on ImagingResampler so kernels match across builds.
type govipsCodec struct {
	fallback stdCodec
}

func (c govipsCodec) DecodeConfig(ctx context.Context, data []byte, format Format) (int, int, error) {
	if _, ok := stdDecoders[format]; ok {
		return c.fallback.DecodeConfig(ctx, data, format)
	}
	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return 0, 0, decodeErr(format, "read header", err)
	}
	defer img.Close()
	return img.Width(), img.Height(), nil
}

func (c govipsCodec) Decode(ctx context.Context, data []byte, format Format) (*Raster, error) {
	if _, ok := stdDecoders[format]; ok {
		return c.fallback.Decode(ctx, data, format)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, decodeErr(format, "malformed image data", err)
	}
	defer img.Close()

	lossless, _, err := img.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, decodeErr(format, "convert to raster", err)
	}
	decoded, err := png.Decode(bytes.NewReader(lossless))
	if err != nil {
		return nil, decodeErr(format, "convert to raster", err)
	}
	return newRaster(decoded, format), nil
}

func (c govipsCodec) Encode(ctx context.Context, src *Raster, format Format, quality *float64) ([]byte, error) {
	switch format {
	case FormatWebP, FormatAVIF:
	default:
		return c.fallback.Encode(ctx, src, format, quality)
	}

	// Hand the raster to libvips as lossless PNG.
	lossless, err := c.fallback.Encode(ctx, src, FormatPNG, nil)
	if err != nil {
		return nil, err
	}
	img, err := vips.NewImageFromBuffer(lossless)
	if err != nil {
		return nil, encodeErr(format, "load raster into vips", err)
	}
	defer img.Close()

	switch format {
	case FormatWebP:
		params := vips.NewWebpExportParams()
		params.Quality = qualityOrDefault(quality, defaultWebPQuality)
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, encodeErr(format, "write webp", err)
		}
		return data, nil
	default:
		params := vips.NewAvifExportParams()
		params.Quality = qualityOrDefault(quality, defaultAVIFQuality)
		data, _, err := img.ExportAvif(params)
		if err != nil {
			return nil, encodeErr(format, fmt.Sprintf("write %s", format), err)
		}
		return data, nil
	}
}
