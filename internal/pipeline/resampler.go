package pipeline

import (
	"context"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/resizeflow/internal/domain"
)

// resampleFilters is the exact algorithm-to-kernel table. Output pixels are
// part of the external contract, so entries must not be substituted.
var resampleFilters = map[domain.ResizeAlgorithm]imaging.ResampleFilter{
	domain.AlgorithmNearest:    imaging.NearestNeighbor,
	domain.AlgorithmTriangle:   imaging.Linear,
	domain.AlgorithmCatmullRom: imaging.CatmullRom,
	domain.AlgorithmGaussian:   imaging.Gaussian,
	domain.AlgorithmLanczos3:   imaging.Lanczos,
}

// ImagingResampler resamples with github.com/disintegration/imaging.
type ImagingResampler struct{}

func (ImagingResampler) Resample(ctx context.Context, src *Raster, width, height int, algorithm domain.ResizeAlgorithm) (*Raster, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if src == nil || src.Image == nil {
		return nil, fmt.Errorf("resample: source raster is required")
	}
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: target dimensions %dx%d", ErrInvalidConfig, width, height)
	}

	filter, ok := resampleFilters[algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidConfig, algorithm)
	}

	dst := imaging.Resize(src.Image, width, height, filter)
	return newRaster(dst, src.Format), nil
}
