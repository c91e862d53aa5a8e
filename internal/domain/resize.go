package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrInvalidConfig = errors.New("invalid resize config")

type ResizeAlgorithm string

const (
	AlgorithmNearest    ResizeAlgorithm = "nearest"
	AlgorithmTriangle   ResizeAlgorithm = "triangle"
	AlgorithmCatmullRom ResizeAlgorithm = "catmull-rom"
	AlgorithmGaussian   ResizeAlgorithm = "gaussian"
	AlgorithmLanczos3   ResizeAlgorithm = "lanczos3"
)

// Algorithms lists every supported resampling algorithm in declaration order.
var Algorithms = []ResizeAlgorithm{
	AlgorithmNearest,
	AlgorithmTriangle,
	AlgorithmCatmullRom,
	AlgorithmGaussian,
	AlgorithmLanczos3,
}

func (a ResizeAlgorithm) Valid() bool {
	for _, known := range Algorithms {
		if a == known {
			return true
		}
	}
	return false
}

// ResizeConfig is the caller-supplied configuration for one transcode call.
// Field names follow the browser host's JSON shape.
type ResizeConfig struct {
	Algorithm  ResizeAlgorithm `json:"algorithm" validate:"required,oneof=nearest triangle catmull-rom gaussian lanczos3"`
	MaxWidth   uint32          `json:"max_width" validate:"gt=0"`
	MaxHeight  uint32          `json:"max_height" validate:"gt=0"`
	ScaleRatio *float64        `json:"scale_ratio,omitempty" validate:"omitempty,gt=0"`
	Quality    *float64        `json:"quality,omitempty" validate:"omitempty,gt=0,lte=100"`
	MimeType   string          `json:"mime_type,omitempty"`
	Debug      *bool           `json:"debug,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c ResizeConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%w: %s", ErrInvalidConfig, describeFieldErrors(fieldErrs))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.ScaleRatio != nil && (math.IsInf(*c.ScaleRatio, 0) || math.IsNaN(*c.ScaleRatio)) {
		return fmt.Errorf("%w: scale_ratio must be finite", ErrInvalidConfig)
	}
	if c.Quality != nil && math.IsNaN(*c.Quality) {
		return fmt.Errorf("%w: quality must be a number", ErrInvalidConfig)
	}
	return nil
}

// DebugEnabled reports whether verbose diagnostics were requested.
func (c ResizeConfig) DebugEnabled() bool {
	return c.Debug != nil && *c.Debug
}

// QualityPercent normalizes Quality to the 1-100 range used by encoders.
// The second result is false when no quality was supplied.
func (c ResizeConfig) QualityPercent() (int, bool) {
	return NormalizeQuality(c.Quality)
}

// NormalizeQuality maps a caller quality to 1-100. Values at or below 1 are
// read as a fraction, the way canvas APIs pass it.
func NormalizeQuality(quality *float64) (int, bool) {
	if quality == nil || math.IsNaN(*quality) {
		return 0, false
	}
	q := *quality
	if q <= 1 {
		q *= 100
	}
	pct := int(math.Round(q))
	if pct < 1 {
		pct = 1
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

func describeFieldErrors(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		field := jsonFieldName(fe.StructField())
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		case "gt":
			parts = append(parts, fmt.Sprintf("%s must be greater than %s", field, fe.Param()))
		case "lte":
			parts = append(parts, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func jsonFieldName(structField string) string {
	switch structField {
	case "MaxWidth":
		return "max_width"
	case "MaxHeight":
		return "max_height"
	case "ScaleRatio":
		return "scale_ratio"
	case "MimeType":
		return "mime_type"
	default:
		return strings.ToLower(structField)
	}
}
