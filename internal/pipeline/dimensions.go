package pipeline

import "math"

// TargetDimensions computes output dimensions for a source image.
//
// With a scale ratio the source is scaled by that ratio regardless of the
// bounds, upscaling included. Without one the image is fit inside
// maxW x maxH preserving aspect ratio; sources that already fit are passed
// through at their original size. Both results are always at least 1.
func TargetDimensions(srcW, srcH, maxW, maxH int, scaleRatio *float64) (int, int) {
	if srcW < 1 || srcH < 1 {
		return 1, 1
	}

	if scaleRatio != nil {
		r := *scaleRatio
		return atLeastOne(math.Round(float64(srcW) * r)), atLeastOne(math.Round(float64(srcH) * r))
	}

	if maxW < 1 {
		maxW = 1
	}
	if maxH < 1 {
		maxH = 1
	}

	scale := math.Min(float64(maxW)/float64(srcW), float64(maxH)/float64(srcH))
	if scale >= 1 {
		return srcW, srcH
	}

	w := clamp(atLeastOne(math.Round(float64(srcW)*scale)), 1, maxW)
	h := clamp(atLeastOne(math.Round(float64(srcH)*scale)), 1, maxH)
	return w, h
}

func atLeastOne(v float64) int {
	if math.IsNaN(v) || v < 1 {
		return 1
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
