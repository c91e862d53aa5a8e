package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTargetDimensionsFitsWithinBounds(t *testing.T) {
	sizes := []int{1, 3, 10, 99, 640, 1000, 1920, 4000}
	bounds := []int{1, 7, 100, 800, 1080, 5000}

	for _, sw := range sizes {
		for _, sh := range sizes {
			for _, mw := range bounds {
				for _, mh := range bounds {
					tw, th := TargetDimensions(sw, sh, mw, mh, nil)

					assert.GreaterOrEqual(t, tw, 1)
					assert.GreaterOrEqual(t, th, 1)
					assert.LessOrEqual(t, tw, max(mw, sw), "no upscaling beyond source")
					if sw > mw || sh > mh {
						assert.LessOrEqual(t, tw, mw, "src=%dx%d max=%dx%d", sw, sh, mw, mh)
						assert.LessOrEqual(t, th, mh, "src=%dx%d max=%dx%d", sw, sh, mw, mh)
					} else {
						assert.Equal(t, sw, tw)
						assert.Equal(t, sh, th)
					}

					// Aspect ratio holds within one pixel on at least one axis.
					hErr := math.Abs(float64(th) - float64(tw)*float64(sh)/float64(sw))
					wErr := math.Abs(float64(tw) - float64(th)*float64(sw)/float64(sh))
					assert.True(t, hErr <= 1 || wErr <= 1,
						"aspect drift src=%dx%d max=%dx%d got=%dx%d", sw, sh, mw, mh, tw, th)
				}
			}
		}
	}
}

func TestTargetDimensionsScenarios(t *testing.T) {
	cases := []struct {
		name           string
		sw, sh, mw, mh int
		ratio          *float64
		ww, wh         int
	}{
		{"landscape jpeg to 800 box", 4000, 3000, 800, 800, nil, 800, 600},
		{"portrait", 3000, 4000, 800, 800, nil, 600, 800},
		{"small image passes through", 10, 10, 1000, 1000, nil, 10, 10},
		{"exact fit", 800, 600, 800, 600, nil, 800, 600},
		{"height bound", 1000, 1000, 500, 250, nil, 250, 250},
		{"thin strip clamps to one", 1000, 1, 10, 10, nil, 10, 1},
		{"ratio ignores bounds", 200, 100, 10, 10, ptr(0.5), 100, 50},
		{"ratio upscales", 10, 10, 5, 5, ptr(3.0), 30, 30},
		{"ratio rounds", 3, 3, 100, 100, ptr(0.5), 2, 2},
		{"ratio clamps to one", 100, 100, 100, 100, ptr(0.001), 1, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, h := TargetDimensions(tc.sw, tc.sh, tc.mw, tc.mh, tc.ratio)
			assert.Equal(t, tc.ww, w)
			assert.Equal(t, tc.wh, h)
		})
	}
}

func TestTargetDimensionsRatioMatchesRounding(t *testing.T) {
	for _, r := range []float64{0.1, 0.25, 0.333, 0.5, 0.75, 1, 1.5, 2} {
		for _, sw := range []int{7, 64, 333, 1024} {
			sh := sw*2 + 1
			w, h := TargetDimensions(sw, sh, 1, 1, &r)
			assert.Equal(t, max(1, int(math.Round(float64(sw)*r))), w)
			assert.Equal(t, max(1, int(math.Round(float64(sh)*r))), h)
		}
	}
}
