//go:build cgo

package pipeline

import (
	"image"
	"io"

	"github.com/chai2010/webp"
)

const webpEncodeAvailable = true

func encodeWebP(w io.Writer, img image.Image, quality int) error {
	return webp.Encode(w, img, &webp.Options{Quality: float32(quality)})
}
