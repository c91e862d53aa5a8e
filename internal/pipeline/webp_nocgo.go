//go:build !cgo

package pipeline

import (
	"fmt"
	"image"
	"io"
)

const webpEncodeAvailable = false

func encodeWebP(_ io.Writer, _ image.Image, _ int) error {
	return fmt.Errorf("webp export requires cgo: %w", ErrFormatUnavailable)
}
