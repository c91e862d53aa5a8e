package pipeline

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatGIF  Format = "gif"
	FormatWebP Format = "webp"
	FormatBMP  Format = "bmp"
	FormatTIFF Format = "tiff"
	FormatAVIF Format = "avif"
)

// DefaultOutputFormat is used when the requested mime type is empty or unknown.
const DefaultOutputFormat = FormatPNG

// sourceSignatures maps sniffed MIME types to source formats.
var sourceSignatures = []struct {
	mime   string
	format Format
}{
	{"image/png", FormatPNG},
	{"image/jpeg", FormatJPEG},
	{"image/gif", FormatGIF},
	{"image/webp", FormatWebP},
	{"image/bmp", FormatBMP},
	{"image/tiff", FormatTIFF},
	{"image/avif", FormatAVIF},
}

var outputFormats = map[string]Format{
	"image/png":  FormatPNG,
	"image/jpeg": FormatJPEG,
	"image/webp": FormatWebP,
	"image/gif":  FormatGIF,
	"image/avif": FormatAVIF,
}

var contentTypes = map[Format]string{
	FormatPNG:  "image/png",
	FormatJPEG: "image/jpeg",
	FormatGIF:  "image/gif",
	FormatWebP: "image/webp",
	FormatBMP:  "image/bmp",
	FormatTIFF: "image/tiff",
	FormatAVIF: "image/avif",
}

// DetectFormat identifies the container of data from its magic bytes.
func DetectFormat(data []byte) (Format, error) {
	if len(data) == 0 {
		return "", ErrUnrecognizedFormat
	}

	// Walk the parent chain so variants such as APNG resolve to their base format.
	for mt := mimetype.Detect(data); mt != nil; mt = mt.Parent() {
		for _, sig := range sourceSignatures {
			if mt.Is(sig.mime) {
				return sig.format, nil
			}
		}
	}
	return "", ErrUnrecognizedFormat
}

// SelectOutputFormat maps a requested mime type to an output format. The
// boolean result is true when the value was not recognized and the default
// was substituted.
func SelectOutputFormat(mimeType string) (Format, bool) {
	key := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(key, ';'); i >= 0 {
		key = strings.TrimSpace(key[:i])
	}
	if format, ok := outputFormats[key]; ok {
		return format, false
	}
	return DefaultOutputFormat, true
}

func (f Format) ContentType() string {
	if ct, ok := contentTypes[f]; ok {
		return ct
	}
	return contentTypes[DefaultOutputFormat]
}

func (f Format) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	if _, ok := contentTypes[f]; !ok {
		return string(DefaultOutputFormat)
	}
	return string(f)
}

func (f Format) String() string {
	return string(f)
}
