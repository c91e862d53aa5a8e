package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFormat(t *testing.T) {
	cases := map[Format][]byte{
		FormatPNG:  buildTestPNG(t, 8, 6),
		FormatJPEG: buildTestJPEG(t, 8, 6),
		FormatGIF:  buildTestGIF(t, 8, 6),
		FormatWebP: webpHeader(),
		FormatBMP:  buildTestBMP(t, 8, 6),
		FormatTIFF: buildTestTIFF(t, 8, 6),
	}
	for want, data := range cases {
		t.Run(string(want), func(t *testing.T) {
			got, err := DetectFormat(data)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestDetectFormatRejectsUnknownBytes(t *testing.T) {
	inputs := map[string][]byte{
		"empty":             nil,
		"ten bytes":         []byte("0123456789"),
		"binary noise":      {0x13, 0x37, 0x00, 0xfe, 0x42, 0x99, 0x01, 0x7f, 0x80, 0x22},
		"truncated png sig": []byte("\x89PN"),
		"plain text":        []byte("hello, this is not an image"),
	}
	for name, data := range inputs {
		t.Run(name, func(t *testing.T) {
			_, err := DetectFormat(data)
			assert.ErrorIs(t, err, ErrUnrecognizedFormat)
		})
	}
}

func TestSelectOutputFormat(t *testing.T) {
	cases := []struct {
		mime     string
		want     Format
		fallback bool
	}{
		{"image/png", FormatPNG, false},
		{"image/jpeg", FormatJPEG, false},
		{"image/webp", FormatWebP, false},
		{"image/gif", FormatGIF, false},
		{"image/avif", FormatAVIF, false},
		{" IMAGE/JPEG ", FormatJPEG, false},
		{"image/webp; q=0.9", FormatWebP, false},
		{"", FormatPNG, true},
		{"text/plain", FormatPNG, true},
		{"image/jpg", FormatPNG, true},
		{"image/bmp", FormatPNG, true},
	}
	for _, tc := range cases {
		got, fallback := SelectOutputFormat(tc.mime)
		assert.Equal(t, tc.want, got, "mime=%q", tc.mime)
		assert.Equal(t, tc.fallback, fallback, "mime=%q", tc.mime)
	}
}

func TestFormatContentTypeAndExtension(t *testing.T) {
	assert.Equal(t, "image/webp", FormatWebP.ContentType())
	assert.Equal(t, "image/png", Format("exr").ContentType())
	assert.Equal(t, "jpg", FormatJPEG.Extension())
	assert.Equal(t, "avif", FormatAVIF.Extension())
	assert.Equal(t, "png", Format("").Extension())
}
