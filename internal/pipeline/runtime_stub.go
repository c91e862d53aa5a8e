//go:build !govips || !cgo

package pipeline

func Startup() error {
	return nil
}

func Shutdown() {}

func newCodec() Codec {
	return stdCodec{}
}

// AVIFSupported reports whether this build can encode AVIF.
func AVIFSupported() bool {
	return false
}
