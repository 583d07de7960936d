//go:build !tflite

package inference

import "errors"

// NewTFLite is unavailable without the TensorFlow Lite C library.
func NewTFLite(_ string, _, _ int) (Engine, error) {
	return nil, errors.New("to enable TFLite, run `go build -tags tflite` with the TensorFlow Lite C library installed")
}
