// internal/inference/loader.go
package inference

import (
	"errors"
	"fmt"
	"os"
)

// Options selects and configures the runtimes tried by Load.
type Options struct {
	ModelPath     string
	Backends      []string // tried in order: "ort", "gonnx", "tflite"
	ORTLibrary    string
	TFLiteThreads int
	ImageSize     int
}

// Load returns the first engine in opts.Backends that loads the model. When
// none does, the returned error joins every backend's failure.
func Load(opts Options) (Engine, error) {
	if opts.ModelPath == "" {
		return nil, errors.New("model path is empty")
	}
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not available: %w", err)
	}
	if len(opts.Backends) == 0 {
		return nil, errors.New("no inference backends configured")
	}

	var errs []error
	for _, backend := range opts.Backends {
		switch backend {
		case "ort":
			e, err := NewORT(opts.ModelPath, ORTOptions{LibraryPath: opts.ORTLibrary, ImageSize: opts.ImageSize})
			if err != nil {
				errs = append(errs, fmt.Errorf("ort: %w", err))
				continue
			}
			return e, nil
		case "gonnx":
			e, err := NewGoNNX(opts.ModelPath, opts.ImageSize)
			if err != nil {
				errs = append(errs, fmt.Errorf("gonnx: %w", err))
				continue
			}
			return e, nil
		case "tflite":
			e, err := NewTFLite(opts.ModelPath, opts.TFLiteThreads, opts.ImageSize)
			if err != nil {
				errs = append(errs, fmt.Errorf("tflite: %w", err))
				continue
			}
			return e, nil
		default:
			errs = append(errs, fmt.Errorf("unknown backend %q", backend))
		}
	}
	return nil, errors.Join(errs...)
}
