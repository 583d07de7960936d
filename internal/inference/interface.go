// internal/inference/interface.go
package inference

import (
	"context"
	"errors"
	"fmt"
)

// ErrInference marks failures raised while running a model. Callers map it to
// a server error.
var ErrInference = errors.New("inference failed")

// Layout is the memory order of the image tensor the model expects.
type Layout int

const (
	// NHWC is (batch, height, width, channels), the Keras/TFLite convention.
	NHWC Layout = iota
	// NCHW is (batch, channels, height, width), common for exported PyTorch models.
	NCHW
)

func (l Layout) String() string {
	if l == NCHW {
		return "NCHW"
	}
	return "NHWC"
}

// InputSpec describes the spatial size and layout of the model input.
type InputSpec struct {
	Width  int
	Height int
	Layout Layout
}

// Shape returns the 4-D tensor shape for a batch of one RGB image.
func (s InputSpec) Shape() []int64 {
	if s.Layout == NCHW {
		return []int64{1, 3, int64(s.Height), int64(s.Width)}
	}
	return []int64{1, int64(s.Height), int64(s.Width), 3}
}

// Tensor is a flattened float32 tensor with its shape.
type Tensor struct {
	Data  []float32
	Shape []int64
}

// Size returns the number of elements implied by Shape.
func (t Tensor) Size() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= int(d)
	}
	return n
}

// Engine defines the interface for running a pretrained image classifier.
// This abstraction allows for easy mocking in tests and swapping runtimes.
type Engine interface {
	// Name identifies the runtime backing the engine, e.g. "ort".
	Name() string

	// Input reports the image size and layout the model was exported with.
	Input() InputSpec

	// OutputSize is the number of scores in the first output, or 0 when the
	// model leaves it dynamic.
	OutputSize() int

	// Predict runs the model on a single image tensor and returns the
	// flattened first output: one score (sigmoid head) or one per class.
	Predict(ctx context.Context, t Tensor) ([]float32, error)

	// Close releases any resources held by the inference engine.
	Close() error
}

// specFromDims derives an InputSpec from a declared 4-D input shape. Dynamic
// spatial dimensions (<= 0) fall back to fallbackSize.
func specFromDims(dims []int64, fallbackSize int) (InputSpec, error) {
	if len(dims) != 4 {
		return InputSpec{}, fmt.Errorf("expected a 4-D image input, got shape %v", dims)
	}

	var spec InputSpec
	var h, w int64
	switch {
	case dims[3] == 3:
		spec.Layout = NHWC
		h, w = dims[1], dims[2]
	case dims[1] == 3:
		spec.Layout = NCHW
		h, w = dims[2], dims[3]
	default:
		return InputSpec{}, fmt.Errorf("cannot find a 3-channel axis in input shape %v", dims)
	}

	spec.Height, spec.Width = int(h), int(w)
	if h <= 0 {
		spec.Height = fallbackSize
	}
	if w <= 0 {
		spec.Width = fallbackSize
	}
	return spec, nil
}

// scoresFromDims counts the scores in a declared output shape. A dynamic
// leading batch axis is ignored; any other dynamic axis makes the count
// unknown (0).
func scoresFromDims(dims []int64) int {
	n := 1
	for i, d := range dims {
		if d <= 0 {
			if i == 0 {
				continue
			}
			return 0
		}
		n *= int(d)
	}
	return n
}

// checkTensor validates a tensor against the spec an engine was loaded with.
func checkTensor(spec InputSpec, t Tensor) error {
	want := spec.Shape()
	if len(t.Shape) != len(want) {
		return fmt.Errorf("input has wrong rank: got %v, expected %v", t.Shape, want)
	}
	for i := range want {
		if t.Shape[i] != want[i] {
			return fmt.Errorf("input has wrong shape: got %v, expected %v", t.Shape, want)
		}
	}
	if len(t.Data) != t.Size() {
		return fmt.Errorf("input has wrong size: got %d, expected %d", len(t.Data), t.Size())
	}
	return nil
}
