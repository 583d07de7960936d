//go:build tflite

// internal/inference/tflite.go
package inference

import (
	"context"
	"fmt"
	"sync"

	"github.com/mattn/go-tflite"
)

// TFLite runs .tflite models through the TensorFlow Lite C API. The
// interpreter is not safe for concurrent use, so calls are serialized.
type TFLite struct {
	mu      sync.Mutex
	model   *tflite.Model
	options *tflite.InterpreterOptions
	interp  *tflite.Interpreter
	input   InputSpec
	scores  int
}

// NewTFLite loads the model at modelPath and allocates its tensors.
func NewTFLite(modelPath string, threads, imageSize int) (*TFLite, error) {
	model := tflite.NewModelFromFile(modelPath)
	if model == nil {
		return nil, fmt.Errorf("failed to load TFLite model from %s", modelPath)
	}

	options := tflite.NewInterpreterOptions()
	if threads > 0 {
		options.SetNumThread(threads)
	}

	interp := tflite.NewInterpreter(model, options)
	if interp == nil {
		options.Delete()
		model.Delete()
		return nil, fmt.Errorf("failed to create TFLite interpreter")
	}

	e := &TFLite{model: model, options: options, interp: interp}
	if status := interp.AllocateTensors(); status != tflite.OK {
		e.Close()
		return nil, fmt.Errorf("failed to allocate tensors: %v", status)
	}

	in := interp.GetInputTensor(0)
	if in.Type() != tflite.Float32 {
		e.Close()
		return nil, fmt.Errorf("input must be float32, got %v", in.Type())
	}
	out := interp.GetOutputTensor(0)
	if out.Type() != tflite.Float32 {
		e.Close()
		return nil, fmt.Errorf("output must be float32, got %v", out.Type())
	}
	outDims := make([]int64, out.NumDims())
	for i := range outDims {
		outDims[i] = int64(out.Dim(i))
	}
	e.scores = scoresFromDims(outDims)

	dims := make([]int64, in.NumDims())
	for i := range dims {
		dims[i] = int64(in.Dim(i))
	}
	spec, err := specFromDims(dims, imageSize)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.input = spec
	return e, nil
}

// Name implements Engine.
func (e *TFLite) Name() string { return "tflite" }

// Input implements Engine.
func (e *TFLite) Input() InputSpec { return e.input }

// OutputSize implements Engine.
func (e *TFLite) OutputSize() int { return e.scores }

// Predict implements Engine.
func (e *TFLite) Predict(ctx context.Context, t Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkTensor(e.input, t); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.interp == nil {
		return nil, fmt.Errorf("%w: interpreter is closed", ErrInference)
	}

	if status := e.interp.GetInputTensor(0).CopyFromBuffer(t.Data); status != tflite.OK {
		return nil, fmt.Errorf("%w: failed to set input tensor: %v", ErrInference, status)
	}
	if status := e.interp.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("%w: invoke: %v", ErrInference, status)
	}

	return append([]float32(nil), e.interp.GetOutputTensor(0).Float32s()...), nil
}

// Close implements Engine.
func (e *TFLite) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.interp != nil {
		e.interp.Delete()
		e.interp = nil
	}
	if e.options != nil {
		e.options.Delete()
		e.options = nil
	}
	if e.model != nil {
		e.model.Delete()
		e.model = nil
	}
	return nil
}

var _ Engine = (*TFLite)(nil)
