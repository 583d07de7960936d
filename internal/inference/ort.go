// internal/inference/ort.go
package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ORTOptions configures the onnxruntime engine.
type ORTOptions struct {
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// platform default lookup.
	LibraryPath string
	// ImageSize replaces dynamic spatial dimensions in the model input.
	ImageSize int
}

// ORT wraps an ONNX runtime session for thread-safe inference.
// It implements the Engine interface.
type ORT struct {
	mu          sync.Mutex
	session     *ort.DynamicAdvancedSession
	input       InputSpec
	outputShape ort.Shape
	scores      int
	closed      bool
}

// NewORT creates a new ORT engine by loading the ONNX model from modelPath.
// Input and output names and shapes are read from the model itself.
func NewORT(modelPath string, opts ORTOptions) (*ORT, error) {
	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}

	// Initialize the ONNX runtime environment
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	engine, err := newORTSession(modelPath, opts)
	if err != nil {
		return nil, errors.Join(err, ort.DestroyEnvironment())
	}
	return engine, nil
}

func newORTSession(modelPath string, opts ORTOptions) (*ORT, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model inputs and outputs: %w", err)
	}
	if len(inputs) != 1 || len(outputs) == 0 {
		return nil, fmt.Errorf("expected one image input and at least one output, got %d inputs and %d outputs",
			len(inputs), len(outputs))
	}
	if inputs[0].DataType != ort.TensorElementDataTypeFloat {
		return nil, fmt.Errorf("input %q must be float32, got %v", inputs[0].Name, inputs[0].DataType)
	}
	if outputs[0].DataType != ort.TensorElementDataTypeFloat {
		return nil, fmt.Errorf("output %q must be float32, got %v", outputs[0].Name, outputs[0].DataType)
	}

	spec, err := specFromDims(inputs[0].Dimensions, opts.ImageSize)
	if err != nil {
		return nil, err
	}

	// Dynamic output dims can only be the batch axis for a classifier head
	outputDims := make([]int64, len(outputs[0].Dimensions))
	for i, d := range outputs[0].Dimensions {
		if d <= 0 {
			d = 1
		}
		outputDims[i] = d
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		nil, // Use default session options
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ORT{
		session:     session,
		input:       spec,
		outputShape: ort.NewShape(outputDims...),
		scores:      scoresFromDims(outputs[0].Dimensions),
	}, nil
}

// Name implements Engine.
func (e *ORT) Name() string { return "ort" }

// Input implements Engine.
func (e *ORT) Input() InputSpec { return e.input }

// OutputSize implements Engine.
func (e *ORT) OutputSize() int { return e.scores }

// Predict runs the session on a single preprocessed image.
func (e *ORT) Predict(ctx context.Context, t Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkTensor(e.input, t); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, fmt.Errorf("%w: inference session is nil", ErrInference)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(t.Shape...), t.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create input tensor: %w", ErrInference, err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](e.outputShape)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create output tensor: %w", ErrInference, err)
	}
	defer outputTensor.Destroy()

	if err := e.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}

	// The tensor memory is released on return
	out := make([]float32, len(outputTensor.GetData()))
	copy(out, outputTensor.GetData())
	return out, nil
}

// Close releases the ONNX session resources and the runtime environment.
// Calls after the first are no-ops.
func (e *ORT) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	if e.session != nil {
		if err := e.session.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy session: %w", err))
		}
		e.session = nil
	}
	if ort.IsInitialized() {
		errs = append(errs, ort.DestroyEnvironment())
	}
	return errors.Join(errs...)
}

// Ensure ORT implements Engine at compile time
var _ Engine = (*ORT)(nil)
