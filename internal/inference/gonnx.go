// internal/inference/gonnx.go
package inference

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/advancedclimatesystems/gonnx"
	"gorgonia.org/tensor"
)

// GoNNX runs ONNX models with the pure Go gonnx interpreter. It is slower than
// ORT but needs no shared library, which makes it the fallback runtime.
type GoNNX struct {
	mu         sync.Mutex
	model      *gonnx.Model
	inputName  string
	outputName string
	input      InputSpec
	scores     int
}

// NewGoNNX loads the ONNX model at modelPath into the gonnx interpreter.
func NewGoNNX(modelPath string, imageSize int) (*GoNNX, error) {
	onnxBytes, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}

	model, err := gonnx.NewModelFromBytes(onnxBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ONNX model: %w", err)
	}

	inputNames := model.InputNames()
	outputNames := model.OutputNames()
	if len(inputNames) != 1 || len(outputNames) == 0 {
		return nil, fmt.Errorf("expected one image input and at least one output, got %d inputs and %d outputs",
			len(inputNames), len(outputNames))
	}

	shape := model.InputShapes()[inputNames[0]]
	dims := make([]int64, len(shape))
	for i, d := range shape {
		dims[i] = d.Size
	}

	spec, err := specFromDims(dims, imageSize)
	if err != nil {
		return nil, err
	}

	outShape := model.OutputShape(outputNames[0])
	outDims := make([]int64, len(outShape))
	for i, d := range outShape {
		outDims[i] = d.Size
	}

	return &GoNNX{
		model:      model,
		inputName:  inputNames[0],
		outputName: outputNames[0],
		input:      spec,
		scores:     scoresFromDims(outDims),
	}, nil
}

// Name implements Engine.
func (g *GoNNX) Name() string { return "gonnx" }

// Input implements Engine.
func (g *GoNNX) Input() InputSpec { return g.input }

// OutputSize implements Engine.
func (g *GoNNX) OutputSize() int { return g.scores }

// Predict implements Engine.
func (g *GoNNX) Predict(ctx context.Context, t Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkTensor(g.input, t); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}

	shape := make([]int, len(t.Shape))
	for i, d := range t.Shape {
		shape[i] = int(d)
	}
	backing := make([]float32, len(t.Data))
	copy(backing, t.Data)

	in := tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(shape...),
		tensor.WithBacking(backing),
	)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.model == nil {
		return nil, fmt.Errorf("%w: gonnx model is nil", ErrInference)
	}

	outputs, err := g.model.Run(map[string]tensor.Tensor{g.inputName: in})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}

	out, ok := outputs[g.outputName]
	if !ok {
		return nil, fmt.Errorf("%w: output %q missing from results", ErrInference, g.outputName)
	}

	switch data := out.Data().(type) {
	case []float32:
		return append([]float32(nil), data...), nil
	case float32:
		return []float32{data}, nil
	default:
		return nil, fmt.Errorf("%w: output type %T is not supported", ErrInference, data)
	}
}

// Close implements Engine.
func (g *GoNNX) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.model = nil
	return nil
}

var _ Engine = (*GoNNX)(nil)
