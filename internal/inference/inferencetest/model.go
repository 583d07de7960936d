// Package inferencetest builds small ONNX classifiers for tests. The models
// run on the pure Go gonnx runtime, so no shared library is needed.
package inferencetest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/advancedclimatesystems/gonnx/onnx"
	"google.golang.org/protobuf/proto"
)

const (
	// InputName and OutputName are the graph tensor names of every model.
	InputName  = "image"
	OutputName = "scores"

	opsetVersion = 13
)

var float32Type = onnx.TensorProto_DataType_value["FLOAT"]

// Model describes a linear classifier over a size x size NHWC image:
// Flatten, MatMul with weights of +-1/(size*size*3), then Sigmoid for a
// single output. With Classes >= 2 the raw logits are returned, class 1
// scoring the image brightness and class 0 its negation.
type Model struct {
	Size    int
	Classes int
}

// Bytes serializes the model as an ONNX protobuf.
func (m Model) Bytes() ([]byte, error) {
	return proto.Marshal(m.proto())
}

// Write saves the model under dir and returns its path.
func (m Model) Write(t testing.TB, dir string) string {
	t.Helper()

	b, err := m.Bytes()
	if err != nil {
		t.Fatalf("failed to marshal test model: %v", err)
	}
	path := filepath.Join(dir, "model.onnx")
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("failed to write test model: %v", err)
	}
	return path
}

func (m Model) classes() int {
	if m.Classes < 1 {
		return 1
	}
	return m.Classes
}

func (m Model) proto() *onnx.ModelProto {
	features := m.Size * m.Size * 3
	classes := m.classes()

	weights := make([]float32, features*classes)
	w := 1 / float32(features)
	for i := 0; i < features; i++ {
		if classes == 1 {
			weights[i] = w
			continue
		}
		weights[i*classes] = -w
		weights[i*classes+1] = w
	}

	nodes := []*onnx.NodeProto{
		{Name: "flatten", OpType: "Flatten", Input: []string{InputName}, Output: []string{"flat"}},
		{Name: "dense", OpType: "MatMul", Input: []string{"flat", "weights"}, Output: []string{"logits"}},
	}
	if classes == 1 {
		nodes = append(nodes,
			&onnx.NodeProto{Name: "head", OpType: "Sigmoid", Input: []string{"logits"}, Output: []string{OutputName}})
	} else {
		nodes[1].Output = []string{OutputName}
	}

	return &onnx.ModelProto{
		IrVersion:   8,
		OpsetImport: []*onnx.OperatorSetIdProto{{Version: opsetVersion}},
		Graph: &onnx.GraphProto{
			Name: "firewatch-test",
			Node: nodes,
			Initializer: []*onnx.TensorProto{{
				Name:      "weights",
				DataType:  float32Type,
				Dims:      []int64{int64(features), int64(classes)},
				FloatData: weights,
			}},
			Input:  []*onnx.ValueInfoProto{valueInfo(InputName, 1, int64(m.Size), int64(m.Size), 3)},
			Output: []*onnx.ValueInfoProto{valueInfo(OutputName, 1, int64(classes))},
		},
	}
}

func valueInfo(name string, dims ...int64) *onnx.ValueInfoProto {
	shape := &onnx.TensorShapeProto{}
	for _, d := range dims {
		shape.Dim = append(shape.Dim, &onnx.TensorShapeProto_Dimension{
			Value: &onnx.TensorShapeProto_Dimension_DimValue{DimValue: d},
		})
	}
	return &onnx.ValueInfoProto{
		Name: name,
		Type: &onnx.TypeProto{
			Value: &onnx.TypeProto_TensorType{
				TensorType: &onnx.TypeProto_Tensor{ElemType: float32Type, Shape: shape},
			},
		},
	}
}
