// internal/inference/mock.go
package inference

import (
	"context"
	"fmt"
	"sync"
)

// MockInference is a mock implementation of Engine for testing.
// It returns fixed scores without requiring any model runtime.
type MockInference struct {
	mu sync.Mutex

	// Spec is the input the mock claims to expect
	Spec InputSpec
	// Outputs are the raw scores returned by Predict
	Outputs []float32
	// ShouldError if true, Predict will return an error
	ShouldError bool
	// ErrorMessage is the error message to return when ShouldError is true
	ErrorMessage string
	// CallCount tracks the number of times Predict was called
	CallCount int
	// LastInput is the tensor passed to the most recent Predict call
	LastInput Tensor
	// Closed reports whether Close was called
	Closed bool
}

// NewMock creates a new MockInference for a 224x224 NHWC model with a single
// sigmoid output of 0.8.
func NewMock() *MockInference {
	return NewMockWithOutputs([]float32{0.8})
}

// NewMockWithOutputs creates a MockInference returning the given scores
func NewMockWithOutputs(outputs []float32) *MockInference {
	return &MockInference{
		Spec:    InputSpec{Width: 224, Height: 224, Layout: NHWC},
		Outputs: outputs,
	}
}

// Name implements Engine.
func (m *MockInference) Name() string { return "mock" }

// Input implements Engine.
func (m *MockInference) Input() InputSpec { return m.Spec }

// OutputSize implements Engine.
func (m *MockInference) OutputSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Outputs)
}

// Predict validates the tensor and returns the configured outputs.
func (m *MockInference) Predict(ctx context.Context, t Tensor) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallCount++
	m.LastInput = t

	if m.ShouldError {
		if m.ErrorMessage != "" {
			return nil, fmt.Errorf("%w: %s", ErrInference, m.ErrorMessage)
		}
		return nil, fmt.Errorf("%w: mock inference error", ErrInference)
	}
	if err := checkTensor(m.Spec, t); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}

	return append([]float32(nil), m.Outputs...), nil
}

// Close records that the engine was released
func (m *MockInference) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// SetError configures the mock to return an error on the next Predict call
func (m *MockInference) SetError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldError = true
	m.ErrorMessage = msg
}

// ClearError clears any configured error
func (m *MockInference) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldError = false
	m.ErrorMessage = ""
}

// Calls returns the number of Predict calls so far
func (m *MockInference) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// Ensure MockInference implements Engine at compile time
var _ Engine = (*MockInference)(nil)
