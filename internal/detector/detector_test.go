// internal/detector/detector_test.go
package detector

import (
	"context"
	"errors"
	"image"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SyedDaiam9101/firewatch/internal/imageproc"
	"github.com/SyedDaiam9101/firewatch/internal/inference"
	"github.com/SyedDaiam9101/firewatch/internal/inference/inferencetest"
	"github.com/SyedDaiam9101/firewatch/internal/logging"
)

func whiteImage(size int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

func blackImage(size int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img
}

func TestScore(t *testing.T) {
	tests := []struct {
		name      string
		outputs   []float32
		fireIndex int
		act       Activation
		want      float64
	}{
		{"sigmoid head", []float32{0.73}, 1, ActivationNone, 0.73},
		{"single output ignores index", []float32{0.2}, 5, ActivationNone, 0.2},
		{"two class index 1", []float32{0.1, 0.9}, 1, ActivationNone, 0.9},
		{"two class index 0", []float32{0.1, 0.9}, 0, ActivationNone, 0.1},
		{"sigmoid of zero logit", []float32{0}, 0, ActivationSigmoid, 0.5},
		{"softmax equal logits", []float32{3, 3}, 1, ActivationSoftmax, 0.5},
		{"softmax single low score", []float32{0.02}, 1, ActivationSoftmax, 0.02},
		{"softmax single mid score", []float32{0.3}, 1, ActivationSoftmax, 0.3},
		{"softmax single high score", []float32{0.9}, 1, ActivationSoftmax, 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Score(tt.outputs, tt.fireIndex, tt.act)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestScoreErrors(t *testing.T) {
	_, err := Score(nil, 1, ActivationNone)
	assert.ErrorIs(t, err, inference.ErrInference)

	_, err = Score([]float32{0.3, 0.7}, 2, ActivationNone)
	assert.ErrorIs(t, err, inference.ErrInference)

	// Raw logits are rejected unless an activation is configured
	_, err = Score([]float32{4.2}, 0, ActivationNone)
	assert.ErrorIs(t, err, inference.ErrInference)
}

func TestScoreSoftmaxSingleOutputKeepsDecision(t *testing.T) {
	conf, err := Score([]float32{0.3}, 1, ActivationSoftmax)
	require.NoError(t, err)
	assert.False(t, Decide(conf))
}

func TestDecide(t *testing.T) {
	assert.False(t, Decide(0.5))
	assert.True(t, Decide(0.5000001))
	assert.False(t, Decide(0))
	assert.True(t, Decide(1))
	assert.Equal(t, LabelFire, Label(true))
	assert.Equal(t, LabelNeutral, Label(false))
}

func TestMockRange(t *testing.T) {
	m := NewMock(rand.NewPCG(1, 2))
	for i := 0; i < 1000; i++ {
		p, err := m.Detect(context.Background(), nil)
		require.NoError(t, err)
		require.True(t, p.Mocked)
		require.GreaterOrEqual(t, p.Confidence, MockMin)
		require.LessOrEqual(t, p.Confidence, MockMax)
		require.Equal(t, p.Confidence > Threshold, p.FireDetected)
		require.Equal(t, "mock", p.Backend)
	}
	assert.False(t, m.Ready())
}

func TestNewUseMock(t *testing.T) {
	called := false
	d, err := New(Options{
		UseMock: true,
		Loader: func(inference.Options) (inference.Engine, error) {
			called = true
			return inference.NewMock(), nil
		},
	}, logging.Nop())
	require.NoError(t, err)

	assert.False(t, called)
	assert.False(t, d.Ready())
	assert.Equal(t, "mock", d.Backend())
}

func TestNewFallsBackToMock(t *testing.T) {
	d, err := New(Options{
		Loader: func(inference.Options) (inference.Engine, error) {
			return nil, errors.New("model file not available")
		},
	}, logging.Nop())
	require.NoError(t, err)

	require.IsType(t, &Mock{}, d)
	assert.Empty(t, d.CacheScope())
	p, err := d.Detect(context.Background(), blackImage(8))
	require.NoError(t, err)
	assert.True(t, p.Mocked)
}

func TestNewLoadsModel(t *testing.T) {
	engine := inference.NewMockWithOutputs([]float32{0.05, 0.95})
	d, err := New(Options{
		Model:  ModelOptions{FireIndex: 1},
		Loader: func(inference.Options) (inference.Engine, error) { return engine, nil },
	}, logging.Nop())
	require.NoError(t, err)
	defer d.Close()

	require.True(t, d.Ready())
	p, err := d.Detect(context.Background(), blackImage(100))
	require.NoError(t, err)
	assert.InDelta(t, 0.95, p.Confidence, 1e-6)
	assert.True(t, p.FireDetected)
	assert.False(t, p.Mocked)
	assert.Equal(t, "mock", p.Backend)
	assert.Equal(t, []int64{1, 224, 224, 3}, engine.LastInput.Shape)
}

func TestModelNormalizationReachesEngine(t *testing.T) {
	engine := inference.NewMock()
	m := NewModel(engine, ModelOptions{Normalization: imageproc.Symmetric})

	_, err := m.Detect(context.Background(), blackImage(50))
	require.NoError(t, err)
	for _, v := range engine.LastInput.Data {
		require.InDelta(t, -1.0, v, 1e-6)
	}
}

func TestModelDeterministic(t *testing.T) {
	engine := inference.NewMockWithOutputs([]float32{0.42})
	m := NewModel(engine, ModelOptions{})

	first, err := m.Detect(context.Background(), blackImage(224))
	require.NoError(t, err)
	second, err := m.Detect(context.Background(), blackImage(224))
	require.NoError(t, err)

	assert.Equal(t, first.Confidence, second.Confidence)
	assert.False(t, first.FireDetected)
	assert.Equal(t, LabelNeutral, first.Label())
}

func TestModelInferenceError(t *testing.T) {
	engine := inference.NewMock()
	engine.SetError("model execution failed")
	m := NewModel(engine, ModelOptions{})

	_, err := m.Detect(context.Background(), blackImage(32))
	assert.ErrorIs(t, err, inference.ErrInference)
}

func TestModelCloseReleasesEngine(t *testing.T) {
	engine := inference.NewMock()
	m := NewModel(engine, ModelOptions{})
	require.NoError(t, m.Close())
	assert.True(t, engine.Closed)
}

func TestParseActivation(t *testing.T) {
	a, err := ParseActivation("softmax")
	require.NoError(t, err)
	assert.Equal(t, ActivationSoftmax, a)

	_, err = ParseActivation("tanh")
	assert.Error(t, err)
}


func TestNewRejectsFireIndexOutsideOutput(t *testing.T) {
	engine := inference.NewMockWithOutputs([]float32{0.3, 0.7})
	_, err := New(Options{
		Model:  ModelOptions{FireIndex: 2},
		Loader: func(inference.Options) (inference.Engine, error) { return engine, nil },
	}, logging.Nop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "fire_index 2")
	assert.True(t, engine.Closed)
}

func TestNewAcceptsAnyFireIndexForSingleScore(t *testing.T) {
	engine := inference.NewMockWithOutputs([]float32{0.3})
	d, err := New(Options{
		Model:  ModelOptions{FireIndex: 4},
		Loader: func(inference.Options) (inference.Engine, error) { return engine, nil },
	}, logging.Nop())
	require.NoError(t, err)
	assert.True(t, d.Ready())
}

func TestCacheScopeFollowsScoringOptions(t *testing.T) {
	engine := inference.NewMockWithOutputs([]float32{0.3, 0.7})
	base := ModelOptions{FireIndex: 1, Activation: ActivationNone, Normalization: imageproc.Unit, Artifact: "model.onnx:10:1"}
	scope := NewModel(engine, base).CacheScope()

	assert.NotEmpty(t, scope)
	assert.Equal(t, scope, NewModel(engine, base).CacheScope())

	variants := map[string]func(o *ModelOptions){
		"fire index":    func(o *ModelOptions) { o.FireIndex = 0 },
		"activation":    func(o *ModelOptions) { o.Activation = ActivationSoftmax },
		"normalization": func(o *ModelOptions) { o.Normalization = imageproc.Symmetric },
		"artifact":      func(o *ModelOptions) { o.Artifact = "model.onnx:11:2" },
	}
	for name, mutate := range variants {
		t.Run(name, func(t *testing.T) {
			opts := base
			mutate(&opts)
			assert.NotEqual(t, scope, NewModel(engine, opts).CacheScope())
		})
	}
}

func TestArtifactIDChangesWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o600))
	first := ArtifactID(path)

	require.NoError(t, os.WriteFile(path, []byte("second model"), 0o600))
	require.NoError(t, os.Chtimes(path, time.Now(), time.Now().Add(time.Hour)))
	assert.NotEqual(t, first, ArtifactID(path))

	missing := filepath.Join(t.TempDir(), "missing.onnx")
	assert.Equal(t, missing, ArtifactID(missing))
}

func TestNewWithGoNNXModel(t *testing.T) {
	path := inferencetest.Model{Size: 4}.Write(t, t.TempDir())

	d, err := New(Options{
		Inference: inference.Options{ModelPath: path, Backends: []string{"gonnx"}, ImageSize: 224},
		Model:     ModelOptions{FireIndex: 1},
	}, logging.Nop())
	require.NoError(t, err)
	defer d.Close()

	require.True(t, d.Ready())
	assert.Equal(t, "gonnx", d.Backend())

	// Brightness 1 gives sigmoid(1), black gives sigmoid(0)
	bright, err := d.Detect(context.Background(), whiteImage(64))
	require.NoError(t, err)
	assert.InDelta(t, 0.7310586, bright.Confidence, 1e-5)
	assert.True(t, bright.FireDetected)

	dark, err := d.Detect(context.Background(), blackImage(224))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, dark.Confidence, 1e-6)
	assert.False(t, dark.FireDetected)

	again, err := d.Detect(context.Background(), whiteImage(64))
	require.NoError(t, err)
	assert.Equal(t, bright.Confidence, again.Confidence)
}

func TestNewWithGoNNXTwoClassModel(t *testing.T) {
	path := inferencetest.Model{Size: 4, Classes: 2}.Write(t, t.TempDir())
	opts := Options{
		Inference: inference.Options{ModelPath: path, Backends: []string{"gonnx"}, ImageSize: 224},
		Model:     ModelOptions{FireIndex: 1, Activation: ActivationSoftmax},
	}

	d, err := New(opts, logging.Nop())
	require.NoError(t, err)
	defer d.Close()

	// Logits (-1, 1) for a white image
	p, err := d.Detect(context.Background(), whiteImage(16))
	require.NoError(t, err)
	assert.InDelta(t, 0.8807971, p.Confidence, 1e-5)

	opts.Model.FireIndex = 0
	flipped, err := New(opts, logging.Nop())
	require.NoError(t, err)
	defer flipped.Close()

	p, err = flipped.Detect(context.Background(), whiteImage(16))
	require.NoError(t, err)
	assert.InDelta(t, 0.1192029, p.Confidence, 1e-5)
	assert.NotEqual(t, d.CacheScope(), flipped.CacheScope())

	opts.Model.FireIndex = 2
	_, err = New(opts, logging.Nop())
	assert.Error(t, err)
}
