// internal/detector/detector.go
package detector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/SyedDaiam9101/firewatch/internal/imageproc"
	"github.com/SyedDaiam9101/firewatch/internal/inference"
	"github.com/SyedDaiam9101/firewatch/internal/metrics"
)

// Mocked confidence range and the note attached to mocked predictions.
const (
	MockMin  = 0.60
	MockMax  = 0.99
	MockNote = "MOCKED RESPONSE - Model not loaded"
)

var tracer = otel.Tracer("github.com/SyedDaiam9101/firewatch/internal/detector")

// Prediction is the outcome of classifying one image.
type Prediction struct {
	Confidence   float64 `json:"confidence"`
	FireDetected bool    `json:"fireDetected"`
	Backend      string  `json:"backend"`
	Mocked       bool    `json:"mocked"`
}

// Label returns "Fire" or "Neutral".
func (p *Prediction) Label() string {
	return Label(p.FireDetected)
}

// Detector classifies images as fire or no fire. Implementations are safe for
// concurrent use.
type Detector interface {
	// Detect classifies a decoded image.
	Detect(ctx context.Context, img image.Image) (*Prediction, error)
	// Ready reports whether a real model backs the detector.
	Ready() bool
	// Backend names the runtime, "mock" when no model is loaded.
	Backend() string
	// CacheScope identifies everything that shapes a score (runtime, model
	// artifact, scoring options). Predictions are only reusable within one
	// scope. Empty when predictions must not be cached.
	CacheScope() string
	// Close releases the model.
	Close() error
}

// Model runs real inference: preprocess, engine, score.
type Model struct {
	engine    inference.Engine
	norm      imageproc.Normalization
	fireIndex int
	act       Activation
	scope     string
}

// ModelOptions configure how a Model reads its engine.
type ModelOptions struct {
	Normalization imageproc.Normalization
	FireIndex     int
	Activation    Activation
	// Artifact identifies the loaded model file, see ArtifactID.
	Artifact string
}

// NewModel wraps a loaded engine.
func NewModel(engine inference.Engine, opts ModelOptions) *Model {
	if opts.Normalization == "" {
		opts.Normalization = imageproc.Unit
	}
	if opts.Activation == "" {
		opts.Activation = ActivationNone
	}
	return &Model{
		engine:    engine,
		norm:      opts.Normalization,
		fireIndex: opts.FireIndex,
		act:       opts.Activation,
		scope:     cacheScope(engine.Name(), opts),
	}
}

func cacheScope(backend string, opts ModelOptions) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s|%s",
		backend, opts.Artifact, opts.FireIndex, opts.Activation, opts.Normalization)))
	return backend + "-" + hex.EncodeToString(sum[:8])
}

// ArtifactID names a model file by path, size and modification time, so a
// replaced file gets a new identity. It returns path alone when the file
// cannot be read.
func ArtifactID(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return path
	}
	return fmt.Sprintf("%s:%d:%d", path, info.Size(), info.ModTime().UnixNano())
}

// Detect implements Detector.
func (m *Model) Detect(ctx context.Context, img image.Image) (*Prediction, error) {
	ctx, span := tracer.Start(ctx, "detector.Detect")
	defer span.End()
	span.SetAttributes(attribute.String("backend", m.engine.Name()))

	_, prep := tracer.Start(ctx, "imageproc.ToTensor")
	t := imageproc.ToTensor(img, m.engine.Input(), m.norm)
	prep.End()

	_, run := tracer.Start(ctx, "inference.Predict")
	start := time.Now()
	outputs, err := m.engine.Predict(ctx, t)
	metrics.RecordInferenceLatency(m.engine.Name(), time.Since(start).Seconds())
	run.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "inference failed")
		return nil, err
	}

	conf, err := Score(outputs, m.fireIndex, m.act)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scoring failed")
		return nil, err
	}
	span.SetAttributes(attribute.Float64("confidence", conf))

	return &Prediction{
		Confidence:   conf,
		FireDetected: Decide(conf),
		Backend:      m.engine.Name(),
	}, nil
}

// Ready implements Detector.
func (m *Model) Ready() bool { return true }

// Backend implements Detector.
func (m *Model) Backend() string { return m.engine.Name() }

// CacheScope implements Detector.
func (m *Model) CacheScope() string { return m.scope }

// Close implements Detector.
func (m *Model) Close() error { return m.engine.Close() }

// Mock serves synthetic predictions when no model could be loaded. It is a
// degraded mode, not an error: every response is flagged as mocked.
type Mock struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewMock returns a Mock drawing from src, or from a randomly seeded source
// when src is nil.
func NewMock(src rand.Source) *Mock {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Mock{rng: rand.New(src)}
}

// Detect implements Detector.
func (m *Mock) Detect(ctx context.Context, _ image.Image) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	conf := MockMin + m.rng.Float64()*(MockMax-MockMin)
	m.mu.Unlock()

	return &Prediction{
		Confidence:   conf,
		FireDetected: Decide(conf),
		Backend:      "mock",
		Mocked:       true,
	}, nil
}

// Ready implements Detector.
func (m *Mock) Ready() bool { return false }

// Backend implements Detector.
func (m *Mock) Backend() string { return "mock" }

// CacheScope implements Detector. Mocked predictions are never cached.
func (m *Mock) CacheScope() string { return "" }

// Close implements Detector.
func (m *Mock) Close() error { return nil }

// Options decide which Detector New builds.
type Options struct {
	Inference inference.Options
	Model     ModelOptions
	// UseMock skips model loading entirely.
	UseMock bool
	// Loader overrides inference.Load, for tests.
	Loader func(inference.Options) (inference.Engine, error)
}

// New resolves the serving strategy once: a Model when an engine loads, a
// Mock otherwise. There is no later transition between the two. An error
// means the model loaded but the scoring options do not fit it.
func New(opts Options, log *zap.SugaredLogger) (Detector, error) {
	if opts.UseMock {
		log.Warnw("mock inference requested, serving mocked predictions")
		metrics.SetModelLoaded(false)
		return NewMock(nil), nil
	}

	load := opts.Loader
	if load == nil {
		load = inference.Load
	}

	engine, err := load(opts.Inference)
	if err != nil {
		log.Warnw("model unavailable, serving mocked predictions",
			"model", opts.Inference.ModelPath, "error", err)
		metrics.SetModelLoaded(false)
		return NewMock(nil), nil
	}

	if err := checkFireIndex(engine.OutputSize(), opts.Model.FireIndex); err != nil {
		return nil, errors.Join(err, engine.Close())
	}
	if opts.Model.Artifact == "" {
		opts.Model.Artifact = ArtifactID(opts.Inference.ModelPath)
	}

	spec := engine.Input()
	log.Infow("model loaded",
		"model", opts.Inference.ModelPath,
		"backend", engine.Name(),
		"input_width", spec.Width,
		"input_height", spec.Height,
		"layout", spec.Layout.String(),
		"scores", engine.OutputSize(),
		"fire_index", opts.Model.FireIndex,
		"activation", string(opts.Model.Activation),
	)
	metrics.SetModelLoaded(true)
	return NewModel(engine, opts.Model), nil
}

var (
	_ Detector = (*Model)(nil)
	_ Detector = (*Mock)(nil)
)
