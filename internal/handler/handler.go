// internal/handler/handler.go
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/SyedDaiam9101/firewatch/internal/cache"
	"github.com/SyedDaiam9101/firewatch/internal/config"
	"github.com/SyedDaiam9101/firewatch/internal/detector"
	"github.com/SyedDaiam9101/firewatch/internal/imageproc"
	"github.com/SyedDaiam9101/firewatch/internal/metrics"
	"github.com/SyedDaiam9101/firewatch/internal/middleware"
)

// BackendHeader names the runtime that produced a prediction.
const BackendHeader = "X-Inference-Backend"

// StatusMessage is reported by GET / on the ml variant.
const StatusMessage = "Forest Fire ML Service is running"

var tracer = otel.Tracer("github.com/SyedDaiam9101/firewatch/internal/handler")

// PredictionCache stores predictions for images seen before.
type PredictionCache interface {
	Get(ctx context.Context, key string) (*detector.Prediction, bool, error)
	Set(ctx context.Context, key string, p *detector.Prediction) error
}

// Options configure a Handler.
type Options struct {
	Variant      string // config.VariantML or config.VariantBackend
	MaxBodyBytes int64
	Logger       *zap.SugaredLogger
}

// Handler serves the prediction API.
// It uses the Detector interface for flexibility and testability.
type Handler struct {
	det          detector.Detector
	cache        PredictionCache
	variant      string
	maxBodyBytes int64
	log          *zap.SugaredLogger
}

// New creates a new Handler with the given detector and an optional cache.
func New(det detector.Detector, c PredictionCache, opts Options) *Handler {
	if opts.Variant == "" {
		opts.Variant = config.VariantML
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Handler{
		det:          det,
		cache:        c,
		variant:      opts.Variant,
		maxBodyBytes: opts.MaxBodyBytes,
		log:          opts.Logger,
	}
}

// Register mounts the variant's routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/predict", h.Predict)
	if h.variant == config.VariantML {
		r.GET("/", h.Status)
	}
}

// Status reports whether a real model is loaded.
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{
		Status:      StatusMessage,
		ModelLoaded: h.det != nil && h.det.Ready(),
	})
}

// Predict handles POST /predict: decode, classify, respond.
func (h *Handler) Predict(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "handler.Predict")
	defer span.End()

	requestID := middleware.GetRequestID(ctx)
	if requestID == "" {
		requestID = "unknown"
	}
	log := h.log.With("request_id", requestID)

	if h.det == nil {
		h.fail(c, log, fmt.Errorf("detector not initialized"))
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)

	var req PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if !errors.As(err, &tooLarge) {
			err = fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
		h.fail(c, log, err)
		return
	}
	if strings.TrimSpace(req.Image) == "" {
		h.fail(c, log, ErrMissingInput)
		return
	}

	raw, err := imageproc.DecodeBase64(req.Image)
	if err != nil {
		h.fail(c, log, err)
		return
	}
	span.SetAttributes(attribute.Int("image.bytes", len(raw)))

	pred, err := h.predict(ctx, log, raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.fail(c, log, err)
		return
	}

	metrics.RecordPrediction(pred.Label(), pred.Mocked)
	log.Infow("prediction served",
		"backend", pred.Backend,
		"confidence", pred.Confidence,
		"fire", pred.FireDetected,
		"mocked", pred.Mocked,
	)

	c.Header(BackendHeader, pred.Backend)
	c.JSON(http.StatusOK, h.present(pred))
}

// predict consults the cache before running the detector. Only a real model's
// predictions are cached; mocked ones are random by nature.
func (h *Handler) predict(ctx context.Context, log *zap.SugaredLogger, raw []byte) (*detector.Prediction, error) {
	scope := h.det.CacheScope()
	useCache := h.cache != nil && h.det.Ready() && scope != ""

	var key string
	if useCache {
		key = cache.Key(scope, raw)
		cached, ok, err := h.cache.Get(ctx, key)
		switch {
		case err != nil:
			metrics.RecordCacheResult("error")
			log.Warnw("prediction cache lookup failed", "error", err)
		case ok:
			metrics.RecordCacheResult("hit")
			return cached, nil
		default:
			metrics.RecordCacheResult("miss")
		}
	}

	_, decodeSpan := tracer.Start(ctx, "imageproc.DecodeImage")
	img, err := imageproc.DecodeImage(raw)
	decodeSpan.End()
	if err != nil {
		return nil, err
	}

	pred, err := h.det.Detect(ctx, img)
	if err != nil {
		return nil, err
	}

	if useCache {
		if err := h.cache.Set(ctx, key, pred); err != nil {
			log.Warnw("prediction cache store failed", "error", err)
		}
	}
	return pred, nil
}

func (h *Handler) present(p *detector.Prediction) interface{} {
	note := ""
	if p.Mocked {
		note = detector.MockNote
	}
	if h.variant == config.VariantBackend {
		return BackendResponse{
			FireDetected: p.FireDetected,
			Confidence:   p.Confidence,
			Note:         note,
		}
	}
	return MLResponse{
		Confidence: p.Confidence,
		Class:      p.Label(),
		HasFire:    p.FireDetected,
		Note:       note,
	}
}

func (h *Handler) fail(c *gin.Context, log *zap.SugaredLogger, err error) {
	status, msg := httpError(err)
	_ = c.Error(err)

	if status >= http.StatusInternalServerError {
		log.Errorw("prediction error", "error", err)
	} else {
		log.Debugw("request rejected", "status", status, "error", err)
	}

	if h.variant == config.VariantBackend {
		c.AbortWithStatusJSON(status, BackendError{Error: msg})
		return
	}
	c.AbortWithStatusJSON(status, MLError{Detail: msg})
}
