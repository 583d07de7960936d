// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/SyedDaiam9101/firewatch/internal/cache"
	"github.com/SyedDaiam9101/firewatch/internal/config"
	"github.com/SyedDaiam9101/firewatch/internal/detector"
	"github.com/SyedDaiam9101/firewatch/internal/handler"
	"github.com/SyedDaiam9101/firewatch/internal/imageproc"
	"github.com/SyedDaiam9101/firewatch/internal/inference"
	"github.com/SyedDaiam9101/firewatch/internal/logging"
	"github.com/SyedDaiam9101/firewatch/internal/metrics"
	"github.com/SyedDaiam9101/firewatch/internal/middleware"
	"github.com/SyedDaiam9101/firewatch/internal/telemetry"
)

const (
	serviceName    = "firewatch"
	serviceVersion = "1.0.0"
)

func main() {
	// Parse command-line flags
	fs := pflag.NewFlagSet(serviceName, pflag.ExitOnError)
	config.Flags(fs)
	_ = fs.Parse(os.Args[1:])

	// Load configuration from flags, environment and config file
	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log.Desugar())

	if err := run(cfg, log); err != nil {
		log.Errorw("server exited with error", "error", err)
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.SugaredLogger) error {
	log.Infow("starting "+serviceName,
		"variant", cfg.Variant,
		"port", cfg.Port,
		"metrics_port", cfg.MetricsPort,
		"grpc_port", cfg.GRPCPort,
		"model", cfg.Model,
		"backends", cfg.Backends,
		"redis", cfg.Redis,
		"otel", cfg.OTELEnabled,
	)

	// Initialize OpenTelemetry tracer
	var tracerShutdown func(context.Context) error
	if cfg.OTELEnabled {
		var err error
		tracerShutdown, err = telemetry.InitTracer(telemetry.Options{
			ServiceName:    serviceName,
			ServiceVersion: serviceVersion,
		})
		if err != nil {
			log.Warnw("failed to initialize tracer", "error", err)
		} else {
			log.Infow("OpenTelemetry tracing enabled, using stdout exporter", "otlp_endpoint", cfg.OTELEndpoint)
		}
	}

	// Resolve the detector once: real model or mocked predictions
	norm, err := imageproc.Parse(cfg.Normalization)
	if err != nil {
		return err
	}
	act, err := detector.ParseActivation(cfg.Activation)
	if err != nil {
		return err
	}
	det, err := detector.New(detector.Options{
		Inference: inference.Options{
			ModelPath:     cfg.Model,
			Backends:      cfg.Backends,
			ORTLibrary:    cfg.ORTLibrary,
			TFLiteThreads: cfg.TFLiteThreads,
			ImageSize:     cfg.ImageSize,
		},
		Model: detector.ModelOptions{
			Normalization: norm,
			FireIndex:     cfg.FireIndex,
			Activation:    act,
		},
		UseMock: cfg.UseMock,
	}, log)
	if err != nil {
		return fmt.Errorf("model does not fit the scoring configuration: %w", err)
	}
	defer det.Close()

	// Initialize Redis cache (optional)
	var predictionCache handler.PredictionCache
	if cfg.Redis != "" {
		log.Infow("connecting to Redis", "addr", cfg.Redis)
		cacheClient, err := cache.New(context.Background(), cfg.Redis, cfg.CacheTTL, 10*time.Second)
		if err != nil {
			log.Warnw("failed to connect to Redis, continuing without cache", "error", err)
		} else {
			defer cacheClient.Close()
			predictionCache = cacheClient
			log.Infow("Redis connected")
		}
	}

	// Health server shared by the gRPC and HTTP health checks
	healthServer := health.NewServer()
	metricsServer := startMetricsServer(cfg.MetricsPort, healthServer, log)

	var grpcServer *grpc.Server
	if cfg.GRPCPort != 0 {
		grpcServer, err = startGRPCServer(cfg.GRPCPort, cfg.OTELEnabled, healthServer, log)
		if err != nil {
			return err
		}
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Recovery(log),
		middleware.AccessLog(log),
		middleware.CORS(),
		middleware.Metrics(),
	)
	handler.New(det, predictionCache, handler.Options{
		Variant:      cfg.Variant,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Logger:       log,
	}).Register(router)

	addr := fmt.Sprintf(":%d", cfg.Port)
	apiServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	// Set health status to serving; mocked mode still serves
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING) // Overall health
	metrics.SetHealthy()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sig := <-sigChan
		log.Infow("received signal, shutting down gracefully", "signal", sig.String())

		// Set health to not serving
		healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		metrics.SetUnhealthy()

		// Give time for load balancers to detect unhealthy status
		time.Sleep(cfg.ShutdownGrace)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(ctx); err != nil {
			log.Warnw("API server shutdown", "error", err)
		}
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Warnw("metrics server shutdown", "error", err)
		}

		// Shutdown tracer
		if tracerShutdown != nil {
			if err := tracerShutdown(ctx); err != nil {
				log.Warnw("tracer shutdown", "error", err)
			}
		}
	}()

	log.Infow(serviceName+" is ready to accept requests",
		"addr", addr,
		"backend", det.Backend(),
		"model_loaded", det.Ready(),
	)

	if err := apiServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}

	<-done
	log.Infow("server shutdown complete")
	return nil
}

func startMetricsServer(port int, healthServer *health.Server, log *zap.SugaredLogger) *http.Server {
	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Health check endpoint
	mux.HandleFunc("/healthz", healthHandler(healthServer, "OK", "Service Unavailable"))

	// Readiness check (same as healthz for now)
	mux.HandleFunc("/readyz", healthHandler(healthServer, "Ready", "Not Ready"))

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infow("HTTP server listening (metrics, health)", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("metrics server error", "error", err)
		}
	}()

	return server
}

func healthHandler(healthServer *health.Server, ok, notOK string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := healthServer.Check(r.Context(), &healthpb.HealthCheckRequest{})
		if err != nil || resp.Status != healthpb.HealthCheckResponse_SERVING {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(notOK))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(ok))
	}
}

func startGRPCServer(port int, otelEnabled bool, healthServer *health.Server, log *zap.SugaredLogger) (*grpc.Server, error) {
	var opts []grpc.ServerOption
	if otelEnabled {
		opts = append(opts, grpc.ChainUnaryInterceptor(otelgrpc.UnaryServerInterceptor()))
	}
	grpcServer := grpc.NewServer(opts...)

	// Register health service
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// Enable server reflection for debugging
	reflection.Register(grpcServer)

	addr := fmt.Sprintf(":%d", port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	go func() {
		log.Infow("gRPC health server listening", "addr", addr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Errorw("gRPC server error", "error", err)
		}
	}()

	return grpcServer, nil
}
