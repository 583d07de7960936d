// internal/middleware/middleware_test.go
package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/SyedDaiam9101/firewatch/internal/logging"
	"github.com/SyedDaiam9101/firewatch/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(capture *string) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), AccessLog(logging.Nop()), CORS(), Metrics())
	r.GET("/ping", func(c *gin.Context) {
		*capture = GetRequestID(c.Request.Context())
		c.String(http.StatusOK, "pong")
	})
	return r
}

func TestRequestID_GeneratesID(t *testing.T) {
	var captured string
	r := newRouter(&captured)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	// Verify request ID was generated and added to context
	if captured == "" {
		t.Fatal("Expected request ID to be generated, got empty string")
	}

	// Verify it looks like a UUID (36 chars with dashes)
	if len(captured) != 36 {
		t.Errorf("Expected UUID format (36 chars), got %d chars: %s", len(captured), captured)
	}

	if got := w.Header().Get(RequestIDHeader); got != captured {
		t.Errorf("Expected response header %s, got %s", captured, got)
	}
}

func TestRequestID_PreservesExistingID(t *testing.T) {
	var captured string
	r := newRouter(&captured)

	existingID := "test-request-id-12345"
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, existingID)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if captured != existingID {
		t.Errorf("Expected request ID %s, got %s", existingID, captured)
	}
}

func TestGetRequestID_EmptyContext(t *testing.T) {
	requestID := GetRequestID(context.Background())
	if requestID != "" {
		t.Errorf("Expected empty request ID from empty context, got %s", requestID)
	}
}

func TestCORS_Preflight(t *testing.T) {
	var captured string
	r := newRouter(&captured)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/ping", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for preflight, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected Access-Control-Allow-Origin *, got %q", got)
	}
}

func TestMetrics_RecordsRoute(t *testing.T) {
	var captured string
	r := newRouter(&captured)

	before := testutil.CollectAndCount(metrics.HTTPServerHandlingSeconds)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if after := testutil.CollectAndCount(metrics.HTTPServerHandlingSeconds); after < before || after == 0 {
		t.Errorf("Expected latency series to be recorded, got %d series", after)
	}
}

func TestRecovery_LogsPanicThroughZap(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)

	r := gin.New()
	r.Use(RequestID(), Recovery(zap.New(core).Sugar()))
	r.GET("/boom", func(c *gin.Context) {
		panic("detector exploded")
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(RequestIDHeader, "panic-request")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}

	entries := logs.FilterMessage("panic recovered").All()
	if len(entries) != 1 {
		t.Fatalf("Expected one panic log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["panic"] != "detector exploded" {
		t.Errorf("Expected panic value in log, got %v", fields["panic"])
	}
	if fields["request_id"] != "panic-request" {
		t.Errorf("Expected request_id panic-request, got %v", fields["request_id"])
	}
	if stack, _ := fields["stack"].(string); stack == "" {
		t.Error("Expected a stack trace in the log entry")
	}
}
