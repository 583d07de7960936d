// internal/middleware/metrics.go
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SyedDaiam9101/firewatch/internal/metrics"
)

// Metrics records Prometheus histogram metrics for HTTP requests.
// It measures the duration of each request and records it with route, method
// and status code labels.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Unmatched paths share one label to bound cardinality
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		metrics.RecordHTTPLatency(route, c.Request.Method, c.Writer.Status(), time.Since(start).Seconds())
	}
}
