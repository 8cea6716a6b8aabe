package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codehive/server/internal/shared/metrics"
)

// Metrics records request counts, latency, and in-flight gauge for every
// request. Paths are labeled by route pattern so metric cardinality stays
// bounded regardless of path parameters.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		m.HTTPRequestsInFlight.Inc()
		start := time.Now()

		c.Next()

		m.HTTPRequestsInFlight.Dec()
		m.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
