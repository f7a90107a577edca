package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tomevault/tomevault/internal/pkg/metrics"
)

func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()

		metrics.RequestsTotal.WithLabelValues(
			c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.LatencyBucket.WithLabelValues(endpointOf(c)).Observe(duration)
	}
}
