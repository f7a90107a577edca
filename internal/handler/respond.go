package handler

import (
	"math"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tomevault/tomevault/internal/middleware"
)

// respond renders the standard success envelope. extraMeta merges into
// meta alongside status and timestamps; resource is optional and adds
// created_at/updated_at to the timestamp block.
func respond(c *gin.Context, status int, data any, extraMeta gin.H, message string) {
	timestamps := gin.H{
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
		"response_time_ms": elapsedMs(c),
	}
	for k, v := range timestampExtras(extraMeta) {
		timestamps[k] = v
	}

	meta := gin.H{
		"status":     status,
		"timestamps": timestamps,
	}
	for k, v := range extraMeta {
		if k == "created_at" || k == "updated_at" {
			continue
		}
		meta[k] = v
	}

	body := gin.H{"data": data, "meta": meta}
	if message != "" {
		body["message"] = message
	}
	c.JSON(status, body)
}

func timestampExtras(extra gin.H) gin.H {
	out := gin.H{}
	for _, k := range []string{"created_at", "updated_at"} {
		if v, ok := extra[k]; ok {
			out[k] = v
		}
	}
	return out
}

func elapsedMs(c *gin.Context) float64 {
	v, ok := c.Get(middleware.ContextStartTime)
	if !ok {
		return 0
	}
	start, ok := v.(time.Time)
	if !ok {
		return 0
	}
	ms := float64(time.Since(start)) / float64(time.Millisecond)
	return math.Round(ms*100) / 100
}
