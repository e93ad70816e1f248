package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Mutter0815/MailScheduler/pkg/logx"
	"github.com/Mutter0815/MailScheduler/pkg/metrics"
)

const requestIDHeader = "X-Request-ID"

// quiet paths are still counted but not access-logged.
var quietPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// Observability tags every request with an id, records request metrics and
// writes one access log line.
func Observability() gin.HandlerFunc {
	log := logx.Named("http")
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Set("request_id", rid)

		c.Next()

		lat := time.Since(start).Seconds()
		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		metrics.APIRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(c.Request.Method, path).Observe(lat)

		if quietPaths[path] && status < 500 {
			return
		}
		fields := []any{
			"rid", rid,
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration", lat,
			"client_ip", c.ClientIP(),
		}
		if status >= 500 {
			log.Warnw("http_access", fields...)
			return
		}
		log.Infow("http_access", fields...)
	}
}
