package esiserver

import (
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/r9s-ai/esi-router/internal/logx"
	"github.com/r9s-ai/esi-router/internal/requestid"
	"github.com/r9s-ai/esi-router/pkg/esigin"
)

func requestLoggerWithColor(l *log.Logger, color bool) gin.HandlerFunc {
	if l == nil {
		l = log.New(os.Stdout, "", log.LstdFlags)
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)

		fields := map[string]any{}
		if v := c.GetString(requestid.HeaderKey); v != "" {
			fields["request_id"] = v
		}
		fields["latency_ms"] = latency.Milliseconds()
		if v, ok := c.Get(ctxOriginStatus); ok {
			fields["origin_status"] = v
		}
		if v, ok := c.Get(ctxOriginLatencyMs); ok {
			fields["origin_latency_ms"] = v
		}
		if v, ok := c.Get(esigin.DirectivesKey); ok {
			fields["esi_directives"] = v
		}
		if v, ok := c.Get(esigin.FailuresKey); ok {
			fields["esi_failures"] = v
		}
		if v, ok := c.Get(esigin.DepthLimitedKey); ok {
			fields["esi_depth_limited"] = v
		}

		l.Println(logx.FormatRequestLineWithColor(time.Now(), status, latency, c.ClientIP(), c.Request.Method, c.Request.URL.Path, fields, color))
	}
}
