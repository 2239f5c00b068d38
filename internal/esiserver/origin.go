package esiserver

import (
	"context"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/r9s-ai/esi-router/internal/config"
	"github.com/r9s-ai/esi-router/internal/requestid"
	"github.com/r9s-ai/esi-router/pkg/httpclient"
)

const (
	ctxOriginStatus    = "esi.origin_status"
	ctxOriginLatencyMs = "esi.origin_latency_ms"
)

// Accept-Encoding is not forwarded; bodies must arrive decoded to be scanned.
// Conditional headers are dropped too: a 304 from origin carries no body to resolve.
var originRequestHeaders = []string{
	"Accept",
	"Accept-Language",
	"Authorization",
	"Cache-Control",
	"Cookie",
	"Referer",
	"User-Agent",
}

var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// originHandler fetches the page for an unrouted GET/HEAD from origin.url and
// writes it through the handler chain, where the esi middleware rewrites it.
func originHandler(cfg *config.Config, doer httpclient.HTTPDoer) gin.HandlerFunc {
	base := strings.TrimRight(strings.TrimSpace(cfg.Origin.URL), "/")
	timeout := time.Duration(cfg.Origin.TimeoutMs) * time.Millisecond
	if doer == nil {
		doer = http.DefaultClient
	}
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.JSON(http.StatusMethodNotAllowed, gin.H{
				"error": gin.H{"message": "method not allowed", "type": "invalid_request_error"},
			})
			return
		}

		ctx := c.Request.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		req, err := http.NewRequestWithContext(ctx, c.Request.Method, base+c.Request.URL.RequestURI(), nil)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error(), "type": "invalid_request_error"}})
			return
		}
		for _, h := range originRequestHeaders {
			if v := c.GetHeader(h); v != "" {
				req.Header.Set(h, v)
			}
		}
		req.Header.Set("X-Forwarded-For", c.ClientIP())
		req.Header.Set("X-Forwarded-Host", c.Request.Host)
		if v := c.GetString(requestid.HeaderKey); v != "" {
			req.Header.Set(requestid.HeaderKey, v)
		}

		start := time.Now()
		resp, err := doer.Do(req)
		c.Set(ctxOriginLatencyMs, time.Since(start).Milliseconds())
		if err != nil {
			log.Printf("origin request failed url=%s: %v", req.URL.String(), err)
			c.JSON(http.StatusBadGateway, gin.H{
				"error": gin.H{"message": "origin unavailable", "type": "upstream_error"},
			})
			return
		}
		defer resp.Body.Close()
		c.Set(ctxOriginStatus, resp.StatusCode)

		dst := c.Writer.Header()
		for k, vs := range resp.Header {
			if _, skip := hopByHopHeaders[k]; skip {
				continue
			}
			dst[k] = append([]string(nil), vs...)
		}
		c.Status(resp.StatusCode)
		if _, err := io.Copy(c.Writer, resp.Body); err != nil {
			log.Printf("origin body copy failed url=%s: %v", req.URL.String(), err)
		}
	}
}
