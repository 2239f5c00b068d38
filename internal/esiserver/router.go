package esiserver

import (
	"html/template"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/r9s-ai/esi-router/internal/auth"
	"github.com/r9s-ai/esi-router/internal/config"
	"github.com/r9s-ai/esi-router/internal/requestid"
	"github.com/r9s-ai/esi-router/pkg/esi"
	"github.com/r9s-ai/esi-router/pkg/esigin"
	"github.com/r9s-ai/esi-router/pkg/httpclient"
)

func NewRouter(
	cfg *config.Config,
	st *state,
	eng *esi.Engine,
	origin httpclient.HTTPDoer,
	tmpl *template.Template,
	accessLogger *log.Logger,
	accessColor bool,
) *gin.Engine {
	r := gin.New()
	r.Use(requestIDMiddleware())
	if cfg.AccessLogEnabled() {
		r.Use(requestLoggerWithColor(accessLogger, accessColor))
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ok":          true,
			"started_at":  st.StartedAtUnix(),
			"reloaded_at": st.ReloadedAtUnix(),
		})
	})

	if key := strings.TrimSpace(cfg.Auth.APIKey); key != "" {
		admin := r.Group("/admin")
		admin.Use(auth.Middleware(key))
		admin.POST("/reload", reloadHandler(cfg, st))
		admin.POST("/scan", scanHandler())
	}

	adapter := &esigin.Adapter{
		Engine:         eng,
		Config:         st.ESIDefaults,
		ContentTypes:   cfg.ESI.ContentTypes,
		ForwardHeaders: cfg.ESI.ForwardHeaders,
		RequestVars:    cfg.ESI.RequestVars,
	}
	pageChain := []gin.HandlerFunc{}
	if cfg.ESI.BaseURLFromRequest {
		pageChain = append(pageChain, baseURLFromRequestMiddleware(cfg.Origin.URL))
	}
	pageChain = append(pageChain, adapter.Middleware())

	if tmpl != nil {
		r.SetHTMLTemplate(tmpl)
		views := r.Group("/views", pageChain...)
		views.GET("/*name", viewHandler(adapter, tmpl))
	}

	if strings.TrimSpace(cfg.Origin.URL) != "" {
		r.NoRoute(append(pageChain, originHandler(cfg, origin))...)
	} else {
		r.NoRoute(func(c *gin.Context) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": gin.H{"message": "not found", "type": "invalid_request_error"},
			})
		})
	}
	return r
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := requestid.FromHeader(c.GetHeader(requestid.HeaderKey))
		c.Header(requestid.HeaderKey, id)
		c.Set(requestid.HeaderKey, id)
		c.Next()
	}
}

// baseURLFromRequestMiddleware resolves relative includes against the page's
// own location on the origin, unless the handler chain already chose a base.
func baseURLFromRequestMiddleware(originURL string) gin.HandlerFunc {
	base := strings.TrimRight(strings.TrimSpace(originURL), "/")
	return func(c *gin.Context) {
		ov, _ := esigin.Options(c)
		if ov.BaseURL == "" {
			ov.BaseURL = base + c.Request.URL.Path
			esigin.SetOptions(c, ov)
		}
		c.Next()
	}
}
