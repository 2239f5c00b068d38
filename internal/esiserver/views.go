package esiserver

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/r9s-ai/esi-router/pkg/esigin"
)

// viewHandler renders templates/<name> with the query parameters as data.
func viewHandler(a *esigin.Adapter, tmpl *template.Template) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := strings.TrimPrefix(c.Param("name"), "/")
		if name == "" || tmpl.Lookup(name) == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": gin.H{"message": "view not found", "type": "invalid_request_error"},
			})
			return
		}
		data := make(map[string]any)
		for k, vs := range c.Request.URL.Query() {
			if len(vs) > 0 {
				data[k] = vs[0]
			}
		}
		a.Render(c, http.StatusOK, name, data, nil)
	}
}
