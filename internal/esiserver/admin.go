package esiserver

import (
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/r9s-ai/esi-router/internal/config"
	"github.com/r9s-ai/esi-router/pkg/esi"
)

const maxScanBodyBytes = 8 << 20

type scanDirective struct {
	Kind  string            `json:"kind"`
	Start int               `json:"start"`
	End   int               `json:"end"`
	Src   string            `json:"src,omitempty"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

type scanProblem struct {
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Tag    string `json:"tag"`
	Reason string `json:"reason"`
}

func reloadHandler(cfg *config.Config, st *state) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := reloadRuntime(cfg, st)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		log.Printf("reload ok (admin): vars=%d", len(d.Vars))
		c.JSON(http.StatusOK, gin.H{
			"vars":        len(d.Vars),
			"reloaded_at": st.ReloadedAtUnix(),
		})
	}
}

// scanHandler reports the directives of the posted body without resolving them.
func scanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		b, err := io.ReadAll(io.LimitReader(c.Request.Body, maxScanBodyBytes+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(b) > maxScanBodyBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
			return
		}
		ds, errs := esi.Scan(string(b))
		c.JSON(http.StatusOK, gin.H{
			"directives": toScanDirectives(ds),
			"errors":     toScanProblems(errs),
		})
	}
}

func toScanDirectives(ds []esi.Directive) []scanDirective {
	out := make([]scanDirective, 0, len(ds))
	for _, d := range ds {
		out = append(out, scanDirective{
			Kind:  d.Kind.String(),
			Start: d.Start,
			End:   d.End,
			Src:   d.Src(),
			Attrs: d.Attrs,
		})
	}
	return out
}

func toScanProblems(errs []*esi.ScanError) []scanProblem {
	out := make([]scanProblem, 0, len(errs))
	for _, e := range errs {
		out = append(out, scanProblem{Start: e.Start, End: e.End, Tag: e.Tag, Reason: e.Reason})
	}
	return out
}
