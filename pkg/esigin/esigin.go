// Package esigin wires the esi engine into gin.
//
// Middleware buffers whatever a handler writes and resolves the directives in
// it before anything reaches the client. Render and Send process explicitly
// and can hand the result to a Completion instead of writing it.
package esigin

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/r9s-ai/esi-router/pkg/esi"
)

const (
	OptionsKey      = "esi.options"
	DirectivesKey   = "esi.directives"
	FailuresKey     = "esi.failures"
	DepthLimitedKey = "esi.depth_limited"

	processedKey = "esi.processed"
)

var defaultContentTypes = []string{"text/html"}

type Adapter struct {
	Engine *esi.Engine
	// Config returns the global defaults. It is called once per processed body,
	// so a reloadable source can be swapped underneath.
	Config func() esi.Config
	// ContentTypes gates Middleware by response media type prefix. Empty means text/html.
	ContentTypes []string
	// ForwardHeaders are copied from the incoming request onto fragment requests
	// unless the call overrides already name them.
	ForwardHeaders []string
	// RequestVars exposes request derived variables (see RequestVars) to esi:vars.
	RequestVars bool
	Logger      *log.Logger
}

// New returns an Adapter with fixed global defaults.
func New(cfg esi.Config, eng *esi.Engine) *Adapter {
	return &Adapter{
		Engine: eng,
		Config: func() esi.Config { return cfg },
	}
}

// SetOptions stores per-request overrides, replacing any set earlier in the chain.
func SetOptions(c *gin.Context, o esi.Overrides) {
	c.Set(OptionsKey, o)
}

// Options returns the per-request overrides, if any.
func Options(c *gin.Context) (esi.Overrides, bool) {
	v, ok := c.Get(OptionsKey)
	if !ok {
		return esi.Overrides{}, false
	}
	o, ok := v.(esi.Overrides)
	return o, ok
}

// Middleware resolves directives in buffered handler output. Responses that
// were flushed, or whose content type is not gated in, pass through unchanged.
func (a *Adapter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		orig := c.Writer
		bw := newBufferedWriter(orig)
		c.Writer = bw
		defer func() { c.Writer = orig }()

		c.Next()

		c.Writer = orig
		if bw.streaming {
			return
		}
		body := bw.buf.Bytes()
		if c.GetBool(processedKey) || !a.shouldProcess(bw.Header().Get("Content-Type"), body) {
			bw.commit(body, false)
			return
		}

		res, err := a.process(c, body)
		if err != nil {
			a.logf("esi: processing aborted path=%s: %v", c.Request.URL.Path, err)
			bw.status = http.StatusInternalServerError
			bw.Header().Set("Content-Type", "text/plain; charset=utf-8")
			bw.commit([]byte(http.StatusText(http.StatusInternalServerError)), true)
			return
		}
		bw.commit([]byte(res.Text), true)
	}
}

// Render executes the named gin HTML template and resolves the output. With
// a nil done the result is written with the given status; otherwise done
// receives it and nothing is written.
func (a *Adapter) Render(c *gin.Context, code int, name string, data any, done esi.Completion) {
	orig := c.Writer
	cw := &captureWriter{ResponseWriter: orig, header: make(http.Header)}
	c.Writer = cw
	c.HTML(code, name, data)
	c.Writer = orig

	a.finish(c, code, "text/html; charset=utf-8", cw.buf.Bytes(), done)
}

// Send resolves body, a string or []byte, and writes it the way Render does.
func (a *Adapter) Send(c *gin.Context, code int, body any, done esi.Completion) {
	var b []byte
	contentType := c.Writer.Header().Get("Content-Type")
	switch v := body.(type) {
	case string:
		b = []byte(v)
		if contentType == "" {
			contentType = "text/html; charset=utf-8"
		}
	case []byte:
		b = v
		if contentType == "" {
			contentType = "application/octet-stream"
		}
	default:
		if done != nil {
			done(errUnsupportedBody, "")
			return
		}
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	a.finish(c, code, contentType, b, done)
}

func (a *Adapter) finish(c *gin.Context, code int, contentType string, body []byte, done esi.Completion) {
	res, err := a.process(c, body)
	if done != nil {
		if err != nil {
			done(err, "")
			return
		}
		done(nil, res.Text)
		return
	}
	if err != nil {
		a.logf("esi: processing aborted path=%s: %v", c.Request.URL.Path, err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Set(processedKey, true)
	c.Data(code, contentType, []byte(res.Text))
}

func (a *Adapter) process(c *gin.Context, body []byte) (*esi.Result, error) {
	ctx := context.Background()
	if c.Request != nil {
		ctx = c.Request.Context()
	}
	eng := a.Engine
	if eng == nil {
		eng = esi.NewEngine(nil)
	}
	res, err := eng.SubstituteBytes(ctx, body, a.options(c))
	if err != nil {
		return nil, err
	}
	for _, f := range res.Failures {
		a.logf("esi: %s", f)
	}
	setResultContext(c, res)
	return res, nil
}

func (a *Adapter) options(c *gin.Context) esi.EffectiveOptions {
	var global esi.Config
	if a.Config != nil {
		global = a.Config()
	}
	ov, _ := Options(c)

	if a.RequestVars && c.Request != nil {
		vars := RequestVars(c.Request)
		for k, v := range ov.Vars {
			vars[k] = v
		}
		ov.Vars = vars
	}

	if len(a.ForwardHeaders) > 0 && c.Request != nil {
		headers := make(map[string]string, len(ov.Headers)+len(a.ForwardHeaders))
		for _, name := range a.ForwardHeaders {
			if v := c.Request.Header.Get(name); v != "" {
				headers[name] = v
			}
		}
		for k, v := range ov.Headers {
			headers[k] = v
		}
		ov.Headers = headers
	}
	return esi.ResolveOptions(global, &ov)
}

func (a *Adapter) shouldProcess(contentType string, body []byte) bool {
	if !esi.ContainsDirective(string(body)) {
		return false
	}
	if strings.TrimSpace(contentType) == "" {
		contentType = http.DetectContentType(body)
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	types := a.ContentTypes
	if len(types) == 0 {
		types = defaultContentTypes
	}
	for _, t := range types {
		if strings.HasPrefix(ct, strings.ToLower(strings.TrimSpace(t))) {
			return true
		}
	}
	return false
}

func (a *Adapter) logf(format string, args ...any) {
	if a.Logger != nil {
		a.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

type captureWriter struct {
	gin.ResponseWriter
	header http.Header
	buf    bytes.Buffer
}

func (w *captureWriter) Header() http.Header { return w.header }
func (w *captureWriter) WriteHeader(int) {}
func (w *captureWriter) WriteHeaderNow() {}
func (w *captureWriter) Write(b []byte) (int, error) { return w.buf.Write(b) }
func (w *captureWriter) WriteString(s string) (int, error) { return w.buf.WriteString(s) }
func (w *captureWriter) Written() bool { return w.buf.Len() > 0 }
