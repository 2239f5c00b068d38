package esiserver

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/r9s-ai/esi-router/internal/config"
	"github.com/r9s-ai/esi-router/internal/requestid"
	"github.com/r9s-ai/esi-router/pkg/esi"
)

func newTestOrigin(t *testing.T, pages map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<p>missing</p><esi:include src="/footer.html"/>`))
			return
		}
		if strings.HasSuffix(r.URL.Path, ".json") {
			w.Header().Set("Content-Type", "application/json")
		} else {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		}
		w.Header().Set("X-Origin", "yes")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestRouter(t *testing.T, origin *httptest.Server, doc string, tmplDir string) (*gin.Engine, *state, *config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg, err := config.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	st := &state{}
	if _, err := reloadRuntime(cfg, st); err != nil {
		t.Fatalf("load esi defaults: %v", err)
	}
	tmpl, err := loadTemplates(tmplDir)
	if err != nil {
		t.Fatalf("load templates: %v", err)
	}
	eng := esi.NewEngine(&esi.Fetcher{HTTP: origin.Client()})
	r := NewRouter(cfg, st, eng, origin.Client(), tmpl, log.New(io.Discard, "", 0), false)
	return r, st, cfg
}

func do(r http.Handler, method, path string, body io.Reader, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_OriginPageIsResolved(t *testing.T) {
	origin := newTestOrigin(t, map[string]string{
		"/page":        `<h1><esi:include src="/frag"/></h1>`,
		"/frag":        "F",
		"/footer.html": "footer",
	})
	r, _, _ := newTestRouter(t, origin, fmt.Sprintf("origin:\n  url: %s\nesi:\n  base_url: %s\n", origin.URL, origin.URL), "")

	w := do(r, http.MethodGet, "/page", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
	if got := w.Body.String(); got != "<h1>F</h1>" {
		t.Fatalf("body=%q", got)
	}
	if w.Header().Get("X-Origin") != "yes" {
		t.Fatalf("expected origin headers to pass through")
	}
	if w.Header().Get(requestid.HeaderKey) == "" {
		t.Fatalf("expected request id header")
	}

	w = do(r, http.MethodGet, "/nope", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected origin status to be kept, got %d", w.Code)
	}
	if got := w.Body.String(); got != "<p>missing</p>footer" {
		t.Fatalf("body=%q", got)
	}
}

func TestRouter_ConditionalHeadersNotForwarded(t *testing.T) {
	var sawConditional atomic.Bool
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			sawConditional.Store(true)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		if r.URL.Path == "/frag" {
			_, _ = w.Write([]byte("F"))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("ETag", `"page-v1"`)
		_, _ = w.Write([]byte(`<b><esi:include src="/frag"/></b>`))
	}))
	t.Cleanup(origin.Close)
	r, _, _ := newTestRouter(t, origin, fmt.Sprintf("origin:\n  url: %s\nesi:\n  base_url: %s\n", origin.URL, origin.URL), "")

	w := do(r, http.MethodGet, "/page", nil, map[string]string{
		"If-None-Match":     `"page-v1"`,
		"If-Modified-Since": "Mon, 02 Jan 2006 15:04:05 GMT",
	})
	if w.Code != http.StatusOK || w.Body.String() != "<b>F</b>" {
		t.Fatalf("code=%d body=%q", w.Code, w.Body.String())
	}
	if sawConditional.Load() {
		t.Fatalf("conditional headers reached origin")
	}
	if got := w.Header().Get("ETag"); got != "" {
		t.Fatalf("etag=%q, want none on a rewritten page", got)
	}
}

func TestRouter_BaseURLFromRequest(t *testing.T) {
	origin := newTestOrigin(t, map[string]string{
		"/foo/bar/index.html":  `<esi:include src="header.html"></esi:include>`,
		"/foo/bar/header.html": "I'm included via /foo/bar/header.html",
	})
	doc := fmt.Sprintf("origin:\n  url: %s\nesi:\n  base_url_from_request: true\n", origin.URL)
	r, _, _ := newTestRouter(t, origin, doc, "")

	w := do(r, http.MethodGet, "/foo/bar/index.html", nil, nil)
	if got := w.Body.String(); got != "I'm included via /foo/bar/header.html" {
		t.Fatalf("body=%q", got)
	}
}

func TestRouter_NonHTMLPassesThrough(t *testing.T) {
	raw := `{"html":"<esi:include src=\"/frag\"/>"}`
	origin := newTestOrigin(t, map[string]string{"/data.json": raw, "/frag": "F"})
	r, _, _ := newTestRouter(t, origin, fmt.Sprintf("origin:\n  url: %s\nesi:\n  base_url: %s\n", origin.URL, origin.URL), "")

	if got := do(r, http.MethodGet, "/data.json", nil, nil).Body.String(); got != raw {
		t.Fatalf("body=%q", got)
	}
}

func TestRouter_OriginUnavailable(t *testing.T) {
	origin := newTestOrigin(t, nil)
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	r, _, _ := newTestRouter(t, origin, fmt.Sprintf("origin:\n  url: %s\n", deadURL), "")
	if w := do(r, http.MethodGet, "/page", nil, nil); w.Code != http.StatusBadGateway {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPost, "/page", nil, nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
}

func TestRouter_NoOriginAnswers404(t *testing.T) {
	origin := newTestOrigin(t, nil)
	r, _, _ := newTestRouter(t, origin, "{}\n", "")
	if w := do(r, http.MethodGet, "/page", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("code=%d", w.Code)
	}
	w := do(r, http.MethodGet, "/healthz", nil, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok":true`) {
		t.Fatalf("healthz code=%d body=%s", w.Code, w.Body.String())
	}
}

func TestRouter_AdminScan(t *testing.T) {
	origin := newTestOrigin(t, nil)
	r, _, _ := newTestRouter(t, origin, "auth:\n  api_key: secret\n", "")

	body := `<esi:include src="/a"/><esi:include alt="x"/><esi:vars>$(A)</esi:vars>`
	w := do(r, http.MethodPost, "/admin/scan", strings.NewReader(body), nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	w = do(r, http.MethodPost, "/admin/scan", strings.NewReader(body), map[string]string{"Authorization": "Bearer secret"})
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
	var out struct {
		Directives []scanDirective `json:"directives"`
		Errors     []scanProblem   `json:"errors"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Directives) != 2 || out.Directives[0].Src != "/a" || out.Directives[1].Kind != "vars" {
		t.Fatalf("unexpected directives: %+v", out.Directives)
	}
	if len(out.Errors) != 1 || out.Errors[0].Reason != "missing src attribute" {
		t.Fatalf("unexpected errors: %+v", out.Errors)
	}
}

func TestRouter_AdminDisabledWithoutKey(t *testing.T) {
	origin := newTestOrigin(t, nil)
	r, _, _ := newTestRouter(t, origin, "{}\n", "")
	if w := do(r, http.MethodPost, "/admin/reload", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("code=%d", w.Code)
	}
}

func TestRouter_AdminReloadPicksUpVarsFile(t *testing.T) {
	origin := newTestOrigin(t, map[string]string{
		"/page": `<p><esi:vars>$(SITE)/$(REGION|eu)</esi:vars></p>`,
	})
	varsPath := filepath.Join(t.TempDir(), "vars.yaml")
	if err := os.WriteFile(varsPath, []byte("SITE: one\n"), 0o600); err != nil {
		t.Fatalf("write vars: %v", err)
	}
	doc := fmt.Sprintf("auth:\n  api_key: secret\norigin:\n  url: %s\nesi:\n  vars:\n    SITE: inline\n  vars_file: %s\n", origin.URL, varsPath)
	r, _, _ := newTestRouter(t, origin, doc, "")

	if got := do(r, http.MethodGet, "/page", nil, nil).Body.String(); got != "<p>one/eu</p>" {
		t.Fatalf("body=%q", got)
	}

	if err := os.WriteFile(varsPath, []byte("SITE: two\nREGION: us\n"), 0o600); err != nil {
		t.Fatalf("rewrite vars: %v", err)
	}
	w := do(r, http.MethodPost, "/admin/reload", nil, map[string]string{"x-api-key": "secret"})
	if w.Code != http.StatusOK {
		t.Fatalf("reload code=%d body=%s", w.Code, w.Body.String())
	}
	if got := do(r, http.MethodGet, "/page", nil, nil).Body.String(); got != "<p>two/us</p>" {
		t.Fatalf("body=%q", got)
	}
}

func TestRouter_Views(t *testing.T) {
	origin := newTestOrigin(t, map[string]string{"/frag": "F"})
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.html"), []byte(`<p>{{.name}}</p><esi:include src="/frag"/>`), 0o600); err != nil {
		t.Fatalf("write template: %v", err)
	}
	r, _, _ := newTestRouter(t, origin, fmt.Sprintf("esi:\n  base_url: %s\n", origin.URL), dir)

	w := do(r, http.MethodGet, "/views/hello.html?name=x", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
	if got := w.Body.String(); got != "<p>x</p>F" {
		t.Fatalf("body=%q", got)
	}
	if w := do(r, http.MethodGet, "/views/missing.html", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("code=%d", w.Code)
	}
}
