package esigin

import (
	"context"
	"html/template"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/r9s-ai/esi-router/pkg/esi"
)

const testTemplates = `
{{define "single-external-component"}}<section><esi:include src="{{.src}}"></esi:include></section>{{end}}
{{define "empty-section"}}<section></section>{{end}}
{{define "single-external-component-relative"}}<esi:include src="/header"></esi:include>{{end}}
{{define "single-external-component-template-relative"}}<esi:include src="header.html"></esi:include>{{end}}
{{define "single-variable"}}<div id="simple-variable"><esi:vars>$(SIMPLE_VARIABLE)</esi:vars></div>
{{end}}`

func fragmentServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func staticFragment(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(body))
	}
}

func newTestRouter(t *testing.T, srv *httptest.Server, global esi.Config) (*gin.Engine, *Adapter) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	a := New(global, esi.NewEngine(&esi.Fetcher{HTTP: srv.Client()}))
	r := gin.New()
	r.SetHTMLTemplate(template.Must(template.New("views").Parse(testTemplates)))
	r.Use(a.Middleware())
	return r, a
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRender_FetchesExternalComponent(t *testing.T) {
	srv := fragmentServer(t, staticFragment("<div>test</div>"))
	r, a := newTestRouter(t, srv, esi.Config{})
	r.GET("/esi", func(c *gin.Context) {
		a.Render(c, http.StatusOK, "single-external-component", gin.H{"src": srv.URL}, nil)
	})

	w := get(r, "/esi")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "<section><div>test</div></section>", w.Body.String())
	require.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
}

func TestSend_String(t *testing.T) {
	srv := fragmentServer(t, staticFragment("<div>test</div>"))
	r, a := newTestRouter(t, srv, esi.Config{})
	r.GET("/esi", func(c *gin.Context) {
		a.Send(c, http.StatusOK, `<section><esi:include src="`+srv.URL+`"></esi:include></section>`, nil)
	})

	require.Equal(t, "<section><div>test</div></section>", get(r, "/esi").Body.String())
}

func TestSend_Bytes(t *testing.T) {
	srv := fragmentServer(t, staticFragment("<div>test</div>"))
	r, a := newTestRouter(t, srv, esi.Config{})
	r.GET("/esi", func(c *gin.Context) {
		c.Header("Content-Type", "text/html")
		a.Send(c, http.StatusOK, []byte(`<section><esi:include src="`+srv.URL+`"></esi:include></section>`), nil)
	})

	w := get(r, "/esi")
	require.Equal(t, "<section><div>test</div></section>", w.Body.String())
	require.Equal(t, "text/html", w.Header().Get("Content-Type"))
}

func TestMiddleware_ProcessesPlainHandlerOutput(t *testing.T) {
	srv := fragmentServer(t, staticFragment("<div>test</div>"))
	r, _ := newTestRouter(t, srv, esi.Config{})
	r.GET("/esi", func(c *gin.Context) {
		c.Header("Content-Length", "999")
		c.Data(http.StatusCreated, "text/html; charset=utf-8",
			[]byte(`<section><esi:include src="`+srv.URL+`"/></section>`))
	})

	w := get(r, "/esi")
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "<section><div>test</div></section>", w.Body.String())
	require.Equal(t, "34", w.Header().Get("Content-Length"))
}

func TestRender_CallbackWithoutData(t *testing.T) {
	srv := fragmentServer(t, staticFragment("<div>test</div>"))
	r, a := newTestRouter(t, srv, esi.Config{})
	r.GET("/esi", func(c *gin.Context) {
		a.Render(c, http.StatusOK, "empty-section", nil, func(err error, str string) {
			require.NoError(t, err)
			str = strings.Replace(str, "</section>", "<div>test</div></section>", 1)
			c.Data(http.StatusOK, "text/html", []byte(str))
		})
	})

	require.Equal(t, "<section><div>test</div></section>", get(r, "/esi").Body.String())
}

func TestRender_CallbackReceivesProcessedText(t *testing.T) {
	srv := fragmentServer(t, staticFragment("<div>test</div>"))
	r, a := newTestRouter(t, srv, esi.Config{})
	r.GET("/esi", func(c *gin.Context) {
		a.Render(c, http.StatusOK, "single-external-component", gin.H{"src": srv.URL}, func(err error, str string) {
			require.NoError(t, err)
			c.Data(http.StatusOK, "text/html", []byte(strings.Replace(str, "test", "teststuff", 1)))
		})
	})

	require.Equal(t, "<section><div>teststuff</div></section>", get(r, "/esi").Body.String())
}

func TestMiddleware_GlobalBaseURL(t *testing.T) {
	srv := fragmentServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/header" {
			_, _ = w.Write([]byte("<div>test</div>"))
			return
		}
		http.Error(w, "not found", http.StatusNotFound)
	})
	r, a := newTestRouter(t, srv, esi.Config{BaseURL: srv.URL})
	r.GET("/esi", func(c *gin.Context) {
		a.Render(c, http.StatusOK, "single-external-component-relative", nil, nil)
	})

	require.Equal(t, "<div>test</div>", get(r, "/esi").Body.String())
}

func TestSetOptions_PassesHeaders(t *testing.T) {
	srv := fragmentServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Custom-Header") != "" {
			_, _ = w.Write([]byte("<div>test</div>"))
			return
		}
		_, _ = w.Write([]byte("you should not get this"))
	})
	r, a := newTestRouter(t, srv, esi.Config{BaseURL: srv.URL})
	r.GET("/esi", func(c *gin.Context) {
		SetOptions(c, esi.Overrides{Headers: map[string]string{"x-custom-header": "blah"}})
		a.Render(c, http.StatusOK, "single-external-component-relative", nil, nil)
	})

	require.Equal(t, "<div>test</div>", get(r, "/esi").Body.String())
}

func TestSetOptions_RequestBaseURL(t *testing.T) {
	srv := fragmentServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("I'm included via " + r.URL.Path))
	})
	r, a := newTestRouter(t, srv, esi.Config{BaseURL: srv.URL})
	r.GET("/render/*path", func(c *gin.Context) {
		SetOptions(c, esi.Overrides{BaseURL: srv.URL + c.Param("path")})
		a.Render(c, http.StatusOK, "single-external-component-template-relative", nil, nil)
	})
	r.GET("/send/*path", func(c *gin.Context) {
		SetOptions(c, esi.Overrides{BaseURL: srv.URL + c.Param("path")})
		a.Send(c, http.StatusOK, `<esi:include src="header.html"></esi:include>`, nil)
	})

	require.Equal(t, "I'm included via /foo/bar/header.html", get(r, "/render/foo/bar/index.html").Body.String())
	require.Equal(t, "I'm included via /foo/bar/header.html", get(r, "/send/foo/bar/index.html").Body.String())
}

func TestSetOptions_Vars(t *testing.T) {
	srv := fragmentServer(t, staticFragment("<div>test</div>"))
	r, a := newTestRouter(t, srv, esi.Config{})
	r.GET("/esi", func(c *gin.Context) {
		SetOptions(c, esi.Overrides{Vars: map[string]string{"SIMPLE_VARIABLE": "simple value"}})
		a.Render(c, http.StatusOK, "single-variable", nil, func(err error, str string) {
			require.NoError(t, err)
			c.Data(http.StatusOK, "text/html", []byte(str))
		})
	})

	require.Equal(t, "<div id=\"simple-variable\">simple value</div>\n", get(r, "/esi").Body.String())
}

func TestMiddleware_SkipsOtherContentTypes(t *testing.T) {
	srv := fragmentServer(t, staticFragment("<div>test</div>"))
	r, _ := newTestRouter(t, srv, esi.Config{})
	body := `<esi:include src="` + srv.URL + `"/>`
	r.GET("/plain", func(c *gin.Context) {
		c.String(http.StatusOK, body)
	})

	require.Equal(t, body, get(r, "/plain").Body.String())
}

func TestMiddleware_DropsValidatorsWhenRewriting(t *testing.T) {
	srv := fragmentServer(t, staticFragment("<div>test</div>"))
	r, _ := newTestRouter(t, srv, esi.Config{})
	r.GET("/esi", func(c *gin.Context) {
		c.Header("ETag", `"v1"`)
		c.Header("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		c.Data(http.StatusOK, "text/html", []byte(`<esi:include src="`+srv.URL+`"/>`))
	})
	r.GET("/plain", func(c *gin.Context) {
		c.Header("ETag", `"v2"`)
		c.Data(http.StatusOK, "text/html", []byte("<p>no directives</p>"))
	})

	w := get(r, "/esi")
	require.Equal(t, "<div>test</div>", w.Body.String())
	require.Empty(t, w.Header().Get("ETag"))
	require.Empty(t, w.Header().Get("Last-Modified"))

	require.Equal(t, `"v2"`, get(r, "/plain").Header().Get("ETag"))
}

func TestMiddleware_FlushBypassesBuffering(t *testing.T) {
	srv := fragmentServer(t, staticFragment("<div>test</div>"))
	r, _ := newTestRouter(t, srv, esi.Config{})
	body := `<esi:include src="` + srv.URL + `"/>`
	r.GET("/stream", func(c *gin.Context) {
		c.Header("Content-Type", "text/html")
		_, _ = c.Writer.WriteString(body)
		c.Writer.Flush()
		_, _ = c.Writer.WriteString("!")
	})

	w := get(r, "/stream")
	require.Equal(t, body+"!", w.Body.String())
	require.True(t, w.Flushed)
}

func TestMiddleware_CanceledRequestAnswers500(t *testing.T) {
	srv := fragmentServer(t, staticFragment("<div>test</div>"))
	r, _ := newTestRouter(t, srv, esi.Config{})
	r.GET("/esi", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html", []byte(`<esi:include src="`+srv.URL+`"/>`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/esi", nil).WithContext(ctx))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "esi:include")
}

func TestAdapter_ForwardHeadersAndRequestVars(t *testing.T) {
	srv := fragmentServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("lang=" + r.Header.Get("Accept-Language")))
	})
	r, a := newTestRouter(t, srv, esi.Config{BaseURL: srv.URL})
	a.ForwardHeaders = []string{"Accept-Language"}
	a.RequestVars = true
	r.GET("/esi", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html",
			[]byte(`<esi:include src="/x"/>|<esi:vars>$(QUERY_STRING{page}) $(HTTP_COOKIE{sid}) $(HTTP_REFERER|none)</esi:vars>`))
	})

	req := httptest.NewRequest(http.MethodGet, "/esi?page=3", nil)
	req.Header.Set("Accept-Language", "de")
	req.AddCookie(&http.Cookie{Name: "sid", Value: "abc"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, "lang=de|3 abc none", w.Body.String())
}

func TestMiddleware_RecordsCounters(t *testing.T) {
	srv := fragmentServer(t, http.NotFound)
	gin.SetMode(gin.TestMode)
	a := New(esi.Config{BaseURL: srv.URL}, esi.NewEngine(&esi.Fetcher{HTTP: srv.Client()}))

	var directives, failures int
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Next()
		directives = c.GetInt(DirectivesKey)
		failures = c.GetInt(FailuresKey)
	})
	r.Use(a.Middleware())
	r.GET("/esi", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html", []byte(`<esi:include src="/a"/><esi:vars>x</esi:vars>`))
	})

	require.Equal(t, "x", get(r, "/esi").Body.String())
	require.Equal(t, 2, directives)
	require.Equal(t, 1, failures)
}

func TestRequestVars(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/a/b?x=1&y=2", nil)
	req.Header.Set("User-Agent", "ua")
	req.AddCookie(&http.Cookie{Name: "c", Value: "v"})
	vars := RequestVars(req)

	require.Equal(t, "example.com", vars["HTTP_HOST"])
	require.Equal(t, "ua", vars["HTTP_USER_AGENT"])
	require.Equal(t, "/a/b", vars["REQUEST_PATH"])
	require.Equal(t, "x=1&y=2", vars["QUERY_STRING"])
	require.Equal(t, "2", vars["QUERY_STRING{y}"])
	require.Equal(t, "v", vars["HTTP_COOKIE{c}"])
	require.Equal(t, "192.0.2.1", vars["REMOTE_ADDR"])
	_, hasReferer := vars["HTTP_REFERER"]
	require.False(t, hasReferer)
}
