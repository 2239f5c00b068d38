package httpclienttest

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/r9s-ai/esi-router/pkg/httpclient"
)

// Route is the canned behavior for one URL.
type Route struct {
	Status int
	Body   string
	Header http.Header
	// Delay holds the response back; a cancelled request context ends the wait early.
	Delay time.Duration
	Err   error
}

// FakeDoer implements httpclient.HTTPDoer by URL lookup. It is safe for
// concurrent use, so it can back fan-out fetches.
type FakeDoer struct {
	t        testing.TB
	mu       sync.Mutex
	routes   map[string]Route
	requests []*http.Request
}

// NewFakeDoer returns a FakeDoer answering the given URLs. Unknown URLs answer 404.
func NewFakeDoer(t testing.TB, routes map[string]Route) *FakeDoer {
	cp := make(map[string]Route, len(routes))
	for k, v := range routes {
		cp[k] = v
	}
	return &FakeDoer{t: t, routes: cp}
}

// Do records the request and returns the routed response.
func (f *FakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	route, ok := f.routes[req.URL.String()]
	f.mu.Unlock()

	if !ok {
		f.t.Logf("fake doer: no route for %s %s", req.Method, req.URL.String())
		return NewStringResponse(http.StatusNotFound, "not found"), nil
	}
	if route.Delay > 0 {
		if err := sleepCtx(req.Context(), route.Delay); err != nil {
			return nil, err
		}
	}
	if route.Err != nil {
		return nil, route.Err
	}
	status := route.Status
	if status == 0 {
		status = http.StatusOK
	}
	resp := NewStringResponse(status, route.Body)
	for k, vs := range route.Header {
		resp.Header[k] = append([]string(nil), vs...)
	}
	resp.Request = req
	return resp, nil
}

// Requests returns the HTTP requests captured so far.
func (f *FakeDoer) Requests() []*http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*http.Request(nil), f.requests...)
}

// NewStringResponse builds a minimal http.Response with the provided status
// code and body string.
func NewStringResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ httpclient.HTTPDoer = (*FakeDoer)(nil)
