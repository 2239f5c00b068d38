package httpclient

import (
	"net/http"
	"net/url"
	"testing"
	"time"
)

func TestNew_UsesHTTPProxy(t *testing.T) {
	hc, err := New(Options{Timeout: 3 * time.Second, ProxyURL: "http://127.0.0.1:7890"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr, ok := hc.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", hc.Transport)
	}
	if tr.Proxy == nil {
		t.Fatalf("expected proxy function to be set")
	}
	pu, err := tr.Proxy(&http.Request{URL: &url.URL{Scheme: "https", Host: "example.com"}})
	if err != nil {
		t.Fatalf("unexpected proxy error: %v", err)
	}
	if pu == nil || pu.Scheme != "http" || pu.Host != "127.0.0.1:7890" {
		t.Fatalf("unexpected proxy url: %#v", pu)
	}
	if hc.Timeout != 3*time.Second {
		t.Fatalf("timeout=%v", hc.Timeout)
	}
}

func TestNew_NoProxyKeepsDefaults(t *testing.T) {
	hc, err := New(Options{MaxIdleConnsPerHost: 32})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr := hc.Transport.(*http.Transport)
	if tr.MaxIdleConnsPerHost != 32 {
		t.Fatalf("MaxIdleConnsPerHost=%d", tr.MaxIdleConnsPerHost)
	}
	if tr == http.DefaultTransport {
		t.Fatalf("expected a cloned transport")
	}
}

func TestNew_InvalidProxyScheme(t *testing.T) {
	if _, err := New(Options{ProxyURL: "socks4://127.0.0.1:7890"}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := New(Options{ProxyURL: "http://"}); err == nil {
		t.Fatalf("expected error for missing host")
	}
}

func TestNew_SOCKS5(t *testing.T) {
	hc, err := New(Options{ProxyURL: "socks5://127.0.0.1:7890"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr := hc.Transport.(*http.Transport)
	if tr.Proxy != nil {
		t.Fatalf("expected proxy func to be nil for socks5")
	}
	if tr.DialContext == nil {
		t.Fatalf("expected DialContext to be set for socks5")
	}
}
