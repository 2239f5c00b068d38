package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// HTTPDoer captures the subset of *http.Client the fragment fetcher relies on.
// Tests inject fake implementations so they can run without a network.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Options struct {
	// Timeout is the client-wide ceiling. Per-fragment timeouts are applied on the request context.
	Timeout time.Duration
	// ProxyURL routes outbound requests through an http, https or socks5 proxy.
	ProxyURL            string
	MaxIdleConnsPerHost int
}

// New builds the outbound client used for fragment fetches.
func New(opts Options) (*http.Client, error) {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, errors.New("httpclient: unexpected default transport type")
	}
	tr := base.Clone()
	if opts.MaxIdleConnsPerHost > 0 {
		tr.MaxIdleConnsPerHost = opts.MaxIdleConnsPerHost
	}

	if raw := strings.TrimSpace(opts.ProxyURL); raw != "" {
		if err := applyProxy(tr, raw); err != nil {
			return nil, err
		}
	}

	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: tr,
	}, nil
}

func applyProxy(tr *http.Transport, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("httpclient: invalid proxy url %q: %w", raw, err)
	}
	if u.Host == "" {
		return fmt.Errorf("httpclient: proxy url %q has no host", raw)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		tr.Proxy = http.ProxyURL(u)
		return nil
	case "socks5", "socks5h":
		d, err := proxy.FromURL(u, &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second})
		if err != nil {
			return fmt.Errorf("httpclient: socks5 proxy %q: %w", raw, err)
		}
		tr.Proxy = nil
		if cd, ok := d.(proxy.ContextDialer); ok {
			tr.DialContext = cd.DialContext
		} else {
			tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return d.Dial(network, addr)
			}
		}
		return nil
	default:
		return fmt.Errorf("httpclient: unsupported proxy scheme %q (want http, https or socks5)", u.Scheme)
	}
}
