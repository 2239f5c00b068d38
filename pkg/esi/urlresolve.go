package esi

import (
	"net/http"
	"net/url"
	"strings"
)

// ResolvedFetch is the concrete request derived from an include and the call options.
type ResolvedFetch struct {
	URL     string
	Headers http.Header
}

// ResolveURL computes the fetch URL for an include directive.
//
// An absolute src (one with a scheme) is used verbatim. Anything else is resolved
// against opts.BaseURL with RFC 3986 reference resolution, so "header.html" under
// "http://h/foo/bar/index.html" becomes "http://h/foo/bar/header.html".
func ResolveURL(d Directive, opts EffectiveOptions) (ResolvedFetch, error) {
	src := d.Src()
	if src == "" {
		return ResolvedFetch{}, &ConfigError{Src: src, Reason: "empty src"}
	}
	ref, err := url.Parse(src)
	if err != nil {
		return ResolvedFetch{}, &ConfigError{Src: src, Reason: err.Error()}
	}

	var target *url.URL
	if ref.IsAbs() {
		target = ref
	} else {
		base := strings.TrimSpace(opts.BaseURL)
		if base == "" {
			return ResolvedFetch{}, &ConfigError{Src: src, Reason: "relative src without base url"}
		}
		bu, err := url.Parse(base)
		if err != nil {
			return ResolvedFetch{}, &ConfigError{Src: src, Reason: "invalid base url: " + err.Error()}
		}
		if !bu.IsAbs() || bu.Host == "" {
			return ResolvedFetch{}, &ConfigError{Src: src, Reason: "base url must be absolute: " + base}
		}
		target = bu.ResolveReference(ref)
	}

	switch strings.ToLower(target.Scheme) {
	case "http", "https":
	default:
		return ResolvedFetch{}, &ConfigError{Src: src, Reason: "unsupported scheme " + target.Scheme}
	}

	return ResolvedFetch{
		URL:     target.String(),
		Headers: opts.Headers.Clone(),
	}, nil
}
