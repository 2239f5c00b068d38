package esi

import (
	"net/http"
	"strings"
	"time"
)

const (
	DefaultTimeout  = 5 * time.Second
	DefaultMaxDepth = 5
)

// Config holds process-level defaults. It is never mutated by a resolution call.
type Config struct {
	BaseURL        string
	Headers        map[string]string
	Vars           map[string]string
	Timeout        time.Duration
	MaxDepth       int
	MaxConcurrency int
}

// Overrides are request-scoped settings. Zero values mean "not set".
type Overrides struct {
	BaseURL  string
	Headers  map[string]string
	Vars     map[string]string
	Timeout  time.Duration
	MaxDepth int
}

// EffectiveOptions is the merged option set of one top-level call.
// It is built by ResolveOptions and treated as read-only afterwards.
type EffectiveOptions struct {
	BaseURL string
	Headers http.Header
	Vars    map[string]string
	Timeout time.Duration
	// MaxDepth bounds recursion: text at depth >= MaxDepth is not processed.
	// The top-level body is depth 0.
	MaxDepth int
	// MaxConcurrency limits concurrent fetches per pass; 0 means unbounded.
	MaxConcurrency int
}

// ResolveOptions merges override > global > built-in default, field by field.
// Headers and vars merge key-wise, the override winning on collision.
func ResolveOptions(global Config, override *Overrides) EffectiveOptions {
	out := EffectiveOptions{
		BaseURL:        strings.TrimSpace(global.BaseURL),
		Headers:        make(http.Header, len(global.Headers)),
		Vars:           make(map[string]string, len(global.Vars)),
		Timeout:        global.Timeout,
		MaxDepth:       global.MaxDepth,
		MaxConcurrency: global.MaxConcurrency,
	}
	mergeHeaders(out.Headers, global.Headers)
	for k, v := range global.Vars {
		out.Vars[k] = v
	}

	if override != nil {
		if v := strings.TrimSpace(override.BaseURL); v != "" {
			out.BaseURL = v
		}
		mergeHeaders(out.Headers, override.Headers)
		for k, v := range override.Vars {
			out.Vars[k] = v
		}
		if override.Timeout > 0 {
			out.Timeout = override.Timeout
		}
		if override.MaxDepth > 0 {
			out.MaxDepth = override.MaxDepth
		}
	}

	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.MaxDepth <= 0 {
		out.MaxDepth = DefaultMaxDepth
	}
	if out.MaxConcurrency < 0 {
		out.MaxConcurrency = 0
	}
	return out
}

func mergeHeaders(dst http.Header, src map[string]string) {
	for k, v := range src {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		dst.Set(k, v)
	}
}
