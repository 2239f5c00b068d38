package esi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolveOptions_Defaults(t *testing.T) {
	o := ResolveOptions(Config{}, nil)
	require.Equal(t, "", o.BaseURL)
	require.Empty(t, o.Headers)
	require.Empty(t, o.Vars)
	require.Equal(t, DefaultTimeout, o.Timeout)
	require.Equal(t, DefaultMaxDepth, o.MaxDepth)
	require.Equal(t, 0, o.MaxConcurrency)
}

func TestResolveOptions_OverrideWinsPerField(t *testing.T) {
	global := Config{
		BaseURL:  "http://global",
		Headers:  map[string]string{"x-a": "global-a", "X-B": "global-b"},
		Vars:     map[string]string{"A": "ga", "B": "gb"},
		Timeout:  2 * time.Second,
		MaxDepth: 3,
	}
	o := ResolveOptions(global, &Overrides{
		BaseURL: "http://call/foo/index.html",
		Headers: map[string]string{"X-A": "call-a", "x-custom-header": "blah"},
		Vars:    map[string]string{"B": "cb"},
	})

	require.Equal(t, "http://call/foo/index.html", o.BaseURL)
	require.Equal(t, "call-a", o.Headers.Get("X-A"))
	require.Equal(t, "global-b", o.Headers.Get("X-B"))
	require.Equal(t, "blah", o.Headers.Get("X-Custom-Header"))
	require.Len(t, o.Headers, 3)
	require.Equal(t, map[string]string{"A": "ga", "B": "cb"}, o.Vars)
	require.Equal(t, 2*time.Second, o.Timeout)
	require.Equal(t, 3, o.MaxDepth)
}

func TestResolveOptions_DoesNotAliasInputs(t *testing.T) {
	global := Config{Headers: map[string]string{"X-A": "1"}, Vars: map[string]string{"V": "1"}}
	o := ResolveOptions(global, &Overrides{Timeout: time.Second, MaxDepth: 9})
	o.Headers.Set("X-A", "2")
	o.Vars["V"] = "2"

	require.Equal(t, "1", global.Headers["X-A"])
	require.Equal(t, "1", global.Vars["V"])
	require.Equal(t, time.Second, o.Timeout)
	require.Equal(t, 9, o.MaxDepth)
}
