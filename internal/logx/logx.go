package logx

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

var enableColor = isatty.IsTerminal(os.Stdout.Fd()) && strings.TrimSpace(os.Getenv("NO_COLOR")) == ""

// tailKeys are printed after the sorted fields, in this order.
var tailKeys = []string{
	"esi_directives",
	"esi_failures",
	"esi_depth_limited",
}

func ColorEnabled() bool { return enableColor }

func ColorizeStatus(status int) string {
	return ColorizeStatusWith(status, enableColor)
}

func ColorizeStatusWith(status int, color bool) string {
	if !color {
		return fmt.Sprintf("%d", status)
	}
	// ANSI colors
	const (
		reset  = "\x1b[0m"
		red    = "\x1b[31m"
		green  = "\x1b[32m"
		yellow = "\x1b[33m"
		cyan   = "\x1b[36m"
	)
	switch {
	case status >= 200 && status < 300:
		return green + fmt.Sprintf("%d", status) + reset
	case status >= 300 && status < 400:
		return cyan + fmt.Sprintf("%d", status) + reset
	case status >= 400 && status < 500:
		return yellow + fmt.Sprintf("%d", status) + reset
	default:
		return red + fmt.Sprintf("%d", status) + reset
	}
}

// FormatRequestLine prints a single line request log.
//
// Example:
// [ESI] 2026/01/26 - 17:44:22 | 200 | 12.3ms | 127.0.0.1 | GET "/news" | request_id=... esi_directives=3 esi_failures=1
func FormatRequestLine(
	ts time.Time,
	status int,
	latency time.Duration,
	clientIP string,
	method string,
	path string,
	fields map[string]any,
) string {
	return FormatRequestLineWithColor(ts, status, latency, clientIP, method, path, fields, enableColor)
}

func FormatRequestLineWithColor(
	ts time.Time,
	status int,
	latency time.Duration,
	clientIP string,
	method string,
	path string,
	fields map[string]any,
	color bool,
) string {
	base := fmt.Sprintf(
		`[ESI] %s | %s | %s | %s | %s %q`,
		ts.Format("2006/01/02 - 15:04:05"),
		ColorizeStatusWith(status, color),
		latency.String(),
		strings.TrimSpace(clientIP),
		strings.TrimSpace(method),
		path,
	)
	extra := formatFields(fields)
	if extra == "" {
		return base
	}
	return base + " | " + extra
}

func formatFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	tail := make(map[string]struct{}, len(tailKeys))
	for _, k := range tailKeys {
		tail[k] = struct{}{}
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if _, ok := tail[k]; ok {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(fields))
	appendIfPresent := func(k string) {
		v, ok := fields[k]
		if !ok || v == nil {
			return
		}
		if _, isTail := tail[k]; isTail {
			switch t := v.(type) {
			case int:
				if t == 0 {
					return
				}
			case bool:
				if !t {
					return
				}
			}
		}
		switch t := v.(type) {
		case string:
			if strings.TrimSpace(t) == "" {
				return
			}
			parts = append(parts, fmt.Sprintf("%s=%s", k, t))
		default:
			s := strings.TrimSpace(fmt.Sprintf("%v", v))
			if s == "" || s == "<nil>" {
				return
			}
			parts = append(parts, fmt.Sprintf("%s=%s", k, s))
		}
	}

	for _, k := range keys {
		appendIfPresent(k)
	}
	// Keep esi counters at the end for readability.
	for _, k := range tailKeys {
		appendIfPresent(k)
	}
	return strings.Join(parts, " ")
}
