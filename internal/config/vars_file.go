package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadVarsFile reads a flat YAML mapping of variable names to values.
// An empty path yields no vars.
func LoadVarsFile(path string) (map[string]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	// #nosec G304 -- vars_file comes from trusted config/env.
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse vars file %q: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = t
		case map[string]any, []any:
			return nil, fmt.Errorf("vars file %q: value of %q must be a scalar", path, k)
		default:
			out[k] = fmt.Sprintf("%v", t)
		}
	}
	return out, nil
}

// MergeVars returns base overlaid with over. Neither input is modified.
func MergeVars(base, over map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}
