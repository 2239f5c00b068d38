package esiserver

import (
	"fmt"
	"io"
	"strings"

	"github.com/r9s-ai/esi-router/internal/config"
	"github.com/r9s-ai/esi-router/pkg/esi"
)

// CheckConfig builds everything Run would build from cfg without opening a
// listener or sending a request, and reports each step to out.
func CheckConfig(cfg *config.Config, out io.Writer) error {
	d, err := buildESIDefaults(cfg)
	if err != nil {
		return err
	}
	eff := esi.ResolveOptions(d, nil)
	fmt.Fprintf(out, "ok: esi base_url=%q vars=%d headers=%d timeout=%s max_depth=%d max_concurrency=%d\n",
		eff.BaseURL, len(eff.Vars), len(eff.Headers), eff.Timeout, eff.MaxDepth, eff.MaxConcurrency)
	if len(cfg.ESI.ContentTypes) > 0 {
		fmt.Fprintf(out, "ok: esi content_types=%s\n", strings.Join(cfg.ESI.ContentTypes, ","))
	}

	if _, err := newEngine(cfg); err != nil {
		return fmt.Errorf("fragment client: %w", err)
	}
	proxy := strings.TrimSpace(cfg.Upstream.Proxy)
	if proxy == "" {
		proxy = "none"
	}
	fmt.Fprintf(out, "ok: fragment client proxy=%s\n", proxy)

	tmpl, err := loadTemplates(cfg.Templates.Dir)
	if err != nil {
		return fmt.Errorf("templates dir %q: %w", cfg.Templates.Dir, err)
	}
	if tmpl != nil {
		fmt.Fprintf(out, "ok: templates views=%d\n", len(tmpl.Templates()))
	}

	if origin := strings.TrimSpace(cfg.Origin.URL); origin != "" {
		fmt.Fprintf(out, "ok: origin %s\n", origin)
	} else {
		fmt.Fprintln(out, "ok: no origin, only /views and /healthz are served")
	}
	if strings.TrimSpace(cfg.Auth.APIKey) == "" {
		fmt.Fprintln(out, "ok: admin routes disabled (auth.api_key empty)")
	}
	return nil
}
