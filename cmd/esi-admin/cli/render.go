package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/r9s-ai/esi-router/internal/config"
	"github.com/r9s-ai/esi-router/internal/version"
	"github.com/r9s-ai/esi-router/pkg/esi"
	"github.com/r9s-ai/esi-router/pkg/httpclient"
)

type renderOptions struct {
	cfgPath        string
	baseURL        string
	headers        []string
	vars           []string
	timeout        time.Duration
	maxDepth       int
	maxConcurrency int
	proxy          string
	report         bool
}

func newRenderCmd() *cobra.Command {
	opts := renderOptions{}
	cmd := &cobra.Command{
		Use:   "render [file|-]",
		Short: "Resolve the ESI directives of a page and print the result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, args, opts)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&opts.cfgPath, "config", "c", "", "esi-router config yaml; its esi section supplies defaults")
	fs.StringVar(&opts.baseURL, "base-url", "", "base URL for relative src attributes")
	fs.StringArrayVarP(&opts.headers, "header", "H", nil, "fragment request header key=value (repeatable)")
	fs.StringArrayVar(&opts.vars, "var", nil, "esi:vars variable KEY=VALUE (repeatable)")
	fs.DurationVar(&opts.timeout, "timeout", 0, "per fragment timeout (default 5s)")
	fs.IntVar(&opts.maxDepth, "max-depth", 0, "maximum include nesting depth (default 5)")
	fs.IntVar(&opts.maxConcurrency, "max-concurrency", 0, "concurrent fetches per pass, 0 for unbounded")
	fs.StringVar(&opts.proxy, "proxy", "", "http, https or socks5 proxy for fragment fetches")
	fs.BoolVar(&opts.report, "report", false, "print directive failures to stderr")
	return cmd
}

func runRender(cmd *cobra.Command, args []string, opts renderOptions) error {
	body, err := readInput(cmd, args)
	if err != nil {
		return err
	}

	global := esi.Config{}
	proxyURL := strings.TrimSpace(opts.proxy)
	if p := strings.TrimSpace(opts.cfgPath); p != "" {
		cfg, err := config.Load(p)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		global = cfg.ESIDefaults()
		fileVars, err := config.LoadVarsFile(cfg.ESI.VarsFile)
		if err != nil {
			return fmt.Errorf("load vars file: %w", err)
		}
		global.Vars = config.MergeVars(global.Vars, fileVars)
		if proxyURL == "" {
			proxyURL = cfg.Upstream.Proxy
		}
	}
	if opts.maxConcurrency > 0 {
		global.MaxConcurrency = opts.maxConcurrency
	}

	headers, err := parseKVs("header", opts.headers)
	if err != nil {
		return err
	}
	vars, err := parseKVs("var", opts.vars)
	if err != nil {
		return err
	}
	eff := esi.ResolveOptions(global, &esi.Overrides{
		BaseURL:  strings.TrimSpace(opts.baseURL),
		Headers:  headers,
		Vars:     vars,
		Timeout:  opts.timeout,
		MaxDepth: opts.maxDepth,
	})

	hc, err := httpclient.New(httpclient.Options{ProxyURL: proxyURL})
	if err != nil {
		return err
	}
	eng := esi.NewEngine(&esi.Fetcher{HTTP: hc, UserAgent: version.UserAgent()})

	res, err := eng.SubstituteBytes(cmd.Context(), body, eff)
	if err != nil {
		return err
	}
	if opts.report {
		errOut := cmd.ErrOrStderr()
		for _, f := range res.Failures {
			fmt.Fprintf(errOut, "%s\n", f)
		}
		fmt.Fprintf(errOut, "directives=%d failures=%d depth_limited=%t\n", res.Directives, len(res.Failures), res.DepthLimited)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), res.Text)
	return err
}

