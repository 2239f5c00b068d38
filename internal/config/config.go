package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/r9s-ai/esi-router/pkg/esi"
)

type Config struct {
	Server struct {
		Listen         string `yaml:"listen"`
		ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
		WriteTimeoutMs int    `yaml:"write_timeout_ms"`
		PidFile        string `yaml:"pid_file"`
	} `yaml:"server"`

	Auth struct {
		// APIKey guards /admin/*. Admin routes are not registered when empty.
		APIKey string `yaml:"api_key"`
	} `yaml:"auth"`

	Origin struct {
		URL       string `yaml:"url"`
		TimeoutMs int    `yaml:"timeout_ms"`
	} `yaml:"origin"`

	Templates struct {
		Dir string `yaml:"dir"`
	} `yaml:"templates"`

	ESI ESIConfig `yaml:"esi"`

	Upstream struct {
		// Proxy routes fragment fetches through an http, https or socks5 proxy.
		Proxy               string `yaml:"proxy"`
		MaxIdleConnsPerHost int    `yaml:"max_idle_conns_per_host"`
		UserAgent           string `yaml:"user_agent"`
		MaxBodyBytes        int64  `yaml:"max_body_bytes"`
	} `yaml:"upstream"`

	Logging struct {
		Level         string `yaml:"level"`
		AccessLog     *bool  `yaml:"access_log"`
		AccessLogPath string `yaml:"access_log_path"`
	} `yaml:"logging"`
}

type ESIConfig struct {
	BaseURL  string            `yaml:"base_url"`
	Headers  map[string]string `yaml:"headers"`
	Vars     map[string]string `yaml:"vars"`
	VarsFile string            `yaml:"vars_file"`

	AutoReload struct {
		Enabled    bool `yaml:"enabled"`
		DebounceMs int  `yaml:"debounce_ms"`
	} `yaml:"auto_reload"`

	TimeoutMs      int `yaml:"timeout_ms"`
	MaxDepth       int `yaml:"max_depth"`
	MaxConcurrency int `yaml:"max_concurrency"`

	ContentTypes       []string `yaml:"content_types"`
	ForwardHeaders     []string `yaml:"forward_headers"`
	RequestVars        bool     `yaml:"request_vars"`
	BaseURLFromRequest bool     `yaml:"base_url_from_request"`
}

func Load(path string) (*Config, error) {
	// #nosec G304 -- config path comes from trusted flag.
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes a config document and applies defaults, env overrides and validation.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AccessLogEnabled reports logging.access_log, which defaults to true.
func (c *Config) AccessLogEnabled() bool {
	return c.Logging.AccessLog == nil || *c.Logging.AccessLog
}

// ESIDefaults converts the esi section into engine defaults. Vars from
// vars_file are merged over inline vars by the caller.
func (c *Config) ESIDefaults() esi.Config {
	out := esi.Config{
		BaseURL:        c.ESI.BaseURL,
		Timeout:        time.Duration(c.ESI.TimeoutMs) * time.Millisecond,
		MaxDepth:       c.ESI.MaxDepth,
		MaxConcurrency: c.ESI.MaxConcurrency,
	}
	if len(c.ESI.Headers) > 0 {
		out.Headers = make(map[string]string, len(c.ESI.Headers))
		for k, v := range c.ESI.Headers {
			out.Headers[k] = v
		}
	}
	if len(c.ESI.Vars) > 0 {
		out.Vars = make(map[string]string, len(c.ESI.Vars))
		for k, v := range c.ESI.Vars {
			out.Vars[k] = v
		}
	}
	return out
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Server.Listen) == "" {
		cfg.Server.Listen = ":3000"
	}
	if cfg.Server.ReadTimeoutMs <= 0 {
		cfg.Server.ReadTimeoutMs = 60000
	}
	if cfg.Server.WriteTimeoutMs <= 0 {
		cfg.Server.WriteTimeoutMs = 60000
	}
	if strings.TrimSpace(cfg.Server.PidFile) == "" {
		cfg.Server.PidFile = "/var/run/esi-router.pid"
	}
	if cfg.Origin.TimeoutMs <= 0 {
		cfg.Origin.TimeoutMs = 30000
	}
	if cfg.ESI.TimeoutMs <= 0 {
		cfg.ESI.TimeoutMs = int(esi.DefaultTimeout / time.Millisecond)
	}
	if cfg.ESI.MaxDepth <= 0 {
		cfg.ESI.MaxDepth = esi.DefaultMaxDepth
	}
	if len(cfg.ESI.ContentTypes) == 0 {
		cfg.ESI.ContentTypes = []string{"text/html"}
	}
	if cfg.ESI.AutoReload.DebounceMs <= 0 {
		cfg.ESI.AutoReload.DebounceMs = 300
	}
	if cfg.Upstream.MaxBodyBytes <= 0 {
		cfg.Upstream.MaxBodyBytes = esi.DefaultMaxBodyBytes
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("ESI_LISTEN")); v != "" {
		cfg.Server.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv("ESI_PID_FILE")); v != "" {
		cfg.Server.PidFile = v
	}
	if v := strings.TrimSpace(os.Getenv("ESI_API_KEY")); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ESI_ORIGIN_URL")); v != "" {
		cfg.Origin.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("ESI_TEMPLATES_DIR")); v != "" {
		cfg.Templates.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv("ESI_BASE_URL")); v != "" {
		cfg.ESI.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ESI_VARS_FILE")); v != "" {
		cfg.ESI.VarsFile = v
	}
	if v := strings.TrimSpace(os.Getenv("ESI_UPSTREAM_PROXY")); v != "" {
		cfg.Upstream.Proxy = v
	}
	if v := strings.TrimSpace(os.Getenv("ESI_ACCESS_LOG_PATH")); v != "" {
		cfg.Logging.AccessLogPath = v
	}
	if v, ok := envInt("ESI_TIMEOUT_MS"); ok && v > 0 {
		cfg.ESI.TimeoutMs = v
	}
	if v, ok := envInt("ESI_MAX_DEPTH"); ok && v > 0 {
		cfg.ESI.MaxDepth = v
	}
	if v, ok := envInt("ESI_MAX_CONCURRENCY"); ok && v >= 0 {
		cfg.ESI.MaxConcurrency = v
	}
	if v, ok := envInt("ESI_READ_TIMEOUT_MS"); ok && v > 0 {
		cfg.Server.ReadTimeoutMs = v
	}
	if v, ok := envInt("ESI_WRITE_TIMEOUT_MS"); ok && v > 0 {
		cfg.Server.WriteTimeoutMs = v
	}
	cfg.ESI.RequestVars = envBool("ESI_REQUEST_VARS", cfg.ESI.RequestVars)
	cfg.ESI.BaseURLFromRequest = envBool("ESI_BASE_URL_FROM_REQUEST", cfg.ESI.BaseURLFromRequest)
	cfg.ESI.AutoReload.Enabled = envBool("ESI_AUTO_RELOAD", cfg.ESI.AutoReload.Enabled)
	if v := strings.TrimSpace(os.Getenv("ESI_ACCESS_LOG")); v != "" {
		b := envBool("ESI_ACCESS_LOG", cfg.AccessLogEnabled())
		cfg.Logging.AccessLog = &b
	}
}

func validate(cfg *Config) error {
	if v := strings.TrimSpace(cfg.ESI.BaseURL); v != "" {
		if err := validateAbsURL(v); err != nil {
			return fmt.Errorf("esi.base_url: %w", err)
		}
	}
	if v := strings.TrimSpace(cfg.Origin.URL); v != "" {
		if err := validateAbsURL(v); err != nil {
			return fmt.Errorf("origin.url: %w", err)
		}
	}
	if cfg.ESI.BaseURLFromRequest && strings.TrimSpace(cfg.Origin.URL) == "" {
		return errors.New("esi.base_url_from_request requires origin.url")
	}
	if cfg.ESI.MaxConcurrency < 0 {
		return errors.New("esi.max_concurrency must be non-negative")
	}
	if v := strings.TrimSpace(cfg.Upstream.Proxy); v != "" {
		u, err := url.Parse(v)
		if err != nil || u.Host == "" {
			return fmt.Errorf("upstream.proxy: invalid url %q", v)
		}
		switch strings.ToLower(u.Scheme) {
		case "http", "https", "socks5", "socks5h":
		default:
			return fmt.Errorf("upstream.proxy: unsupported scheme %q", u.Scheme)
		}
	}
	return nil
}

func validateAbsURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func envInt(name string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
