package esiserver

import (
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/r9s-ai/esi-router/internal/config"
	"github.com/r9s-ai/esi-router/internal/version"
	"github.com/r9s-ai/esi-router/pkg/esi"
	"github.com/r9s-ai/esi-router/pkg/httpclient"
)

func Run(cfgPath string) error {
	startedAt := time.Now().Unix()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	accessLogger, accessClose, accessColor, err := openAccessLogger(cfg)
	if err != nil {
		return fmt.Errorf("init access log: %w", err)
	}
	if accessClose != nil {
		defer func() { _ = accessClose.Close() }()
	}

	pidCleanup, err := writePIDFile(cfg)
	if err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	if pidCleanup != nil {
		defer func() { _ = pidCleanup.Close() }()
	}

	st := &state{}
	st.SetStartedAtUnix(startedAt)
	if _, err := reloadRuntime(cfg, st); err != nil {
		return err
	}

	eng, err := newEngine(cfg)
	if err != nil {
		return fmt.Errorf("init fragment client: %w", err)
	}
	originClient, err := httpclient.New(httpclient.Options{
		Timeout: time.Duration(cfg.Origin.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("init origin client: %w", err)
	}
	tmpl, err := loadTemplates(cfg.Templates.Dir)
	if err != nil {
		return fmt.Errorf("load templates dir %q: %w", cfg.Templates.Dir, err)
	}

	installReloadSignalHandler(cfg, st)
	watcher, err := installVarsAutoReload(cfg, st)
	if err != nil {
		return fmt.Errorf("vars auto-reload: %w", err)
	}
	if watcher != nil {
		defer func() { _ = watcher.Close() }()
	}

	engine := NewRouter(cfg, st, eng, originClient, tmpl, accessLogger, accessColor)
	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           engine,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutMs) * time.Millisecond,
	}

	log.Printf("esi-router %s listening on %s", version.Short(), cfg.Server.Listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

func newEngine(cfg *config.Config) (*esi.Engine, error) {
	hc, err := httpclient.New(httpclient.Options{
		ProxyURL:            cfg.Upstream.Proxy,
		MaxIdleConnsPerHost: cfg.Upstream.MaxIdleConnsPerHost,
	})
	if err != nil {
		return nil, err
	}
	ua := strings.TrimSpace(cfg.Upstream.UserAgent)
	if ua == "" {
		ua = version.UserAgent()
	}
	return esi.NewEngine(&esi.Fetcher{
		HTTP:         hc,
		MaxBodyBytes: cfg.Upstream.MaxBodyBytes,
		UserAgent:    ua,
	}), nil
}

// loadTemplates parses every file in dir as a named html template. An empty
// dir disables view rendering.
func loadTemplates(dir string) (*template.Template, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*"))
	if err != nil {
		return nil, err
	}
	files := matches[:0]
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && !fi.IsDir() {
			files = append(files, m)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no templates found")
	}
	return template.ParseFiles(files...)
}

func openAccessLogger(cfg *config.Config) (*log.Logger, io.Closer, bool, error) {
	if cfg == nil || !cfg.AccessLogEnabled() {
		return nil, nil, false, nil
	}

	path := strings.TrimSpace(cfg.Logging.AccessLogPath)
	if path == "" {
		return log.New(os.Stdout, "", log.LstdFlags), nil, true, nil
	}

	dir := filepath.Dir(path)
	if strings.TrimSpace(dir) != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, nil, false, err
		}
	}
	// #nosec G304 -- access_log_path comes from trusted config/env.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, false, err
	}
	return log.New(f, "", log.LstdFlags), f, false, nil
}

type closerFunc func() error

func (c closerFunc) Close() error { return c() }

func writePIDFile(cfg *config.Config) (io.Closer, error) {
	if cfg == nil {
		return nil, nil
	}
	path := strings.TrimSpace(cfg.Server.PidFile)
	if path == "" {
		return nil, nil
	}
	dir := filepath.Dir(path)
	if strings.TrimSpace(dir) != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}

	tmp := path + ".tmp"
	pid := strconv.Itoa(os.Getpid()) + "\n"
	// #nosec G304 -- pid_file comes from trusted config/env.
	if err := os.WriteFile(tmp, []byte(pid), 0o600); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}
	return closerFunc(func() error { return os.Remove(path) }), nil
}

func installReloadSignalHandler(cfg *config.Config, st *state) {
	if cfg == nil || st == nil {
		return
	}
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGHUP)
	go func() {
		for range ch {
			d, err := reloadRuntime(cfg, st)
			if err != nil {
				log.Printf("reload failed: %v", err)
				continue
			}
			log.Printf("reload ok: vars=%d", len(d.Vars))
		}
	}()
}
