package esiserver

import (
	"io"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/r9s-ai/esi-router/internal/config"
)

// installVarsAutoReload watches esi.vars_file and reloads the ESI defaults
// after a quiet period. The parent directory is watched so editors that
// replace the file by rename are seen too.
func installVarsAutoReload(cfg *config.Config, st *state) (io.Closer, error) {
	if cfg == nil || st == nil {
		return nil, nil
	}
	if !cfg.ESI.AutoReload.Enabled {
		return nil, nil
	}
	path := strings.TrimSpace(cfg.ESI.VarsFile)
	if path == "" {
		return nil, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	debounce := time.Duration(cfg.ESI.AutoReload.DebounceMs) * time.Millisecond

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	triggerCh := make(chan struct{}, 1)

	go func() {
		defer close(doneCh)
		var (
			timer  *time.Timer
			timerC <-chan time.Time
		)
		resetTimer := func() {
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)
			timerC = timer.C
		}
		runReload := func() {
			d, err := reloadRuntime(cfg, st)
			if err != nil {
				log.Printf("reload failed (vars auto): %v", err)
				return
			}
			log.Printf("reload ok (vars auto): vars_file=%q vars=%d", path, len(d.Vars))
		}

		for {
			select {
			case <-stopCh:
				if timer != nil {
					timer.Stop()
				}
				return
			case <-timerC:
				timerC = nil
				runReload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("vars auto-reload watcher error: %v", err)
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if shouldTriggerVarsReload(evt, abs) {
					select {
					case triggerCh <- struct{}{}:
					default:
					}
				}
			case <-triggerCh:
				resetTimer()
			}
		}
	}()

	log.Printf("vars auto-reload enabled: file=%q debounce_ms=%d", path, cfg.ESI.AutoReload.DebounceMs)
	return closerFunc(func() error {
		close(stopCh)
		_ = watcher.Close()
		<-doneCh
		return nil
	}), nil
}

func shouldTriggerVarsReload(evt fsnotify.Event, target string) bool {
	if strings.TrimSpace(evt.Name) == "" {
		return false
	}
	if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Chmod) == 0 {
		return false
	}
	name, err := filepath.Abs(evt.Name)
	if err != nil {
		return false
	}
	return name == target
}
