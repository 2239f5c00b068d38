package esiserver

import (
	"fmt"
	"sync"
	"time"

	"github.com/r9s-ai/esi-router/internal/config"
	"github.com/r9s-ai/esi-router/pkg/esi"
)

// state holds the reloadable ESI defaults. Readers get a snapshot; a reload
// never changes the options of a call already in flight.
type state struct {
	mu         sync.RWMutex
	defaults   esi.Config
	startedAt  int64
	reloadedAt int64

	// reloadMu serializes SIGHUP, admin and file-watch reloads.
	reloadMu sync.Mutex
}

func (s *state) ESIDefaults() esi.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults
}

func (s *state) SetESIDefaults(d esi.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults = d
	s.reloadedAt = time.Now().Unix()
}

func (s *state) StartedAtUnix() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

func (s *state) SetStartedAtUnix(ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startedAt = ts
}

func (s *state) ReloadedAtUnix() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reloadedAt
}

// buildESIDefaults combines the esi section with the vars file; file entries win.
func buildESIDefaults(cfg *config.Config) (esi.Config, error) {
	d := cfg.ESIDefaults()
	fileVars, err := config.LoadVarsFile(cfg.ESI.VarsFile)
	if err != nil {
		return esi.Config{}, fmt.Errorf("load vars file %q: %w", cfg.ESI.VarsFile, err)
	}
	if len(fileVars) > 0 {
		d.Vars = config.MergeVars(d.Vars, fileVars)
	}
	return d, nil
}

func reloadRuntime(cfg *config.Config, st *state) (esi.Config, error) {
	if cfg == nil || st == nil {
		return esi.Config{}, fmt.Errorf("reload: nil cfg/state")
	}
	st.reloadMu.Lock()
	defer st.reloadMu.Unlock()
	d, err := buildESIDefaults(cfg)
	if err != nil {
		return esi.Config{}, err
	}
	st.SetESIDefaults(d)
	return d, nil
}
