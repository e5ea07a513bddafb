package config

import (
	"fmt"
	"sync"
)

// Manager provides thread-safe access to live configuration and validates
// that a hot-reload only changes cosmetic fields: state_db, lock_file, and
// the agent-runner/orchestrator backend selection require a restart.
type Manager interface {
	Get() *Config
	Set(cfg *Config)
	Reload(path string) error
}

// RWMutexManager is the concrete Manager backing cmd/gaodev.
type RWMutexManager struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewManager constructs a manager with an initial config.
func NewManager(initial *Config) *RWMutexManager {
	return &RWMutexManager{cfg: initial.Clone()}
}

// Get returns a cloned config snapshot under a shared lock so callers never
// observe a partially-updated struct.
func (m *RWMutexManager) Get() *Config {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Clone()
}

// Set replaces the current config under an exclusive lock.
func (m *RWMutexManager) Set(cfg *Config) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg.Clone()
}

// Reload loads config from path and, if only cosmetic fields changed,
// swaps it into place; otherwise it returns an error explaining that a
// restart is required.
func (m *RWMutexManager) Reload(path string) error {
	if m == nil {
		return fmt.Errorf("config manager is nil")
	}
	loaded, err := Load(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := validateRuntimeReload(m.cfg, loaded); err != nil {
		return err
	}
	m.cfg = loaded.Clone()
	return nil
}

// validateRuntimeReload rejects a reload that changes any field the running
// process has already wired up irrevocably: the state database path, the
// instance lock path, or either backend selection.
func validateRuntimeReload(old, new *Config) error {
	if old.General.StateDB != new.General.StateDB {
		return fmt.Errorf("config reload: state_db change requires restart (%q -> %q)", old.General.StateDB, new.General.StateDB)
	}
	if old.General.LockFile != new.General.LockFile {
		return fmt.Errorf("config reload: lock_file change requires restart (%q -> %q)", old.General.LockFile, new.General.LockFile)
	}
	if old.AgentRunner.Backend != new.AgentRunner.Backend {
		return fmt.Errorf("config reload: agent_runner.backend change requires restart (%q -> %q)", old.AgentRunner.Backend, new.AgentRunner.Backend)
	}
	if old.Orchestrator.Backend != new.Orchestrator.Backend {
		return fmt.Errorf("config reload: orchestrator.backend change requires restart (%q -> %q)", old.Orchestrator.Backend, new.Orchestrator.Backend)
	}
	return nil
}

var _ Manager = (*RWMutexManager)(nil)
