package common

import (
	"errors"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSet is a mutable PauseView keyed by lowercase module name.
type PauseSet struct {
	mu      sync.RWMutex
	modules map[string]bool
}

// NewPauseSet returns a set with the supplied modules paused.
func NewPauseSet(modules ...string) *PauseSet {
	set := &PauseSet{modules: make(map[string]bool)}
	for _, module := range modules {
		set.SetPaused(module, true)
	}
	return set
}

// IsPaused implements PauseView.
func (s *PauseSet) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modules[normalizeModule(module)]
}

// SetPaused toggles the pause flag of module.
func (s *PauseSet) SetPaused(module string, paused bool) {
	name := normalizeModule(module)
	if s == nil || name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if paused {
		s.modules[name] = true
		return
	}
	delete(s.modules, name)
}

func normalizeModule(module string) string {
	return strings.ToLower(strings.TrimSpace(module))
}
