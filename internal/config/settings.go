package config

import (
	"fmt"
	"sync"

	"github.com/johnayoung/llm-council/internal/council"
)

// Settings is the council composition that can change while the server
// runs. Changes live in memory only and reset on restart.
type Settings struct {
	mu         sync.RWMutex
	current    council.Settings
	titleModel string
	route      func(model string) error
}

// SettingsOption configures Settings.
type SettingsOption func(*Settings)

// WithRouteCheck rejects updates naming a model that check cannot route.
func WithRouteCheck(check func(model string) error) SettingsOption {
	return func(s *Settings) { s.route = check }
}

// NewSettings seeds runtime settings from cfg.
func NewSettings(cfg Config, opts ...SettingsOption) *Settings {
	s := &Settings{current: cfg.CouncilSettings(), titleModel: cfg.TitleModel}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a copy that later updates do not affect.
func (s *Settings) Snapshot() council.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.current
	snap.CouncilModels = append([]string(nil), s.current.CouncilModels...)
	return snap
}

// TitleModel returns the configured title model, or the current chairman.
func (s *Settings) TitleModel() string {
	if s.titleModel != "" {
		return s.titleModel
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.ChairmanModel
}

// Update replaces the council and chairman after validating them.
func (s *Settings) Update(models []string, chairman string) (council.Settings, error) {
	next := s.Snapshot()
	next.CouncilModels = append([]string(nil), models...)
	next.ChairmanModel = chairman
	if err := next.Validate(); err != nil {
		return council.Settings{}, err
	}
	if s.route != nil {
		for _, m := range append(next.CouncilModels, chairman) {
			if err := s.route(m); err != nil {
				return council.Settings{}, fmt.Errorf("model %s cannot be served: %w", m, err)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = next
	out := next
	out.CouncilModels = append([]string(nil), next.CouncilModels...)
	return out, nil
}
