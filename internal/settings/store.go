// Package settings holds the live scoring configuration. Updates are
// merge-then-validate: a patch only touches the fields it carries, and an
// invalid result leaves the previous settings fully in effect.
package settings

import (
	"log/slog"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Store guards the current settings snapshot. Readers get value copies, so
// a scoring pass keeps the settings it started with even if an update lands
// mid-flight.
type Store struct {
	mu      sync.RWMutex
	current domain.Settings
	logger  *slog.Logger
}

// NewStore creates a store seeded with the given settings.
func NewStore(initial domain.Settings, logger *slog.Logger) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{current: initial, logger: logger}, nil
}

// Current returns the settings snapshot in effect.
func (s *Store) Current() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update merges the patch into the current settings and installs the result
// atomically. On validation failure nothing changes and the previous
// settings are returned alongside the error.
func (s *Store) Update(patch domain.SettingsPatch) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.current.Apply(patch)
	if err != nil {
		s.logger.Warn("settings update rejected", "error", err)
		return s.current, err
	}
	s.current = next
	s.logger.Info("settings updated",
		"high_risk_threshold", next.HighRiskThreshold,
		"medium_risk_threshold", next.MediumRiskThreshold)
	return next, nil
}

// Reset restores the defaults.
func (s *Store) Reset() domain.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = domain.DefaultSettings()
	return s.current
}
