package main

import (
	"fmt"
	"sync"

	"github.com/cyclopcam/logs"

	"redlight/internal/config"
	"redlight/internal/database"
	"redlight/internal/logging"
	"redlight/internal/pipeline"
)

// tuningStore layers the persisted runtime override on top of the file
// config and pushes the result into the processor
type tuningStore struct {
	mu        sync.Mutex
	base      *config.TuningConfig
	override  *config.TuningConfig
	db        *database.Database
	processor *pipeline.Processor
	log       logs.Log
}

func newTuningStore(base *config.TuningConfig, db *database.Database, log logs.Log) *tuningStore {
	return &tuningStore{
		base:     base,
		override: config.EmptyTuningConfig(),
		db:       db,
		log:      logging.Component(log, "Config"),
	}
}

// Load reads the stored override. A stored override that no longer
// validates against the file config is ignored.
func (s *tuningStore) Load() error {
	if s.db == nil {
		return nil
	}
	override, err := s.db.LoadTuningOverride()
	if err != nil {
		s.log.Warnf("Ignoring stored override: %v", err)
		return nil
	}
	if override == nil {
		return nil
	}
	if err := s.base.Merge(override).Validate(); err != nil {
		s.log.Warnf("Ignoring stored override: %v", err)
		return nil
	}

	s.mu.Lock()
	s.override = override
	s.mu.Unlock()
	s.log.Infof("Applied stored tuning override")
	return nil
}

// Effective returns the file config with the override applied
func (s *tuningStore) Effective() *config.TuningConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base.Merge(s.override)
}

// Override returns the current runtime override
func (s *tuningStore) Override() *config.TuningConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.override.Merge(nil)
}

// Apply merges patch into the override, validates, persists and hands the
// new settings to the processor. The processor picks them up between frames.
func (s *tuningStore) Apply(patch *config.TuningConfig) (*config.TuningConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	override := s.override.Merge(patch)
	effective := s.base.Merge(override)
	if err := effective.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if s.db != nil {
		if err := s.db.SaveTuningOverride(override); err != nil {
			return nil, err
		}
	}
	s.override = override
	if s.processor != nil {
		s.processor.UpdateSettings(pipeline.SettingsFromTuning(effective))
	}
	s.log.Infof("Tuning override updated")
	return effective, nil
}
