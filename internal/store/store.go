// Package store persists the scheduler's state (groups, override history,
// settings) as a single JSON document on disk.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/climate-tools/climate-scheduler/internal/overrides"
	"github.com/climate-tools/climate-scheduler/internal/registry"
	"github.com/climate-tools/climate-scheduler/internal/schedule"
)

const (
	DefaultMinTemp = 5.0
	DefaultMaxTemp = 30.0
)

// Settings holds the global temperature clamp bounds.
type Settings struct {
	MinTemp float64 `json:"min_temp"`
	MaxTemp float64 `json:"max_temp"`
}

func (s Settings) validate() error {
	if s.MinTemp >= s.MaxTemp {
		return fmt.Errorf("min_temp %.1f must be below max_temp %.1f", s.MinTemp, s.MaxTemp)
	}
	return nil
}

type document struct {
	Settings        Settings          `json:"settings"`
	Groups          []registry.Group  `json:"groups"`
	OverrideHistory []overrides.Entry `json:"override_history"`
}

// FileStore keeps the document in memory and rewrites the backing file on
// every mutation. Writes go through a temp file and rename so a crash never
// leaves a half-written document behind.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu  sync.Mutex
	doc document
}

func New(path string, logger *slog.Logger) (*FileStore, error) {
	s := FileStore{path: path, logger: logger}
	if err := s.load(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *FileStore) load() error {
	body, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.doc = document{Settings: Settings{MinTemp: DefaultMinTemp, MaxTemp: DefaultMaxTemp}}
		s.logger.Info("no state file found, starting empty", "path", s.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state file: %w", err)
	}
	var doc document
	if err = json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("parse state file %s: %w", s.path, err)
	}
	s.doc = normalize(doc, s.logger)
	return nil
}

// normalize repairs documents written by older versions or edited by hand:
// missing settings get defaults, invalid clamp bounds are reset, and schedule
// buckets that no mode can resolve are dropped.
func normalize(doc document, logger *slog.Logger) document {
	if doc.Settings == (Settings{}) {
		doc.Settings = Settings{MinTemp: DefaultMinTemp, MaxTemp: DefaultMaxTemp}
	}
	if doc.Settings.validate() != nil {
		logger.Warn("invalid clamp bounds in state file, resetting to defaults",
			"min_temp", doc.Settings.MinTemp, "max_temp", doc.Settings.MaxTemp)
		doc.Settings = Settings{MinTemp: DefaultMinTemp, MaxTemp: DefaultMaxTemp}
	}
	for i := range doc.Groups {
		dropUnknownBuckets(&doc.Groups[i], logger)
		for name, p := range doc.Groups[i].Profiles {
			for bucket := range p.Schedules {
				if !knownBucket(bucket) {
					logger.Warn("dropping unknown schedule bucket",
						"group", doc.Groups[i].Name, "profile", name, "bucket", bucket)
					delete(p.Schedules, bucket)
				}
			}
		}
	}
	return doc
}

func dropUnknownBuckets(g *registry.Group, logger *slog.Logger) {
	for bucket := range g.Schedules {
		if !knownBucket(bucket) {
			logger.Warn("dropping unknown schedule bucket", "group", g.Name, "bucket", bucket)
			delete(g.Schedules, bucket)
		}
	}
}

func knownBucket(b schedule.Bucket) bool {
	switch b {
	case schedule.BucketAllDays, schedule.BucketWeekday, schedule.BucketWeekend,
		"mon", "tue", "wed", "thu", "fri", "sat", "sun":
		return true
	}
	return false
}

func (s *FileStore) write() error {
	body, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err = tmp.Write(body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write state file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}
	if err = os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// LoadGroups implements registry.Store.
func (s *FileStore) LoadGroups() ([]registry.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Groups, nil
}

// SaveGroups implements registry.Store.
func (s *FileStore) SaveGroups(groups []registry.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Groups = groups
	return s.write()
}

// LoadOverrideHistory implements overrides.Store.
func (s *FileStore) LoadOverrideHistory() ([]overrides.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.OverrideHistory, nil
}

// SaveOverrideHistory implements overrides.Store.
func (s *FileStore) SaveOverrideHistory(entries []overrides.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.OverrideHistory = entries
	return s.write()
}

// Settings returns the current clamp bounds.
func (s *FileStore) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Settings
}

// SetSettings validates and persists new clamp bounds.
func (s *FileStore) SetSettings(settings Settings) error {
	if err := settings.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Settings = settings
	return s.write()
}
