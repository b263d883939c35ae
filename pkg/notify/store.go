package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/sentinel/pkg/log"
	"github.com/rs/zerolog"
)

// SettingsStore owns the notification settings document. Every change goes
// through it and is written to disk before it becomes visible.
type SettingsStore struct {
	path     string
	logger   zerolog.Logger
	mu       sync.RWMutex
	settings Settings
}

// NewSettingsStore creates a store backed by the JSON file at path.
// Call Load before use.
func NewSettingsStore(path string) *SettingsStore {
	return &SettingsStore{
		path:     path,
		logger:   log.WithComponent("notify"),
		settings: DefaultSettings(),
	}
}

// Path returns the backing file
func (s *SettingsStore) Path() string {
	return s.path
}

// Load reads the settings file. A missing file leaves the defaults in place.
func (s *SettingsStore) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info().Str("path", s.path).Msg("No notification settings file, using defaults")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read notification settings: %w", err)
	}

	loaded := DefaultSettings()
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("failed to parse notification settings %s: %w", s.path, err)
	}
	// Files written before a kind existed lack its template
	if loaded.Templates == nil {
		loaded.Templates = map[string]string{}
	}
	for kind, tmpl := range DefaultTemplates() {
		if _, ok := loaded.Templates[kind]; !ok {
			loaded.Templates[kind] = tmpl
		}
	}
	if loaded.Repeat.IntervalMinutes < 1 {
		loaded.Repeat.IntervalMinutes = defaultRepeat
	}

	s.mu.Lock()
	s.settings = loaded
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the current settings
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Clone()
}

// Update merges patch into the current settings and persists the result.
// A rejected patch leaves the stored settings untouched.
func (s *SettingsStore) Update(patch Patch) (Settings, error) {
	return s.mutate(func(cur Settings) (Settings, error) {
		return cur.Apply(patch)
	})
}

// SetSnooze suppresses notifications until the given time
func (s *SettingsStore) SetSnooze(until time.Time) (Settings, error) {
	return s.mutate(func(cur Settings) (Settings, error) {
		until = until.UTC()
		cur.SnoozeUntil = &until
		return cur, nil
	})
}

// ClearSnooze removes any snooze
func (s *SettingsStore) ClearSnooze() (Settings, error) {
	return s.mutate(func(cur Settings) (Settings, error) {
		cur.SnoozeUntil = nil
		return cur, nil
	})
}

// ResetTemplates restores the built-in templates
func (s *SettingsStore) ResetTemplates() (Settings, error) {
	return s.mutate(func(cur Settings) (Settings, error) {
		cur.Templates = DefaultTemplates()
		return cur, nil
	})
}

func (s *SettingsStore) mutate(fn func(Settings) (Settings, error)) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(s.settings.Clone())
	if err != nil {
		return Settings{}, err
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return Settings{}, fmt.Errorf("failed to encode notification settings: %w", err)
	}
	if err := writeFileAtomic(s.path, data, 0600); err != nil {
		return Settings{}, fmt.Errorf("failed to save notification settings: %w", err)
	}

	s.settings = next
	return next.Clone(), nil
}

// writeFileAtomic replaces path with data so readers see either the old or
// the new content, never a partial file
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
