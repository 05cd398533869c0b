package alarm

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Preferences are the terminal-local alarm settings
type Preferences struct {
	Muted bool `yaml:"muted"`
}

// PreferenceFile persists Preferences as YAML
type PreferenceFile struct {
	path string
}

// NewPreferenceFile returns a store backed by path. An empty path keeps
// preferences in memory only.
func NewPreferenceFile(path string) *PreferenceFile {
	return &PreferenceFile{path: path}
}

// Load reads the preferences. A missing file yields the defaults (sound on).
func (p *PreferenceFile) Load() (Preferences, error) {
	var prefs Preferences
	if p.path == "" {
		return prefs, nil
	}

	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return prefs, nil
	}
	if err != nil {
		return prefs, fmt.Errorf("failed to read preferences: %w", err)
	}
	if err := yaml.Unmarshal(data, &prefs); err != nil {
		return Preferences{}, fmt.Errorf("failed to parse preferences: %w", err)
	}
	return prefs, nil
}

// Save writes the preferences
func (p *PreferenceFile) Save(prefs Preferences) error {
	if p.path == "" {
		return nil
	}

	data, err := yaml.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}
	if dir := filepath.Dir(p.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create preferences dir: %w", err)
		}
	}
	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	return nil
}
