package config

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Change is a single setting whose value differs after a reload
type Change struct {
	Setting  string
	OldValue string
	NewValue string
}

// Loader owns a viper instance so the same file can be reloaded and diffed
type Loader struct {
	path string
	v    *viper.Viper

	mu       sync.Mutex
	snapshot map[string]string
}

// NewLoader returns a loader for the INI file at path
func NewLoader(path string) *Loader {
	return &Loader{
		path: path,
		v:    newViper(path),
	}
}

// Path returns the configuration file path
func (l *Loader) Path() string {
	return l.path
}

// Load reads and validates the configuration
func (l *Loader) Load() (*Config, error) {
	cfg, snapshot, err := l.load()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.snapshot = snapshot
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) load() (*Config, map[string]string, error) {
	loadDotEnv()

	if err := readFile(l.v); err != nil {
		return nil, nil, err
	}
	cfg, err := decode(l.v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, flatten("", l.v.AllSettings()), nil
}

// Watch reloads the file whenever it changes on disk and calls onChange with
// every setting that differs from the previous load. Invalid reloads are
// logged and ignored; the previous configuration stays in effect.
func (l *Loader) Watch(logger *slog.Logger, onChange func(cfg *Config, changes []Change)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(l.v)
		if err != nil {
			logger.Warn("ignoring invalid config reload", "file", e.Name, "error", err)
			return
		}

		current := flatten("", l.v.AllSettings())

		l.mu.Lock()
		changes := Diff(l.snapshot, current)
		l.snapshot = current
		l.mu.Unlock()

		if len(changes) == 0 {
			return
		}
		logger.Info("configuration reloaded", "file", e.Name, "changed", len(changes))
		onChange(cfg, changes)
	})
	l.v.WatchConfig()
}

// Diff returns the settings that differ between two flattened snapshots,
// sorted by setting name
func Diff(old, current map[string]string) []Change {
	var changes []Change
	for k, nv := range current {
		if ov, ok := old[k]; !ok || ov != nv {
			changes = append(changes, Change{Setting: k, OldValue: old[k], NewValue: nv})
		}
	}
	for k, ov := range old {
		if _, ok := current[k]; !ok {
			changes = append(changes, Change{Setting: k, OldValue: ov})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Setting < changes[j].Setting })
	return changes
}

func flatten(prefix string, m map[string]any) map[string]string {
	out := make(map[string]string)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = fmt.Sprint(v)
	}
	return out
}
