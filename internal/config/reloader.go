package config

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
)

// Listener is told about a reload with the new config and the json names of
// the top-level sections that changed.
type Listener func(cfg *Config, changed []string)

// Reloader re-reads the .env and config files, swaps the current config
// atomically and notifies listeners. Listeners run in registration order
// under the reload lock.
type Reloader struct {
	configPath string
	dotenvPath string
	current    atomic.Pointer[Config]
	mu         sync.Mutex // serializes reload
	listeners  []Listener
}

// NewReloader creates a Reloader with the given initial config.
func NewReloader(configPath, dotenvPath string, initial *Config) *Reloader {
	r := &Reloader{
		configPath: configPath,
		dotenvPath: dotenvPath,
	}
	r.current.Store(initial)
	return r
}

// Current returns the current config.
func (r *Reloader) Current() *Config {
	return r.current.Load()
}

// OnReload registers a listener. It only runs when something changed.
func (r *Reloader) OnReload(fn Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Reload re-reads both files and returns the changed sections. A config that
// fails to load leaves the current one in place.
func (r *Reloader) Reload() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// .env first: the config re-expands env templates
	if err := ReloadDotenv(r.dotenvPath); err != nil {
		return nil, fmt.Errorf("reload dotenv: %w", err)
	}
	cfg, err := Load(r.configPath)
	if err != nil {
		return nil, fmt.Errorf("reload config: %w", err)
	}

	changed := Changed(r.current.Load(), cfg)
	if len(changed) == 0 {
		slog.Debug("config unchanged")
		return nil, nil
	}
	r.current.Store(cfg)
	slog.Info("config reloaded", "changed", strings.Join(changed, ","))

	for _, fn := range r.listeners {
		fn(cfg, changed)
	}
	return changed, nil
}

// Changed lists the top-level sections, by json name, that differ between
// two configs.
func Changed(prev, next *Config) []string {
	if prev == nil {
		prev = &Config{}
	}
	if next == nil {
		next = &Config{}
	}
	a, b := reflect.ValueOf(*prev), reflect.ValueOf(*next)
	t := a.Type()

	var changed []string
	for i := range t.NumField() {
		if reflect.DeepEqual(a.Field(i).Interface(), b.Field(i).Interface()) {
			continue
		}
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		changed = append(changed, name)
	}
	return changed
}
