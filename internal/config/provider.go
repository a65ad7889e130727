package config

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Provider exposes the settings the engine reads on every bar. Implementations
// must return current values on each call so edits apply on the next bar.
type Provider interface {
	Risk() RiskConfig
	ActivePair() string
	Timeframe() string
}

// Static is a Provider over a fixed Config.
type Static struct {
	cfg *Config
}

// NewStatic wraps cfg as a Provider.
func NewStatic(cfg *Config) *Static {
	return &Static{cfg: cfg}
}

func (s *Static) Risk() RiskConfig { return s.cfg.Risk }
func (s *Static) ActivePair() string { return s.cfg.Trading.ActivePair }
func (s *Static) Timeframe() string { return s.cfg.Trading.Timeframe }

// Watcher is a Provider backed by config.toml that reloads when the file
// changes on disk. Invalid edits are logged and the previous values kept.
type Watcher struct {
	v      *viper.Viper
	logger zerolog.Logger

	mu      sync.RWMutex
	current Config
}

// NewWatcher reads config.toml from configDir and starts watching it.
func NewWatcher(configDir string, logger zerolog.Logger) (*Watcher, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	v := newViper(configDir)
	v.SetConfigFile(filepath.Join(configDir, "config.toml"))
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config.toml: %w", err)
	}

	w := &Watcher{v: v, logger: logger}
	if err := w.reload(); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := w.reload(); err != nil {
			w.logger.Error().Err(err).Str("file", evt.Name).Msg("Config reload failed, keeping previous values")
			return
		}
		w.logger.Info().Str("file", evt.Name).Msg("Config reloaded")
	})
	v.WatchConfig()

	return w, nil
}

func (w *Watcher) reload() error {
	var cfg Config
	if err := w.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("decoding config.toml: %w", err)
	}
	if err := cfg.Risk.Validate(); err != nil {
		return err
	}
	if cfg.Trading.ActivePair == "" {
		return fmt.Errorf("active_pair is required")
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	return nil
}

// Risk returns the latest valid risk settings.
func (w *Watcher) Risk() RiskConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current.Risk
}

// ActivePair returns the latest valid trading pair.
func (w *Watcher) ActivePair() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current.Trading.ActivePair
}

// Timeframe returns the latest valid kline interval.
func (w *Watcher) Timeframe() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current.Trading.Timeframe
}
