package app

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the process-wide configuration. One instance lives inside the
// StateStore; it changes only through explicit update calls and can be reset
// to the built-in defaults.
type AppConfig struct {
	Version             int            `yaml:"version"`
	DefaultModel        string         `yaml:"default_model"`
	AvailableModels     []string       `yaml:"available_models"`
	BaseURL             string         `yaml:"base_url"`
	APIKey              string         `yaml:"api_key,omitempty"`
	MaxTokens           int            `yaml:"max_tokens"`
	HistoryLimit        int            `yaml:"history_limit"`
	SessionTimeoutMin   int            `yaml:"session_timeout_minutes"`
	ConfidenceThreshold float64        `yaml:"confidence_threshold"`
	ModelTimeoutSec     int            `yaml:"model_timeout_seconds"`
	StorageDriver       string         `yaml:"storage_driver"` // sqlite|file
	StorageRoot         string         `yaml:"storage_root,omitempty"`
	Preferences         map[string]any `yaml:"preferences,omitempty"`
}

const configVersion = 1

func DefaultConfig() AppConfig {
	return AppConfig{
		Version:             configVersion,
		DefaultModel:        "minimax-m2.1",
		AvailableModels:     []string{"minimax-m2.1", "llama3.2:3b"},
		BaseURL:             "https://api.minimax.io/anthropic/v1/messages",
		MaxTokens:           4096,
		HistoryLimit:        200,
		SessionTimeoutMin:   120,
		ConfidenceThreshold: 0.8,
		ModelTimeoutSec:     30,
		StorageDriver:       "sqlite",
	}
}

func (c AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutMin) * time.Minute
}

func (c AppConfig) ModelTimeout() time.Duration {
	return time.Duration(c.ModelTimeoutSec) * time.Second
}

func (c AppConfig) clone() AppConfig {
	out := c
	out.AvailableModels = append([]string(nil), c.AvailableModels...)
	out.Preferences = copyAnyMap(c.Preferences)
	return out
}

// ConfigUpdate is a partial configuration change. Nil fields are left alone;
// Preferences merges key-wise over the existing map (shallow).
type ConfigUpdate struct {
	DefaultModel        *string
	AvailableModels     []string
	BaseURL             *string
	APIKey              *string
	MaxTokens           *int
	HistoryLimit        *int
	SessionTimeoutMin   *int
	ConfidenceThreshold *float64
	ModelTimeoutSec     *int
	StorageDriver       *string
	StorageRoot         *string
	Preferences         map[string]any
}

func (c AppConfig) applied(u ConfigUpdate) AppConfig {
	out := c.clone()
	if u.DefaultModel != nil {
		out.DefaultModel = *u.DefaultModel
	}
	if u.AvailableModels != nil {
		out.AvailableModels = append([]string(nil), u.AvailableModels...)
	}
	if u.BaseURL != nil {
		out.BaseURL = *u.BaseURL
	}
	if u.APIKey != nil {
		out.APIKey = *u.APIKey
	}
	if u.MaxTokens != nil {
		out.MaxTokens = *u.MaxTokens
	}
	if u.HistoryLimit != nil {
		out.HistoryLimit = *u.HistoryLimit
	}
	if u.SessionTimeoutMin != nil {
		out.SessionTimeoutMin = *u.SessionTimeoutMin
	}
	if u.ConfidenceThreshold != nil {
		out.ConfidenceThreshold = *u.ConfidenceThreshold
	}
	if u.ModelTimeoutSec != nil {
		out.ModelTimeoutSec = *u.ModelTimeoutSec
	}
	if u.StorageDriver != nil {
		out.StorageDriver = *u.StorageDriver
	}
	if u.StorageRoot != nil {
		out.StorageRoot = *u.StorageRoot
	}
	if u.Preferences != nil {
		if out.Preferences == nil {
			out.Preferences = make(map[string]any, len(u.Preferences))
		}
		for k, v := range u.Preferences {
			out.Preferences[k] = v
		}
	}
	return out
}

func LoadConfig(path string) (AppConfig, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.backfill()
	return cfg, nil
}

// backfill restores defaults for zero values so a sparse config file still
// yields a usable configuration.
func (c *AppConfig) backfill() {
	def := DefaultConfig()
	if c.Version <= 0 {
		c.Version = def.Version
	}
	if c.DefaultModel == "" {
		c.DefaultModel = def.DefaultModel
	}
	if len(c.AvailableModels) == 0 {
		c.AvailableModels = append([]string(nil), def.AvailableModels...)
	}
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = def.MaxTokens
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.SessionTimeoutMin <= 0 {
		c.SessionTimeoutMin = def.SessionTimeoutMin
	}
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1 {
		c.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if c.ModelTimeoutSec <= 0 {
		c.ModelTimeoutSec = def.ModelTimeoutSec
	}
	if c.StorageDriver != "sqlite" && c.StorageDriver != "file" {
		c.StorageDriver = def.StorageDriver
	}
}

func SaveConfig(cfg AppConfig, path string) error {
	if path == "" {
		return errors.New("no path provided for config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "relay", "config.yml")
}

func DefaultStorageRoot() string {
	if base := os.Getenv("XDG_DATA_HOME"); base != "" {
		return filepath.Join(base, "relay", "storage")
	}
	if base, err := os.UserHomeDir(); err == nil && base != "" {
		return filepath.Join(base, ".local", "share", "relay", "storage")
	}
	return filepath.Join(os.TempDir(), "relay", "storage")
}
