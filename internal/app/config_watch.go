package app

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig reloads the config file on change and pushes it through the
// store's normal update path, so subscribers observe the change like any
// other mutation. Returns when ctx is cancelled. Watching is opt-in from the
// CLI; the core never reads configuration implicitly.
func WatchConfig(ctx context.Context, path string, store *StateStore, logger *Logger) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace files on save, which drops a
	// watch placed on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := LoadConfig(path)
			if err != nil {
				if logger != nil {
					logger.Error("config reload failed", map[string]interface{}{"error": err.Error()})
				}
				continue
			}
			store.UpdateConfig(configAsUpdate(cfg))
			if logger != nil {
				logger.Info("config reloaded", map[string]interface{}{"path": path})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if logger != nil {
				logger.Error("config watch error", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// configAsUpdate turns a full loaded config into a whole-value update.
func configAsUpdate(cfg AppConfig) ConfigUpdate {
	update := ConfigUpdate{
		DefaultModel:        &cfg.DefaultModel,
		AvailableModels:     cfg.AvailableModels,
		BaseURL:             &cfg.BaseURL,
		MaxTokens:           &cfg.MaxTokens,
		HistoryLimit:        &cfg.HistoryLimit,
		SessionTimeoutMin:   &cfg.SessionTimeoutMin,
		ConfidenceThreshold: &cfg.ConfidenceThreshold,
		ModelTimeoutSec:     &cfg.ModelTimeoutSec,
		StorageDriver:       &cfg.StorageDriver,
		StorageRoot:         &cfg.StorageRoot,
		Preferences:         cfg.Preferences,
	}
	// A file without a key must not clobber a key injected from the
	// environment at startup.
	if cfg.APIKey != "" {
		update.APIKey = &cfg.APIKey
	}
	return update
}
