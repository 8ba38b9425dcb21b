package config

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manager owns the three configuration files and serves the parsed state.
// It uses atomic pointer swaps so readers never see a partial reload.
type Manager struct {
	config      atomic.Pointer[Config]
	modelMap    atomic.Pointer[map[string]ModelEntry]
	endpointMap atomic.Pointer[map[string]EndpointBinding]

	configPath   string
	modelPath    string
	endpointPath string

	watcher  *fsnotify.Watcher
	onChange []func(*Config)
	logger   *slog.Logger
}

// NewManager loads all three files. The model and endpoint map files are
// optional; a missing file yields an empty map.
func NewManager(configPath, modelPath, endpointPath string, logger *slog.Logger) (*Manager, error) {
	m := &Manager{
		configPath:   configPath,
		modelPath:    modelPath,
		endpointPath: endpointPath,
		logger:       logger,
	}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Get returns the current configuration. Safe for concurrent use.
func (m *Manager) Get() *Config {
	return m.config.Load()
}

// ModelMap returns the current model map.
func (m *Manager) ModelMap() map[string]ModelEntry {
	return *m.modelMap.Load()
}

// EndpointMap returns the current endpoint map.
func (m *Manager) EndpointMap() map[string]EndpointBinding {
	return *m.endpointMap.Load()
}

// ModelEntryFor resolves a model name: the endpoint map decides first, the
// model map second, and unknown models default to a text entry.
func (m *Manager) ModelEntryFor(name string) ModelEntry {
	if entry, ok := m.ModelMap()[name]; ok {
		return entry
	}
	return ModelEntry{Type: ModelTypeText}
}

// ConfigPath returns the path of the main config file.
func (m *Manager) ConfigPath() string {
	return m.configPath
}

// OnChange registers a callback invoked after every successful reload.
func (m *Manager) OnChange(fn func(*Config)) {
	m.onChange = append(m.onChange, fn)
}

// Reload re-reads all three files and swaps them in atomically. On error
// the previous state is kept.
func (m *Manager) Reload() error {
	cfg, err := LoadFromFile(m.configPath)
	if err != nil {
		return err
	}

	modelMap := map[string]ModelEntry{}
	if m.modelPath != "" {
		if loaded, err := LoadModelMap(m.modelPath); err == nil {
			modelMap = loaded
		} else if m.logger != nil {
			m.logger.Warn("model map unavailable, continuing with empty map",
				"path", m.modelPath, "error", err)
		}
	}

	endpointMap := map[string]EndpointBinding{}
	if m.endpointPath != "" {
		if loaded, err := LoadEndpointMap(m.endpointPath); err == nil {
			endpointMap = loaded
		} else if m.logger != nil {
			m.logger.Warn("endpoint map unavailable, continuing with empty map",
				"path", m.endpointPath, "error", err)
		}
	}

	m.config.Store(cfg)
	m.modelMap.Store(&modelMap)
	m.endpointMap.Store(&endpointMap)

	for _, fn := range m.onChange {
		fn(cfg)
	}
	return nil
}

// Watch starts watching the configuration files for changes. Rapid edits
// are debounced before reloading.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	for _, path := range []string{m.configPath, m.modelPath, m.endpointPath} {
		if path == "" {
			continue
		}
		if err := watcher.Add(path); err != nil {
			m.logger.Warn("cannot watch file", "path", path, "error", err)
		}
	}

	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	const debounceDelay = 500 * time.Millisecond
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			_ = m.watcher.Close()
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					if err := m.Reload(); err != nil {
						m.logger.Error("failed to reload config, keeping current", "error", err)
						return
					}
					m.logger.Info("configuration reloaded")
				})
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("config watcher error", "error", err)
		}
	}
}

// Close stops the configuration watcher.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
