// Package delivery manages the persisted switch telling whether notifications are sent
// to the chat or only logged.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/ubuntu/decorate"
)

// settings is the on disk representation of the delivery switch.
type settings struct {
	Enabled bool `toml:"enabled"`
}

// Manager loads, stores and watches the delivery settings file.
type Manager struct {
	path string

	mu      sync.RWMutex
	enabled bool

	log *slog.Logger
}

type options struct {
	logger *slog.Logger
}

// Options represents an optional function to override Manager default values.
type Options func(*options)

// WithLogger overrides the logger of the Manager.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.logger = l
	}
}

// New returns a Manager for the settings file at path. Delivery is enabled until the
// file says otherwise.
func New(path string, args ...Options) *Manager {
	opts := options{logger: slog.Default()}
	for _, opt := range args {
		opt(&opts)
	}

	return &Manager{
		path:    path,
		enabled: true,
		log:     opts.logger,
	}
}

// Path returns the settings file path.
func (m *Manager) Path() string {
	return m.path
}

// Load reads the settings file. A missing file enables delivery.
// On a decoding error the previous state is kept.
func (m *Manager) Load() (err error) {
	defer decorate.OnError(&err, "could not load delivery settings")

	s := settings{Enabled: true}
	if _, err := toml.DecodeFile(m.path, &s); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	m.mu.Lock()
	changed := m.enabled != s.Enabled
	m.enabled = s.Enabled
	m.mu.Unlock()

	if changed {
		m.log.Info("Delivery settings changed", "enabled", s.Enabled)
	}
	return nil
}

// Enabled tells whether notifications should be sent to the chat.
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// SetEnabled persists the delivery switch atomically and updates the in memory state.
func (m *Manager) SetEnabled(enabled bool) (err error) {
	defer decorate.OnError(&err, "could not store delivery settings")

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(settings{Enabled: enabled}); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0750); err != nil {
		return err
	}
	if err := atomicWrite(m.path, buf.Bytes()); err != nil {
		return err
	}

	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
	return nil
}

// Watch loads the settings file then reloads it each time it changes on disk.
//
// It returns two channels: one notified after each successful reload and another for
// unrecoverable watcher errors. Both are closed when ctx is done.
func (m *Manager) Watch(ctx context.Context) (changes <-chan struct{}, errs <-chan error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create watcher: %v", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("failed to create directory %s: %v", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("failed to add directory %s to watcher: %v", dir, err)
	}

	m.log.Debug("Watching delivery settings", "dir", dir)
	changesCh := make(chan struct{}, 1)
	errorsCh := make(chan error, 1)

	if err := m.Load(); err != nil {
		m.log.Warn("Error loading initial delivery settings", "err", err)
	}

	go func() {
		defer close(changesCh)
		defer close(errorsCh)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				m.log.Debug("Delivery settings watcher stopped")
				return
			case event, ok := <-watcher.Events:
				if !ok {
					errorsCh <- errors.New("watcher events channel closed unexpectedly")
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(m.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}

				if err := m.Load(); err != nil {
					m.log.Warn("Error reloading delivery settings", "err", err)
					continue
				}

				select {
				case changesCh <- struct{}{}:
				default:
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					errorsCh <- errors.New("watcher errors channel closed unexpectedly")
					return
				}
				m.log.Warn("Watcher error", "err", err)
			}
		}
	}()

	return changesCh, errorsCh, nil
}

// atomicWrite replaces path with data through a temporary file in the same directory.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "delivery-*.tmp")
	if err != nil {
		return fmt.Errorf("could not create temporary file: %v", err)
	}
	defer func() {
		_ = tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove temporary file", "file", tmp.Name(), "error", err)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("could not write to temporary file: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not close temporary file: %v", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("could not rename temporary file: %v", err)
	}
	return nil
}
