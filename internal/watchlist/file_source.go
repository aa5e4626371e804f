package watchlist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const DefaultDebounce = 250 * time.Millisecond

// fileFormat is the on-disk watchlist. A bare YAML sequence is accepted too.
type fileFormat struct {
	Hostnames []string `yaml:"hostnames"`
}

// LoadFile reads a watchlist YAML file.
func LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc fileFormat
	if err := yaml.Unmarshal(data, &doc); err == nil && doc.Hostnames != nil {
		return doc.Hostnames, nil
	}

	var list []string
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return list, nil
}

// WriteFile writes hostnames to path in the fileFormat layout.
func WriteFile(path string, hostnames []string) error {
	data, err := yaml.Marshal(fileFormat{Hostnames: hostnames})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// FileSource keeps a Service in sync with a YAML file on disk.
type FileSource struct {
	path     string
	service  *Service
	debounce time.Duration
	logger   zerolog.Logger

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	timer   *time.Timer
}

// NewFileSource creates a FileSource for path. Nothing is read until Run.
func NewFileSource(path string, service *Service, debounce time.Duration, logger zerolog.Logger) (*FileSource, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	return &FileSource{
		path:     abs,
		service:  service,
		debounce: debounce,
		logger:   logger.With().Str("component", "watchlist-file").Str("path", abs).Logger(),
		watcher:  watcher,
	}, nil
}

// Reload applies the file contents to the service. A missing file is not an
// error and leaves the watchlist untouched.
func (f *FileSource) Reload(ctx context.Context) error {
	hostnames, err := LoadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.logger.Debug().Msg("Watchlist file absent")
		return nil
	}
	if err != nil {
		return err
	}
	if err := f.service.Set(ctx, hostnames); err != nil {
		return err
	}
	f.logger.Info().Int("count", len(hostnames)).Msg("Watchlist file loaded")
	return nil
}

// Run loads the file once and then reloads it on change until ctx is done.
func (f *FileSource) Run(ctx context.Context) {
	if err := f.Reload(ctx); err != nil {
		f.logger.Error().Err(err).Msg("Initial watchlist load failed")
	}

	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				f.schedule(ctx)
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Error().Err(err).Msg("Watcher error")
		case <-ctx.Done():
			f.stopTimer()
			return
		}
	}
}

// schedule collapses bursts of events into one reload.
func (f *FileSource) schedule(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.timer != nil {
		f.timer.Stop()
	}
	f.timer = time.AfterFunc(f.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		if err := f.Reload(ctx); err != nil {
			f.logger.Error().Err(err).Msg("Watchlist reload failed")
		}
	})
}

func (f *FileSource) stopTimer() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
	}
}

// Close stops watching.
func (f *FileSource) Close() error {
	f.stopTimer()
	return f.watcher.Close()
}
