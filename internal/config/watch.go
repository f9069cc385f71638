package config

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Config from disk whenever its file changes and hands
// the new value to OnReload. Editors that replace-then-rename (most do)
// emit Remove followed by Create rather than Write, so both are treated
// as a reload trigger.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	OnReload func(*Config, error)
	logger   *slog.Logger
}

// NewWatcher starts watching path's parent directory for changes to path.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{path: path, watcher: fw, logger: logger}, nil
}

// Run blocks, dispatching OnReload on every relevant filesystem event,
// until Close is called.
func (w *Watcher) Run() {
	target := filepath.Clean(w.path)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload failed", "path", w.path, "error", err)
			}
			if w.OnReload != nil {
				w.OnReload(cfg, err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// Close stops the underlying filesystem watch.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
