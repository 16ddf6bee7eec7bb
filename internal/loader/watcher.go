package loader

import (
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often the Watcher stats the config file.
const DefaultWatchInterval = 5 * time.Second

// =============================================================================
// Config Watcher
// =============================================================================

// Watcher watches a config file for changes and reloads it.
//
// Only settings that are safe to change at runtime should be taken from
// the reloaded config; the callback decides which.
type Watcher struct {
	path     string
	interval time.Duration
	callback func(*Config, error)
	done     chan struct{}
	stopOnce sync.Once
	modTime  time.Time
}

// NewWatcher creates a new config file watcher. callback receives either
// the reloaded, validated config or the error that prevented it.
func NewWatcher(path string, interval time.Duration, callback func(*Config, error)) *Watcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &Watcher{
		path:     path,
		interval: interval,
		callback: callback,
		done:     make(chan struct{}),
	}
}

// Start begins watching the config file.
func (w *Watcher) Start() {
	if info, err := os.Stat(w.path); err == nil {
		w.modTime = info.ModTime()
	}

	go w.watch()
}

// Stop stops watching. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) watch() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				continue
			}

			if info.ModTime().After(w.modTime) {
				w.modTime = info.ModTime()
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err == nil {
		err = Validate(cfg)
	}
	if w.callback == nil {
		return
	}
	if err != nil {
		w.callback(nil, err)
		return
	}
	w.callback(cfg, nil)
}
