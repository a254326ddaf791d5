// Package watcher watches the config file and applies hot reloads.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/brokerdesk/portal/internal/config"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const configReloadDebounce = 150 * time.Millisecond

// Watcher reloads the config file when its content changes and hands the
// new config to the reload callback.
type Watcher struct {
	configPath        string
	config            *config.Config
	configMu          sync.RWMutex
	configReloadMu    sync.Mutex
	configReloadTimer *time.Timer
	reloadCallback    func(*config.Config)
	watcher           *fsnotify.Watcher
	lastConfigHash    string
}

// NewWatcher creates a watcher for configPath. reloadCallback runs on the
// timer goroutine after each successful reload.
func NewWatcher(configPath string, reloadCallback func(*config.Config)) (*Watcher, error) {
	fsw, errNewWatcher := fsnotify.NewWatcher()
	if errNewWatcher != nil {
		return nil, errNewWatcher
	}
	abs, errAbs := filepath.Abs(configPath)
	if errAbs != nil {
		abs = configPath
	}
	return &Watcher{
		configPath:     filepath.Clean(abs),
		reloadCallback: reloadCallback,
		watcher:        fsw,
	}, nil
}

// Start begins watching. Events stop when ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	return w.start(ctx)
}

// Stop stops the file watcher.
func (w *Watcher) Stop() error {
	w.stopConfigReloadTimer()
	return w.watcher.Close()
}

// SetConfig records the config currently in effect and its file hash.
func (w *Watcher) SetConfig(cfg *config.Config) {
	hash, err := fileHash(w.configPath)
	if err != nil {
		log.WithError(err).Debug("watcher: initial config hash unavailable")
	}
	w.configMu.Lock()
	defer w.configMu.Unlock()
	w.config = cfg
	w.lastConfigHash = hash
}

// Config returns the config currently in effect.
func (w *Watcher) Config() *config.Config {
	w.configMu.RLock()
	defer w.configMu.RUnlock()
	return w.config
}
