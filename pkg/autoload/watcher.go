package autoload

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long the watcher waits for file events to settle.
const DefaultDebounce = 500 * time.Millisecond

// Watcher rescans an index and regenerates its bundle when module files change.
type Watcher struct {
	index    *Index
	bundler  *Bundler
	logger   zerolog.Logger
	debounce time.Duration
	onSync   func(SyncResult)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
	stopped bool

	// regenMu serializes rescans and bundle writes.
	regenMu sync.Mutex
}

// NewWatcher creates a watcher for index. onSync, when set, is called after every
// regeneration with its result.
func NewWatcher(index *Index, bundler *Bundler, logger zerolog.Logger, onSync func(SyncResult)) *Watcher {
	return &Watcher{
		index:    index,
		bundler:  bundler,
		logger:   logger.With().Str("component", "autoload-watcher").Str("controller", index.Owner()).Logger(),
		debounce: DefaultDebounce,
		onSync:   onSync,
	}
}

// SetDebounce changes the settle delay.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Watch starts watching the registered directories until ctx is done.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	w.mu.Lock()
	w.watcher = fw
	w.stopped = false
	w.mu.Unlock()

	dirs := w.index.Registered()
	for _, d := range dirs {
		if err := fw.Add(d.Path); err != nil {
			w.logger.Warn().Err(err).Str("dir", d.Path).Msg("Failed to watch directory")
		}
	}

	go w.processEvents(ctx, fw)

	w.logger.Info().Int("dirs", len(dirs)).Msg("Started watching autoload directories")
	return nil
}

// processEvents debounces module file events into a single regeneration.
func (w *Watcher) processEvents(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			_ = fw.Close()
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != w.index.Extension() || filepath.Base(event.Name) == BundleFileName {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Module file changed")

			w.schedule()

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// schedule restarts the debounce timer unless the watcher was stopped.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		stopped := w.stopped
		w.mu.Unlock()
		if stopped {
			return
		}
		if _, err := w.Regenerate(); err != nil {
			w.logger.Error().Err(err).Msg("Failed to regenerate bundle")
		}
	})
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Regenerate rescans the index and syncs the bundle to disk. Concurrent calls run
// one after another. onSync is called after the write, outside the lock.
func (w *Watcher) Regenerate() (SyncResult, error) {
	w.regenMu.Lock()
	w.index.Rescan()
	result, err := w.bundler.SyncToDisk("")
	w.regenMu.Unlock()
	if err != nil {
		return result, err
	}
	if w.onSync != nil {
		w.onSync(result)
	}
	return result, nil
}

// Stop stops watching for file changes. A regeneration still waiting for events to
// settle is dropped.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.watcher != nil {
		err := w.watcher.Close()
		w.watcher = nil
		return err
	}
	return nil
}
