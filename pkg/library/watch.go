package library

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDuration batches the event bursts editors and copy tools produce
// for a single file before the callback fires.
const debounceDuration = 2 * time.Second

// Watch follows the library directory and invokes onChange with a batch of
// catalogued filenames after activity settles. Removed files leave the
// catalog without a callback. The watcher runs until ctx is cancelled.
func (l *Library) Watch(ctx context.Context, onChange func(filenames []string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating library watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", l.dir, err)
	}

	go l.watchLoop(ctx, watcher, onChange)

	slog.Info("Library watcher started", "dir", l.dir)
	return nil
}

func (l *Library) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, onChange func(filenames []string)) {
	defer watcher.Close()

	var debounceTimer *time.Timer
	pendingChanges := make(map[string]bool)
	var pendingMu sync.Mutex

	processChanges := func() {
		pendingMu.Lock()
		changed := make([]string, 0, len(pendingChanges))
		for name := range pendingChanges {
			changed = append(changed, name)
		}
		pendingChanges = make(map[string]bool)
		pendingMu.Unlock()

		var recorded []string
		for _, name := range changed {
			if _, err := l.Record(name); err != nil {
				slog.Debug("Changed file no longer exists", "file", name, "error", err)
				continue
			}
			recorded = append(recorded, name)
		}
		if len(recorded) == 0 {
			return
		}

		slog.Info("Processing library changes", "count", len(recorded))
		onChange(recorded)
	}

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			slog.Info("Library watcher stopped", "dir", l.dir)
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(event.Name)
			if !l.allowed(name) {
				continue
			}

			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				l.Forget(name)
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			pendingMu.Lock()
			pendingChanges[name] = true
			pendingMu.Unlock()

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDuration, processChanges)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Library watcher error", "error", err)
		}
	}
}
