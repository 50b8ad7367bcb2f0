package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PhrasesWatcher monitors the configured phrase-list file and invokes the
// supplied callback whenever its contents change. Stop must be called to
// release filesystem resources.
type PhrasesWatcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *PhrasesWatcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// WatchPhrases wires fsnotify around the phrase-list file and reloads it on
// any relevant change. The initial load happens synchronously so callers start
// with a valid list; subsequent reload failures are reported through onError
// while the previous lists stay in effect.
func WatchPhrases(ctx context.Context, path string, onChange func(PhraseLists), onError func(error)) (*PhrasesWatcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("config: watch phrases requires a change callback")
	}
	if path == "" {
		return nil, fmt.Errorf("config: no phrases file configured for watching")
	}

	resolved := path
	if abs, err := filepath.Abs(path); err == nil {
		resolved = abs
	}
	resolved = filepath.Clean(resolved)

	lists, err := LoadPhrases(resolved)
	if err != nil {
		return nil, err
	}
	onChange(lists)

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("config: watch phrases: %w", err)
	}
	// Watch the directory rather than the file so editors that rename-replace
	// do not silently detach the watch.
	if err := watcher.Add(filepath.Dir(resolved)); err != nil {
		if closeErr := watcher.Close(); closeErr != nil && onError != nil {
			onError(fmt.Errorf("config: watch phrases close: %w", closeErr))
		}
		cancel()
		return nil, fmt.Errorf("config: watch phrases add: %w", err)
	}

	done := make(chan struct{})
	watch := &PhrasesWatcher{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("config: watch phrases close: %w", err))
			}
		}()

		reload := func() {
			lists, err := LoadPhrases(resolved)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				return
			}
			onChange(lists)
		}

		const debounce = 25 * time.Millisecond
		var reloadTimer *time.Timer
		var reloadSignal <-chan time.Time
		scheduleReload := func() {
			if reloadTimer == nil {
				reloadTimer = time.NewTimer(debounce)
			} else {
				if !reloadTimer.Stop() {
					select {
					case <-reloadTimer.C:
					default:
					}
				}
				reloadTimer.Reset(debounce)
			}
			reloadSignal = reloadTimer.C
		}

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-reloadSignal:
				reloadSignal = nil
				reload()
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != resolved {
					continue
				}
				if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && onError != nil {
					onError(fmt.Errorf("config: phrases file %s removed", resolved))
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Chmod) != 0 {
					scheduleReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("config: watch error: %w", err))
				}
			}
		}
	}()

	return watch, nil
}
