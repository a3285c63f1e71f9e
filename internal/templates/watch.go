package templates

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads Pages whenever an override file in the sandbox changes.
// Stop must be called to release filesystem resources.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// Watch wires fsnotify around the sandbox root. onReload receives the result
// of every debounced reload attempt (nil on success).
func (p *Pages) Watch(ctx context.Context, onReload func(error)) (*Watcher, error) {
	if p.sandbox == nil {
		return nil, errors.New("templates: watch requires an override folder")
	}

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("templates: watch: %w", err)
	}
	if err := watcher.Add(p.sandbox.Root()); err != nil {
		_ = watcher.Close()
		cancel()
		return nil, fmt.Errorf("templates: watch add %s: %w", p.sandbox.Root(), err)
	}

	report := func(err error) {
		if onReload != nil {
			onReload(err)
		}
	}

	tracked := make(map[string]struct{}, len(PageNames))
	for _, name := range PageNames {
		tracked[name] = struct{}{}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil {
				report(fmt.Errorf("templates: watch close: %w", err))
			}
		}()

		const debounce = 25 * time.Millisecond
		var reloadTimer *time.Timer
		var reloadSignal <-chan time.Time
		defer func() {
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
		}()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-reloadSignal:
				reloadSignal = nil
				report(p.Reload())
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if _, ok := tracked[filepath.Base(event.Name)]; !ok {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
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
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				report(fmt.Errorf("templates: watch error: %w", err))
			}
		}
	}()

	return &Watcher{cancel: cancel, done: done}, nil
}
