package tagmap

import (
	"errors"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/arloliu/go-hwc/logger"
)

// DefaultDebounce is the quiet period Watch waits for after a file event
// before reloading.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a signal map document whenever the file changes on disk.
type Watcher struct {
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	closed  atomic.Bool
}

// Watch re-parses the document at path after each change and hands the result
// to fn. Editors that replace the file atomically are handled by watching the
// parent directory. Parse and validation failures are delivered through fn's
// error so the caller can keep the previous deployment running.
//
// A non-positive debounce falls back to DefaultDebounce. A nil l falls back
// to the package default logger.
func Watch(path string, debounce time.Duration, l logger.Logger, fn func(*Config, error)) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("tagmap: watch path is empty")
	}
	if fn == nil {
		return nil, errors.New("tagmap: watch callback must not be nil")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if l == nil {
		l = logger.GetLogger()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	path = filepath.Clean(path)
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()

		return nil, err
	}

	w := &Watcher{
		watcher: fw,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go w.run(path, debounce, l, fn)

	return w, nil
}

func (w *Watcher) run(path string, debounce time.Duration, l logger.Logger, fn func(*Config, error)) {
	defer close(w.doneCh)

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			l.Error("signal map watch failed", "path", path, "error", err)

		case <-timer.C:
			l.Debug("signal map changed, reloading", "path", path)
			cfg, err := Load(path)
			fn(cfg, err)

		case <-w.stopCh:
			return
		}
	}
}

// Close stops watching. No callbacks are delivered after Close returns.
func (w *Watcher) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(w.stopCh)
	<-w.doneCh

	return w.watcher.Close()
}
