package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ErrClosed is returned by Wait when the waiter shuts down underneath
// a blocked caller.
var ErrClosed = errors.New("watch: waiter closed")

// NotifyWaiter wakes waiters from filesystem notifications. A single
// pump goroutine demultiplexes events onto per-directory signal
// channels; signals coalesce, so a burst of writes wakes the waiter
// once and the detection pass picks up the rest by timestamp.
type NotifyWaiter struct {
	fw        *fsnotify.Watcher
	mu        sync.Mutex
	subs      map[string]chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewNotifyWaiter() (*NotifyWaiter, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create notify watcher: %w", err)
	}
	w := &NotifyWaiter{
		fw:   fw,
		subs: make(map[string]chan struct{}),
		done: make(chan struct{}),
	}
	go w.pump()
	return w, nil
}

func (w *NotifyWaiter) pump() {
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.signal(filepath.Dir(ev.Name))
			w.signal(filepath.Clean(ev.Name))
		case _, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			// On a notification error, wake everyone so the next
			// detection pass re-stats instead of sleeping on it.
			w.broadcast()
		case <-w.done:
			return
		}
	}
}

func (w *NotifyWaiter) signal(dir string) {
	w.mu.Lock()
	ch, ok := w.subs[dir]
	w.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (w *NotifyWaiter) broadcast() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Register subscribes dir for notifications. Idempotent. Events that
// arrive between Register and the first Wait are buffered as one
// pending signal.
func (w *NotifyWaiter) Register(dir string) error {
	dir = filepath.Clean(dir)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.subs[dir]; ok {
		return nil
	}
	if err := w.fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.subs[dir] = make(chan struct{}, 1)
	return nil
}

// Wait blocks until something in dir changes, the context is done, or
// the waiter closes.
func (w *NotifyWaiter) Wait(ctx context.Context, dir string) error {
	dir = filepath.Clean(dir)
	if err := w.Register(dir); err != nil {
		return err
	}
	w.mu.Lock()
	ch := w.subs[dir]
	w.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return ErrClosed
	case <-ch:
		return nil
	}
}

// Forget unsubscribes dir.
func (w *NotifyWaiter) Forget(dir string) error {
	dir = filepath.Clean(dir)
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.subs[dir]; !ok {
		return nil
	}
	delete(w.subs, dir)
	return w.fw.Remove(dir)
}

func (w *NotifyWaiter) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fw.Close()
	})
	return err
}
