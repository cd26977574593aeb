package watch

import (
	"context"
	"time"
)

// DefaultPollInterval paces PollWaiter when no interval is configured.
const DefaultPollInterval = 5 * time.Second

// Waiter blocks until the contents of a directory may have changed.
// Register subscribes a directory before the first Wait so no event is
// lost in between; Forget drops a directory that is no longer watched.
// One concurrent Wait per directory.
type Waiter interface {
	Register(dir string) error
	Wait(ctx context.Context, dir string) error
	Forget(dir string) error
	Close() error
}

// PollWaiter is the fallback Waiter: it simply paces detection passes
// at a fixed interval, reporting every tick as a potential change.
type PollWaiter struct {
	Interval time.Duration
}

func (w PollWaiter) Register(string) error { return nil }

func (w PollWaiter) Wait(ctx context.Context, _ string) error {
	iv := w.Interval
	if iv <= 0 {
		iv = DefaultPollInterval
	}
	t := time.NewTimer(iv)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (w PollWaiter) Forget(string) error { return nil }

func (w PollWaiter) Close() error { return nil }
