// Package watch provides change detection for tracked source files:
// per-directory baseline bookkeeping plus the wait primitives the
// session's watch loops block on.
package watch

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Dir tracks the files of one directory against a baseline timestamp.
// Files are tracked by name relative to the directory. Safe for
// concurrent use: registration goroutines add names while the watch
// loop runs detection passes.
type Dir struct {
	mu       sync.Mutex
	path     string
	baseline time.Time
	names    map[string]struct{}
}

func NewDir(path string, now time.Time) *Dir {
	return &Dir{
		path:     path,
		baseline: now,
		names:    make(map[string]struct{}),
	}
}

func (d *Dir) Path() string { return d.path }

// Track adds a file name to the watched set.
func (d *Dir) Track(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names[name] = struct{}{}
}

// Untrack removes a file name from the watched set.
func (d *Dir) Untrack(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.names, name)
}

// Names returns the tracked file names, sorted.
func (d *Dir) Names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.names))
	for n := range d.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the tracked file count.
func (d *Dir) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.names)
}

// Detect stats every tracked file and reports which changed since the
// baseline and which no longer exist. Missing files are pruned from the
// watched set; the baseline advances to now. Results are sorted.
func (d *Dir) Detect(now time.Time) (changed, missing []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name := range d.names {
		fi, err := os.Stat(filepath.Join(d.path, name))
		if err != nil {
			missing = append(missing, name)
			continue
		}
		if changedSince(fi.ModTime(), d.baseline) {
			changed = append(changed, name)
		}
	}
	for _, name := range missing {
		delete(d.names, name)
	}
	d.baseline = now
	sort.Strings(changed)
	sort.Strings(missing)
	return changed, missing
}

// changedSince reports whether a modification time counts as changed
// relative to a baseline. The baseline floors to whole seconds and one
// second of slack is added, tolerating filesystems that round stored
// timestamps.
func changedSince(mtime, baseline time.Time) bool {
	return !mtime.Before(baseline.Truncate(time.Second).Add(time.Second))
}
