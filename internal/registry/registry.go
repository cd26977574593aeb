// Package registry is the bookkeeping core shared by every tracking
// session: which logical units exist, which files they own, and how the
// definitions of each file can be (re)materialized. All mutation goes
// through one mutex; callers receive snapshot copies, never live
// internals.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"regrow.dev/regrow/internal/defs"
)

// Unit is one tracked logical unit: a top-level namespace together with
// the files that define it. Created when the unit first loads, mutated
// only by appending newly discovered files, removed only by explicit
// exclusion.
type Unit struct {
	Name  string
	UUID  string
	Scope defs.Handle
	Files []string
}

// CacheRef locates a file's historical source inside a precompiled
// artifact, keyed by the owning unit's identity. TopScope is the dotted
// name of the scope the source parses into on demand.
type CacheRef struct {
	Unit     string
	UUID     string
	TopScope string
}

// File is one tracked file. Exactly one entry exists per path; Bundle is
// nil until the file's definitions have been materialized. Files
// registered from an artifact manifest carry a Cache reference instead
// of parsed definitions.
type File struct {
	Path   string
	Unit   string
	Scope  string
	Bundle *defs.Bundle
	Cache  *CacheRef
}

// Include is one pending inclusion observation: a file requested from
// inside Scope before the owning unit was known.
type Include struct {
	Scope string
	Path  string
}

// CacheReadError reports that a file's definitions could not be
// materialized from historical source. There is no fallback source, so
// this is a hard error for the caller.
type CacheReadError struct {
	Path string
	Err  error
}

func (e *CacheReadError) Error() string {
	return fmt.Sprintf("materialize %s: %v", e.Path, e.Err)
}

func (e *CacheReadError) Unwrap() error { return e.Err }

// LoadFunc materializes the definitions of a lazily registered file,
// typically by fetching historical source from an artifact store and
// parsing it rooted at the recorded top scope.
type LoadFunc func(f File) (*defs.Bundle, error)

// Registry tracks units, files, and pending inclusions.
type Registry struct {
	mu      sync.Mutex
	units   map[string]*Unit
	files   map[string]*File
	pending []Include
}

func New() *Registry {
	return &Registry{
		units: make(map[string]*Unit),
		files: make(map[string]*File),
	}
}

// EnsureUnit returns the unit named name, creating it on first load.
// The reported uuid and root scope stick on creation; later calls never
// overwrite them.
func (r *Registry) EnsureUnit(name, uuid string, scope defs.Handle) Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.ensureUnitLocked(name)
	if u.UUID == "" {
		u.UUID = uuid
	}
	if u.Scope == 0 {
		u.Scope = scope
	}
	return snapshotUnit(u)
}

func (r *Registry) ensureUnitLocked(name string) *Unit {
	if u, ok := r.units[name]; ok {
		return u
	}
	u := &Unit{Name: name}
	r.units[name] = u
	return u
}

// Unit returns a snapshot of the named unit.
func (r *Registry) Unit(name string) (Unit, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[name]
	if !ok {
		return Unit{}, false
	}
	return snapshotUnit(u), true
}

// Units returns the tracked unit names, sorted.
func (r *Registry) Units() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.units))
	for name := range r.units {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RecordFile appends f.Path to the owning unit's file list and
// creates or replaces the tracked entry for the path. Re-recording a
// path under a different unit moves ownership, keeping unit file lists
// and tracked entries consistent.
func (r *Registry) RecordFile(f File) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.files[f.Path]; ok && prev.Unit != f.Unit {
		r.detachLocked(prev.Unit, f.Path)
	}
	u := r.ensureUnitLocked(f.Unit)
	if !contains(u.Files, f.Path) {
		u.Files = append(u.Files, f.Path)
	}
	entry := f
	r.files[f.Path] = &entry
}

// File returns a snapshot of the tracked entry for path.
func (r *Registry) File(path string) (File, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[path]
	if !ok {
		return File{}, false
	}
	return *f, true
}

// Paths returns every tracked path, sorted.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.files))
	for p := range r.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// SetBundle replaces the materialized definitions of path, reporting
// whether the path is tracked.
func (r *Registry) SetBundle(path string, b *defs.Bundle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[path]
	if !ok {
		return false
	}
	f.Bundle = b
	return true
}

// Materialize returns the definitions of path, invoking load to parse
// historical source when no bundle is held yet. The loaded bundle is
// cached in place; a load failure is surfaced as a *CacheReadError and
// nothing is cached, so a later call retries.
func (r *Registry) Materialize(path string, load LoadFunc) (*defs.Bundle, error) {
	r.mu.Lock()
	f, ok := r.files[path]
	if !ok {
		r.mu.Unlock()
		return nil, &CacheReadError{Path: path, Err: errors.New("not tracked")}
	}
	if f.Bundle != nil {
		b := f.Bundle
		r.mu.Unlock()
		return b, nil
	}
	snap := *f
	r.mu.Unlock()

	b, err := load(snap)
	if err != nil {
		return nil, &CacheReadError{Path: path, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.files[path]; ok {
		if f.Bundle != nil {
			return f.Bundle, nil
		}
		f.Bundle = b
	}
	return b, nil
}

// DropFile removes path from tracking and from its unit's file list,
// returning the dropped entry. Used when a tracked file disappears.
func (r *Registry) DropFile(path string) (File, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[path]
	if !ok {
		return File{}, false
	}
	delete(r.files, path)
	r.detachLocked(f.Unit, path)
	return *f, true
}

// RemoveUnit removes the named unit and all its tracked files, returning
// the paths that were dropped. Used for explicit exclusion.
func (r *Registry) RemoveUnit(name string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[name]
	if !ok {
		return nil
	}
	delete(r.units, name)
	paths := append([]string(nil), u.Files...)
	for _, p := range paths {
		delete(r.files, p)
	}
	return paths
}

// PushPending queues one inclusion observation.
func (r *Registry) PushPending(inc Include) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, inc)
}

// TakePending removes and returns, in observation order, every pending
// inclusion accepted by match. Entries not matched stay queued.
func (r *Registry) TakePending(match func(Include) bool) []Include {
	r.mu.Lock()
	defer r.mu.Unlock()
	var taken []Include
	kept := r.pending[:0]
	for _, inc := range r.pending {
		if match(inc) {
			taken = append(taken, inc)
		} else {
			kept = append(kept, inc)
		}
	}
	r.pending = kept
	return taken
}

// PendingLen returns the number of queued inclusion observations.
func (r *Registry) PendingLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) detachLocked(unit, path string) {
	u, ok := r.units[unit]
	if !ok {
		return
	}
	for i, p := range u.Files {
		if p == path {
			u.Files = append(u.Files[:i], u.Files[i+1:]...)
			return
		}
	}
}

func snapshotUnit(u *Unit) Unit {
	out := *u
	out.Files = append([]string(nil), u.Files...)
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
