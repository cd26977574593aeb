package defs

import (
	"fmt"
	"strings"
	"sync"

	"regrow.dev/regrow/internal/syntax"
)

// Handle identifies a live scope in a Table. The zero Handle identifies
// nothing. Handles are opaque to callers: hierarchy lives in the Table,
// and parent links exist for diagnostics only, never for resolution.
type Handle int64

// Realizer executes a namespace declaration in the live program so the
// declared scope becomes resolvable by sibling code. Hosts supply their
// own; offline callers use StaticRealizer.
type Realizer interface {
	Realize(decl *syntax.Node, parent Handle) error
}

// StaticRealizer declares nothing and always succeeds. It serves offline
// parsing, where no live program exists to declare anything in.
type StaticRealizer struct{}

func (StaticRealizer) Realize(*syntax.Node, Handle) error { return nil }

// RealizeError wraps a namespace declaration failure. It is fatal for
// the file being classified and is always propagated.
type RealizeError struct {
	Name string
	Err  error
}

func (e *RealizeError) Error() string {
	return fmt.Sprintf("realize namespace %s: %v", e.Name, e.Err)
}

func (e *RealizeError) Unwrap() error { return e.Err }

type scopeEntry struct {
	name   string
	parent Handle
}

type scopeKey struct {
	parent Handle
	name   string
}

// Table is the flat arena of live scopes. NewTable creates the synthetic
// top-level root; every other scope is a child reached through Ensure,
// EnsurePath, or Materialize.
type Table struct {
	mu     sync.Mutex
	scopes []scopeEntry
	byKey  map[scopeKey]Handle
}

func NewTable() *Table {
	t := &Table{byKey: make(map[scopeKey]Handle)}
	t.scopes = append(t.scopes, scopeEntry{}) // root
	return t
}

// Root returns the synthetic top-level scope.
func (t *Table) Root() Handle { return 1 }

// Name returns the dotted name of h relative to the root. The root
// itself has the empty name.
func (t *Table) Name(h Handle) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var parts []string
	for h > 1 && int(h) <= len(t.scopes) {
		e := t.scopes[h-1]
		parts = append(parts, e.name)
		h = e.parent
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

// Parent returns h's enclosing scope, or 0 for the root. Diagnostics
// only.
func (t *Table) Parent(h Handle) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h <= 1 || int(h) > len(t.scopes) {
		return 0
	}
	return t.scopes[h-1].parent
}

// Lookup finds the child of parent named name.
func (t *Table) Lookup(parent Handle, name string) (Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byKey[scopeKey{parent, name}]
	return h, ok
}

// Ensure returns the child scope of parent named name, creating the
// entry if needed without realizing anything. It serves scopes that are
// already live: unit roots and scopes the host reports directly.
func (t *Table) Ensure(parent Handle, name string) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ensureLocked(parent, name)
}

func (t *Table) ensureLocked(parent Handle, name string) Handle {
	key := scopeKey{parent, name}
	if h, ok := t.byKey[key]; ok {
		return h
	}
	t.scopes = append(t.scopes, scopeEntry{name: name, parent: parent})
	h := Handle(len(t.scopes))
	t.byKey[key] = h
	return h
}

// EnsurePath resolves a dotted path from the root, creating entries as
// needed. The empty path is the root.
func (t *Table) EnsurePath(path string) Handle {
	if path == "" {
		return t.Root()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.Root()
	for _, part := range strings.Split(path, ".") {
		h = t.ensureLocked(h, part)
	}
	return h
}

// Materialize returns the scope declared by decl under parent. When the
// scope is not yet live and parent is not the synthetic root, the
// declaration is first realized through r; realization failure aborts
// with a *RealizeError. Re-encountering a known (parent, name) pair
// never creates a second scope and never re-realizes.
func (t *Table) Materialize(decl *syntax.Node, parent Handle, r Realizer) (Handle, error) {
	if h, ok := t.Lookup(parent, decl.Name); ok {
		return h, nil
	}
	if parent != t.Root() && r != nil {
		if err := r.Realize(decl, parent); err != nil {
			return 0, &RealizeError{Name: decl.Name, Err: err}
		}
	}
	return t.Ensure(parent, decl.Name), nil
}
