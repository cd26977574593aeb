package defs

import "regrow.dev/regrow/internal/syntax"

// Entry pairs a normalized definition node with its extracted signature.
// Sig is nil for definitions that can only be replaced wholesale.
type Entry struct {
	Node *syntax.Node
	Sig  *Signature
}

// Map is one scope's definition map: insertion-ordered, keyed by the
// node's canonical key. Re-inserting an existing key updates the entry
// in place and keeps its original position, so downstream re-application
// order stays stable across edits.
type Map struct {
	order []string
	defs  map[string]Entry
}

func NewMap() *Map {
	return &Map{defs: make(map[string]Entry)}
}

// Insert records n under its canonical key.
func (m *Map) Insert(n *syntax.Node, sig *Signature) {
	key := n.Key()
	if _, ok := m.defs[key]; !ok {
		m.order = append(m.order, key)
	}
	m.defs[key] = Entry{Node: n, Sig: sig}
}

// Get returns the entry for key.
func (m *Map) Get(key string) (Entry, bool) {
	e, ok := m.defs[key]
	return e, ok
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.defs[key]
	return ok
}

// Len returns the definition count.
func (m *Map) Len() int { return len(m.defs) }

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	return append([]string(nil), m.order...)
}

// Each calls fn per entry in insertion order until fn returns false.
func (m *Map) Each(fn func(key string, e Entry) bool) {
	for _, k := range m.order {
		if !fn(k, m.defs[k]) {
			return
		}
	}
}

// Bundle groups the definition maps produced by one file, ordered by
// first appearance of each scope.
type Bundle struct {
	order []Handle
	maps  map[Handle]*Map
}

func NewBundle() *Bundle {
	return &Bundle{maps: make(map[Handle]*Map)}
}

// Ensure returns the map for scope h, creating an empty one if needed.
// An empty map is meaningful: it records that the file contributes the
// scope even before it contributes definitions.
func (b *Bundle) Ensure(h Handle) *Map {
	if m, ok := b.maps[h]; ok {
		return m
	}
	m := NewMap()
	b.maps[h] = m
	b.order = append(b.order, h)
	return m
}

// Map returns the map for h, or nil when the bundle has none.
func (b *Bundle) Map(h Handle) *Map { return b.maps[h] }

// Scopes returns the bundle's scope handles in first-appearance order.
func (b *Bundle) Scopes() []Handle {
	return append([]Handle(nil), b.order...)
}

// Defs returns the total definition count across all scopes.
func (b *Bundle) Defs() int {
	n := 0
	for _, m := range b.maps {
		n += m.Len()
	}
	return n
}
