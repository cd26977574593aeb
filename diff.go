package regrow

// ChangeKind classifies one definition-level difference between two
// parses of a file.
type ChangeKind int

const (
	// Added definitions appear in the after-parse only.
	Added ChangeKind = iota
	// Removed definitions appear in the before-parse only.
	Removed
	// Modified pairs a removed and an added definition that share an
	// overload signature: the same operation variant, revised.
	Modified
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Modified:
		return "modified"
	}
	return "unknown"
}

// DefChange is one definition-level difference. Before is nil for
// added definitions and After for removed ones; modified carries both.
type DefChange struct {
	Scope  Handle
	Kind   ChangeKind
	Sig    *Signature
	Before *Node
	After  *Node
}

// Change reports one reloaded file: the owning unit and the definition
// bundles before and after the edit. Before is nil when no prior parse
// was available.
type Change struct {
	Path   string
	Unit   string
	Before *Bundle
	After  *Bundle
}

// Diff returns the definition-level differences of the change.
func (c Change) Diff() []DefChange {
	return DiffBundles(c.Before, c.After)
}

// DiffBundles compares two definition bundles scope by scope. A nil
// bundle is empty: DiffBundles(nil, b) reports everything in b as
// added. Definitions are matched by canonical key; unmatched entries
// sharing an overload signature fold into one Modified change, so
// reformatting reports nothing and editing one overload never touches
// its siblings.
func DiffBundles(before, after *Bundle) []DefChange {
	var changes []DefChange
	seen := make(map[Handle]bool)
	if before != nil {
		for _, h := range before.Scopes() {
			seen[h] = true
			changes = append(changes, diffScope(h, before.Map(h), bundleMap(after, h))...)
		}
	}
	if after != nil {
		for _, h := range after.Scopes() {
			if !seen[h] {
				changes = append(changes, diffScope(h, nil, after.Map(h))...)
			}
		}
	}
	return changes
}

func bundleMap(b *Bundle, h Handle) *Map {
	if b == nil {
		return nil
	}
	return b.Map(h)
}

func diffScope(h Handle, before, after *Map) []DefChange {
	var removed, added []Entry
	if before != nil {
		before.Each(func(key string, e Entry) bool {
			if after == nil || !after.Has(key) {
				removed = append(removed, e)
			}
			return true
		})
	}
	if after != nil {
		after.Each(func(key string, e Entry) bool {
			if before == nil || !before.Has(key) {
				added = append(added, e)
			}
			return true
		})
	}

	var changes []DefChange
	paired := make([]bool, len(added))
	for _, b := range removed {
		match := -1
		if b.Sig != nil {
			for i, a := range added {
				if !paired[i] && a.Sig != nil && a.Sig.Key() == b.Sig.Key() {
					match = i
					break
				}
			}
		}
		if match >= 0 {
			paired[match] = true
			changes = append(changes, DefChange{
				Scope: h, Kind: Modified, Sig: added[match].Sig,
				Before: b.Node, After: added[match].Node,
			})
			continue
		}
		changes = append(changes, DefChange{Scope: h, Kind: Removed, Sig: b.Sig, Before: b.Node})
	}
	for i, a := range added {
		if !paired[i] {
			changes = append(changes, DefChange{Scope: h, Kind: Added, Sig: a.Sig, After: a.Node})
		}
	}
	return changes
}
