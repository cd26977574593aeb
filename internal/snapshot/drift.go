package snapshot

// Drift kinds reported by Diff.
const (
	DriftAdded   = "added"
	DriftRemoved = "removed"
	DriftChanged = "changed"
)

// Drift is one definition-level difference between a stored baseline
// and a fresh parse of the same file. Before is zero for added
// definitions, After for removed ones; changed carries both.
type Drift struct {
	Scope  string
	Kind   string
	Before DefSnapshot
	After  DefSnapshot
}

// Diff classifies the drift of after relative to before, scope by
// scope. A removed and an added definition sharing an overload
// signature are folded into one changed entry: the same overload,
// revised. Everything else reports as plain added or removed.
func Diff(before, after FileSnapshot) []Drift {
	byScope := make(map[string]ScopeSnapshot, len(after.Scopes))
	for _, ss := range after.Scopes {
		byScope[ss.Scope] = ss
	}

	var drifts []Drift
	seen := make(map[string]bool, len(before.Scopes))
	for _, b := range before.Scopes {
		seen[b.Scope] = true
		drifts = append(drifts, diffScope(b, byScope[b.Scope])...)
	}
	for _, a := range after.Scopes {
		if !seen[a.Scope] {
			drifts = append(drifts, diffScope(ScopeSnapshot{Scope: a.Scope}, a)...)
		}
	}
	return drifts
}

func diffScope(before, after ScopeSnapshot) []Drift {
	inAfter := make(map[string]bool, len(after.Defs))
	for _, d := range after.Defs {
		inAfter[d.Key] = true
	}
	inBefore := make(map[string]bool, len(before.Defs))
	for _, d := range before.Defs {
		inBefore[d.Key] = true
	}

	var removed, added []DefSnapshot
	for _, d := range before.Defs {
		if !inAfter[d.Key] {
			removed = append(removed, d)
		}
	}
	for _, d := range after.Defs {
		if !inBefore[d.Key] {
			added = append(added, d)
		}
	}

	var drifts []Drift
	paired := make([]bool, len(added))
	for _, b := range removed {
		match := -1
		if b.Signature != "" {
			for i, a := range added {
				if !paired[i] && a.Signature == b.Signature {
					match = i
					break
				}
			}
		}
		if match >= 0 {
			paired[match] = true
			drifts = append(drifts, Drift{
				Scope: before.Scope, Kind: DriftChanged,
				Before: b, After: added[match],
			})
			continue
		}
		drifts = append(drifts, Drift{Scope: before.Scope, Kind: DriftRemoved, Before: b})
	}
	for i, a := range added {
		if !paired[i] {
			drifts = append(drifts, Drift{Scope: before.Scope, Kind: DriftAdded, After: a})
		}
	}
	return drifts
}
