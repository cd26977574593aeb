// Package regrow tracks the source-level definitions of a running
// program so file edits can be detected, localized per logical scope,
// and reported for hot reload. It parses tracked source into
// position-independent definition nodes, groups them into per-scope
// definition maps, and watches the files they came from.
//
// # Pipeline
//
// A Session moves files through four stages:
//
//  1. Register: the host's loader callback reports each logical unit
//     as it loads ([Session.UnitLoaded]); inclusion observations
//     queued beforehand ([Session.IncludeObserved]) are claimed by
//     name and parsed. When the unit was precompiled, its files
//     register lazily from an artifact manifest without parsing.
//
//  2. Normalize: parsing strips comments, whitespace, and separator
//     choice, so a definition's identity (a sha256 of its canonical
//     rendering) never depends on where in the file it sits. Inserting
//     a blank line is not a change.
//
//  3. Classify: each top-level definition lands in the definition map
//     of its enclosing scope. Nested namespace declarations become
//     scopes of their own; overloadable operations carry a signature
//     so revisions of one overload never disturb its siblings.
//
//  4. Watch: each directory holding tracked files gets a detection
//     loop. A changed file reparses, the registry advances, and a
//     [Change] pairing the before/after definition bundles is
//     published on [Session.Changes].
//
// # Usage
//
// Create a Session, feed it load events, and consume changes:
//
//	s := regrow.New(regrow.WithManifestSource(store), regrow.WithSourceCache(store))
//	defer s.Close()
//
//	s.IncludeObserved("App", "/proj/App.src")
//	s.UnitLoaded("App", "uuid-1234")
//
//	for ch := range s.Changes() {
//		for _, d := range ch.Diff() {
//			fmt.Println(d.Kind, d.Sig)
//		}
//	}
//
// [Session.Rescan] runs the same detection synchronously for callers
// that poll on their own schedule.
//
// # Failure policy
//
// One broken file never stops the system: parse errors are logged with
// the line after the last good construct. A file that fails to parse
// during registration stays out of the unit's file set for that pass;
// a tracked file broken by an edit keeps its previous definitions
// until it parses again. Namespace realization failures abort only the
// file that declared the namespace. Missing files are pruned with a
// warning. Excluded units ([Session.Exclude]) purge their pending
// inclusions so nothing leaks into a later unit's match set.
package regrow
