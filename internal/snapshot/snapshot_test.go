package snapshot

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regrow.dev/regrow/internal/defs"
	"regrow.dev/regrow/internal/syntax"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "baseline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func capture(t *testing.T, path, src string) FileSnapshot {
	t.Helper()
	nodes, err := syntax.Parse([]byte(src), path)
	require.NoError(t, err)
	tbl := defs.NewTable()
	scope := tbl.Ensure(tbl.Root(), "App")
	b := defs.NewBundle()
	_, err = defs.ClassifyFile(nodes, path, scope, tbl, defs.StaticRealizer{}, b)
	require.NoError(t, err)
	return Capture(path, "App", b, tbl.Name)
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	fs := capture(t, "/src/app.src", "f(x::Int) = x\nmodule Util\n    u() = 1\nend\n")
	require.NoError(t, s.Put(fs))

	got, err := s.Get("/src/app.src")
	require.NoError(t, err)
	assert.Equal(t, fs, got)

	_, err = s.Get("/src/missing.src")
	assert.Error(t, err)
}

func TestStore_PathsAndDelete(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put(FileSnapshot{Path: "/src/b.src"}))
	require.NoError(t, s.Put(FileSnapshot{Path: "/src/a.src"}))

	paths, err := s.Paths()
	require.NoError(t, err)
	assert.Equal(t, []string{"/src/a.src", "/src/b.src"}, paths)

	require.NoError(t, s.Delete("/src/a.src"))
	paths, err = s.Paths()
	require.NoError(t, err)
	assert.Equal(t, []string{"/src/b.src"}, paths)
}

func TestStore_Meta(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.Meta()
	require.NoError(t, err)
	assert.False(t, ok)

	in := Meta{Root: "/src", Extension: ".src", TakenAt: time.Now().UTC().Truncate(time.Second), Files: 3}
	require.NoError(t, s.PutMeta(in))

	got, ok, err := s.Meta()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in, got)
}

func TestCapture_FlattensScopesInOrder(t *testing.T) {
	fs := capture(t, "/src/app.src", "f(x) = x\nmodule Util\n    u() = 1\nend\ng() = 2\n")
	require.Len(t, fs.Scopes, 2)
	assert.Equal(t, "App", fs.Scopes[0].Scope)
	assert.Equal(t, "App.Util", fs.Scopes[1].Scope)
	require.Len(t, fs.Scopes[0].Defs, 2)
	require.Len(t, fs.Scopes[1].Defs, 1)
	assert.Equal(t, "f(x) = x", fs.Scopes[0].Defs[0].Canonical)
	assert.Equal(t, "f(::Any)", fs.Scopes[0].Defs[0].Signature)
}

func TestDiff_NoDriftOnReformatting(t *testing.T) {
	before := capture(t, "/src/app.src", "f(x) = x\ng() = 2\n")
	after := capture(t, "/src/app.src", "\n# shuffled\nf(x)  =  x\n\ng() = 2\n")
	assert.Empty(t, Diff(before, after))
}

func TestDiff_ChangedFoldsSameOverload(t *testing.T) {
	before := capture(t, "/src/app.src", "f(x::Int) = x + 1\n")
	after := capture(t, "/src/app.src", "f(x::Int) = x + 2\n")

	drifts := Diff(before, after)
	require.Len(t, drifts, 1)
	d := drifts[0]
	assert.Equal(t, DriftChanged, d.Kind)
	assert.Equal(t, "App", d.Scope)
	assert.Equal(t, "f(x::Int) = x + 1", d.Before.Canonical)
	assert.Equal(t, "f(x::Int) = x + 2", d.After.Canonical)
}

func TestDiff_NewOverloadIsAdded(t *testing.T) {
	before := capture(t, "/src/app.src", "f(x::Int) = x\n")
	after := capture(t, "/src/app.src", "f(x::Int) = x\nf(x::String) = x\n")

	drifts := Diff(before, after)
	require.Len(t, drifts, 1)
	assert.Equal(t, DriftAdded, drifts[0].Kind)
	assert.Equal(t, "f(::String)", drifts[0].After.Signature)
}

func TestDiff_NonOverloadableReplacesWholesale(t *testing.T) {
	before := capture(t, "/src/app.src", "const LIMIT = 10\n")
	after := capture(t, "/src/app.src", "const LIMIT = 20\n")

	drifts := Diff(before, after)
	require.Len(t, drifts, 2)
	kinds := []string{drifts[0].Kind, drifts[1].Kind}
	assert.ElementsMatch(t, []string{DriftRemoved, DriftAdded}, kinds)
}

func TestDiff_ScopeAppearsAndDisappears(t *testing.T) {
	before := capture(t, "/src/app.src", "f() = 1\n")
	after := capture(t, "/src/app.src", "f() = 1\nmodule Extra\n    e() = 1\nend\n")

	drifts := Diff(before, after)
	require.Len(t, drifts, 1)
	assert.Equal(t, DriftAdded, drifts[0].Kind)
	assert.Equal(t, "App.Extra", drifts[0].Scope)

	back := Diff(after, before)
	require.Len(t, back, 1)
	assert.Equal(t, DriftRemoved, back[0].Kind)
	assert.Equal(t, "App.Extra", back[0].Scope)
}
