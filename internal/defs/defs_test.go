package defs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regrow.dev/regrow/internal/syntax"
)

func parseSrc(t *testing.T, src string) []*syntax.Node {
	t.Helper()
	nodes, err := syntax.Parse([]byte(src), "test.src")
	require.NoError(t, err)
	return nodes
}

// countingRealizer records how many declarations it was asked to realize.
type countingRealizer struct {
	calls int
	fail  error
}

func (r *countingRealizer) Realize(*syntax.Node, Handle) error {
	r.calls++
	return r.fail
}

func TestTable_EnsureIsIdempotent(t *testing.T) {
	tbl := NewTable()
	a := tbl.Ensure(tbl.Root(), "App")
	b := tbl.Ensure(tbl.Root(), "App")
	assert.Equal(t, a, b)
	assert.NotEqual(t, tbl.Root(), a)
}

func TestTable_NameIsDotted(t *testing.T) {
	tbl := NewTable()
	app := tbl.Ensure(tbl.Root(), "App")
	inner := tbl.Ensure(app, "Inner")
	assert.Equal(t, "", tbl.Name(tbl.Root()))
	assert.Equal(t, "App", tbl.Name(app))
	assert.Equal(t, "App.Inner", tbl.Name(inner))
	assert.Equal(t, app, tbl.Parent(inner))
}

func TestTable_EnsurePath(t *testing.T) {
	tbl := NewTable()
	h := tbl.EnsurePath("App.Util.IO")
	assert.Equal(t, "App.Util.IO", tbl.Name(h))
	assert.Equal(t, h, tbl.EnsurePath("App.Util.IO"))
	assert.Equal(t, tbl.Root(), tbl.EnsurePath(""))
}

func TestTable_MaterializeRealizesOnce(t *testing.T) {
	tbl := NewTable()
	app := tbl.Ensure(tbl.Root(), "App")
	decl := parseSrc(t, "module Inner\nend")[0]
	r := &countingRealizer{}

	h1, err := tbl.Materialize(decl, app, r)
	require.NoError(t, err)
	h2, err := tbl.Materialize(decl, app, r)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, r.calls)
}

func TestTable_MaterializeSkipsRealizeAtRoot(t *testing.T) {
	tbl := NewTable()
	decl := parseSrc(t, "module Top\nend")[0]
	r := &countingRealizer{}
	_, err := tbl.Materialize(decl, tbl.Root(), r)
	require.NoError(t, err)
	assert.Zero(t, r.calls)
}

func TestTable_MaterializePropagatesFailure(t *testing.T) {
	tbl := NewTable()
	app := tbl.Ensure(tbl.Root(), "App")
	decl := parseSrc(t, "module Broken\nend")[0]
	cause := fmt.Errorf("host refused")
	_, err := tbl.Materialize(decl, app, &countingRealizer{fail: cause})
	require.Error(t, err)
	var rerr *RealizeError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "Broken", rerr.Name)
	assert.ErrorIs(t, err, cause)
}

func TestMap_InsertKeepsPositionOnUpdate(t *testing.T) {
	m := NewMap()
	a := parseSrc(t, "a() = 1")[0]
	b := parseSrc(t, "b() = 2")[0]
	m.Insert(a, SignatureFor(a))
	m.Insert(b, SignatureFor(b))
	m.Insert(a, SignatureFor(a)) // update, not append

	keys := m.Keys()
	require.Len(t, keys, 2)
	assert.Equal(t, a.Key(), keys[0])
	assert.Equal(t, b.Key(), keys[1])
}

func TestSignatureFor(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{"f(x) = x", "f(::Any)"},
		{"f(x::Int) = x", "f(::Int)"},
		{"f(x::Int, y) = x", "f(::Int, ::Any)"},
		{"f(xs...) = xs", "f(::Any...)"},
		{"f(x::Int, rest::String...) = x", "f(::Int, ::String...)"},
		{"Other.show(t::Thing) = t", "Other.show(::Thing)"},
		{"function g(a, b::Float64)\n    a\nend", "g(::Any, ::Float64)"},
	}
	for _, tc := range cases {
		n := parseSrc(t, tc.src)[0]
		sig := SignatureFor(n)
		require.NotNil(t, sig, "case %q", tc.src)
		assert.Equal(t, tc.want, sig.String(), "case %q", tc.src)
	}
}

func TestSignatureFor_Defaulted(t *testing.T) {
	sig := SignatureFor(parseSrc(t, "pad(s, w = 8) = s")[0])
	require.NotNil(t, sig)
	assert.True(t, sig.Defaulted)
	assert.Equal(t, "pad(::Any, ::Any)+defaults", sig.Key())
}

func TestSignatureFor_UnwrapsDoc(t *testing.T) {
	n := parseSrc(t, "\"docs\"\nf(x::Int) = x")[0]
	require.Equal(t, syntax.KindDoc, n.Kind)
	sig := SignatureFor(n)
	require.NotNil(t, sig)
	assert.Equal(t, "f(::Int)", sig.String())
}

func TestSignatureFor_NonFunctionIsNil(t *testing.T) {
	assert.Nil(t, SignatureFor(parseSrc(t, "x = 1")[0]))
	assert.Nil(t, SignatureFor(parseSrc(t, "struct Point\n    x\nend")[0]))
}

func classifyOne(t *testing.T, tbl *Table, scope Handle, src string) (*Bundle, []IncludePoint) {
	t.Helper()
	b := NewBundle()
	incs, err := ClassifyFile(parseSrc(t, src), "test.src", scope, tbl, StaticRealizer{}, b)
	require.NoError(t, err)
	return b, incs
}

func TestClassifyFile_FlatDefinitions(t *testing.T) {
	tbl := NewTable()
	scope := tbl.Ensure(tbl.Root(), "App")
	b, incs := classifyOne(t, tbl, scope, "f(x) = x\ng(x) = 2x\nconst LIMIT = 10\n")
	assert.Empty(t, incs)
	require.Len(t, b.Scopes(), 1)
	m := b.Map(scope)
	require.NotNil(t, m)
	assert.Equal(t, 3, m.Len())
}

func TestClassifyFile_Idempotent(t *testing.T) {
	src := "f(x) = x\nmodule M\n    g() = 1\nend\n"
	tbl := NewTable()
	scope := tbl.Ensure(tbl.Root(), "App")
	b1, _ := classifyOne(t, tbl, scope, src)
	b2, _ := classifyOne(t, tbl, scope, src)

	require.Equal(t, b1.Scopes(), b2.Scopes())
	for _, h := range b1.Scopes() {
		assert.Equal(t, b1.Map(h).Keys(), b2.Map(h).Keys())
	}
}

func TestClassifyFile_PositionIndependence(t *testing.T) {
	tbl := NewTable()
	scope := tbl.Ensure(tbl.Root(), "App")
	b1, _ := classifyOne(t, tbl, scope, "f(x) = x\ng() = 2\n")
	b2, _ := classifyOne(t, tbl, scope, "\n\n# moved around\nf(x) = x\n\n\ng() = 2\n")
	assert.Equal(t, b1.Map(scope).Keys(), b2.Map(scope).Keys())
}

func TestClassifyFile_NestedNamespace(t *testing.T) {
	tbl := NewTable()
	scope := tbl.Ensure(tbl.Root(), "App")
	b, _ := classifyOne(t, tbl, scope, `
top() = 1
module Helpers
    shout(s) = s * "!"
end
`)
	scopes := b.Scopes()
	require.Len(t, scopes, 2)
	helpers, ok := tbl.Lookup(scope, "Helpers")
	require.True(t, ok)
	assert.Equal(t, "App.Helpers", tbl.Name(helpers))
	assert.Equal(t, 1, b.Map(scope).Len())
	assert.Equal(t, 1, b.Map(helpers).Len())
}

func TestClassifyFile_NamespaceDeclaredOnce(t *testing.T) {
	tbl := NewTable()
	scope := tbl.Ensure(tbl.Root(), "App")
	r := &countingRealizer{}
	b := NewBundle()
	_, err := ClassifyFile(parseSrc(t, "module M\nend\n"), "test.src", scope, tbl, r, b)
	require.NoError(t, err)
	_, err = ClassifyFile(parseSrc(t, "module M\n    f() = 1\nend\n"), "test.src", scope, tbl, r, NewBundle())
	require.NoError(t, err)
	assert.Equal(t, 1, r.calls)
}

func TestClassifyFile_GroupingIsTransparent(t *testing.T) {
	tbl := NewTable()
	scope := tbl.Ensure(tbl.Root(), "App")
	grouped, _ := classifyOne(t, tbl, scope, "begin\n    f(x) = x\n    g() = 2\nend\n")
	plain, _ := classifyOne(t, tbl, scope, "f(x) = x\ng() = 2\n")
	assert.Equal(t, plain.Map(scope).Keys(), grouped.Map(scope).Keys())
}

func TestClassifyFile_IncludesCollectedNotStored(t *testing.T) {
	tbl := NewTable()
	scope := tbl.Ensure(tbl.Root(), "App")
	b, incs := classifyOne(t, tbl, scope, "f(x) = x\ninclude(\"extra.src\")\n")
	require.Len(t, incs, 1)
	assert.Equal(t, scope, incs[0].Scope)
	assert.Equal(t, "extra.src", incs[0].Target)
	// The directive itself must not appear in any map.
	assert.Equal(t, 1, b.Map(scope).Len())
}

func TestClassifyFile_IncludeInsideNamespace(t *testing.T) {
	tbl := NewTable()
	scope := tbl.Ensure(tbl.Root(), "App")
	_, incs := classifyOne(t, tbl, scope, "module Sub\n    include(\"sub/impl.src\")\nend\n")
	require.Len(t, incs, 1)
	sub, ok := tbl.Lookup(scope, "Sub")
	require.True(t, ok)
	assert.Equal(t, sub, incs[0].Scope)
}

func TestClassifyFile_DynamicIncludeHasEmptyTarget(t *testing.T) {
	tbl := NewTable()
	scope := tbl.Ensure(tbl.Root(), "App")
	_, incs := classifyOne(t, tbl, scope, "include(pick())\n")
	require.Len(t, incs, 1)
	assert.Empty(t, incs[0].Target)
}

func TestClassifyFile_DocumentedNamespaceSplits(t *testing.T) {
	tbl := NewTable()
	scope := tbl.Ensure(tbl.Root(), "App")
	b, _ := classifyOne(t, tbl, scope, "\"Utility namespace.\"\nmodule Util\n    u() = 1\nend\n")

	util, ok := tbl.Lookup(scope, "Util")
	require.True(t, ok)
	assert.Equal(t, 1, b.Map(util).Len())

	m := b.Map(scope)
	require.Equal(t, 1, m.Len())
	m.Each(func(_ string, e Entry) bool {
		assert.Nil(t, e.Sig)
		assert.Equal(t, `"Utility namespace." Util`, e.Node.Canonical())
		return true
	})
}

func TestClassifyFile_RealizeFailurePropagates(t *testing.T) {
	tbl := NewTable()
	scope := tbl.Ensure(tbl.Root(), "App")
	cause := fmt.Errorf("declaration rejected")
	_, err := ClassifyFile(parseSrc(t, "module Bad\nend\n"), "test.src", scope, tbl, &countingRealizer{fail: cause}, NewBundle())
	require.Error(t, err)
	var rerr *RealizeError
	assert.True(t, errors.As(err, &rerr))
}

func TestClassifyFile_OverloadsAreIsolated(t *testing.T) {
	tbl := NewTable()
	scope := tbl.Ensure(tbl.Root(), "App")
	b, _ := classifyOne(t, tbl, scope, "size(x::Int) = 1\nsize(x::String) = 2\n")
	m := b.Map(scope)
	require.Equal(t, 2, m.Len())

	var sigs []string
	m.Each(func(_ string, e Entry) bool {
		require.NotNil(t, e.Sig)
		sigs = append(sigs, e.Sig.Key())
		return true
	})
	assert.NotEqual(t, sigs[0], sigs[1])
}

func TestClassifyFile_SameOverloadDifferentBody(t *testing.T) {
	tbl := NewTable()
	scope := tbl.Ensure(tbl.Root(), "App")
	b, _ := classifyOne(t, tbl, scope, "f(x::Int) = x + 1\nf(x::Int) = x + 2\n")
	m := b.Map(scope)
	require.Equal(t, 2, m.Len())
	var sigs []string
	m.Each(func(_ string, e Entry) bool {
		sigs = append(sigs, e.Sig.Key())
		return true
	})
	assert.Equal(t, sigs[0], sigs[1])
}

func TestClassifyFile_FileRefsMakeKeysFileSpecific(t *testing.T) {
	tbl := NewTable()
	scope := tbl.Ensure(tbl.Root(), "App")
	src := parseSrc(t, "where() = @__FILE__\n")

	b1 := NewBundle()
	_, err := ClassifyFile(src, "/a/one.src", scope, tbl, StaticRealizer{}, b1)
	require.NoError(t, err)
	src2 := parseSrc(t, "where() = @__FILE__\n")
	b2 := NewBundle()
	_, err = ClassifyFile(src2, "/a/two.src", scope, tbl, StaticRealizer{}, b2)
	require.NoError(t, err)

	assert.NotEqual(t, b1.Map(scope).Keys(), b2.Map(scope).Keys())
}

func TestClassifyFile_TopScopeMapAlwaysPresent(t *testing.T) {
	tbl := NewTable()
	scope := tbl.Ensure(tbl.Root(), "App")
	b, _ := classifyOne(t, tbl, scope, "# nothing tracked\n")
	require.Len(t, b.Scopes(), 1)
	assert.Zero(t, b.Map(scope).Len())
}
