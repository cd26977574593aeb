package syntax

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseAll(t *testing.T, src string) []*Node {
	t.Helper()
	nodes, err := Parse([]byte(src), "test.src")
	require.NoError(t, err)
	return nodes
}

func TestParse_Empty(t *testing.T) {
	assert.Empty(t, parseAll(t, ""))
	assert.Empty(t, parseAll(t, "\n\n;\n"))
	assert.Empty(t, parseAll(t, "# only a comment\n#= and a block =#\n"))
}

func TestParse_ExprStatements(t *testing.T) {
	nodes := parseAll(t, "x = 1\ny = x + 1; z = 3")
	require.Len(t, nodes, 3)
	for _, n := range nodes {
		assert.Equal(t, KindExpr, n.Kind)
	}
	assert.Equal(t, "x = 1", nodes[0].Canonical())
	assert.Equal(t, "z = 3", nodes[2].Canonical())
}

func TestParse_ShortFunc(t *testing.T) {
	nodes := parseAll(t, "double(x) = 2 * x")
	require.Len(t, nodes, 1)
	fn := nodes[0]
	assert.Equal(t, KindFunc, fn.Kind)
	assert.False(t, fn.Long)
	assert.Equal(t, "double", fn.Name)
	require.Len(t, fn.Params, 1)
	assert.Equal(t, Param{Name: "x"}, fn.Params[0])
}

func TestParse_LongFunc(t *testing.T) {
	nodes := parseAll(t, `
function apply(f, x::Int, rest...; verbose = false)
    f(x)
end
`)
	require.Len(t, nodes, 1)
	fn := nodes[0]
	assert.Equal(t, KindFunc, fn.Kind)
	assert.True(t, fn.Long)
	assert.Equal(t, "apply", fn.Name)
	require.Len(t, fn.Params, 3)
	assert.Equal(t, Param{Name: "f"}, fn.Params[0])
	assert.Equal(t, Param{Name: "x", Type: "Int"}, fn.Params[1])
	assert.Equal(t, Param{Name: "rest", Variadic: true}, fn.Params[2])
	require.Len(t, fn.KwParams, 1)
	assert.Equal(t, Param{Name: "verbose", Default: true}, fn.KwParams[0])
}

func TestParse_ParamTypeExpressions(t *testing.T) {
	nodes := parseAll(t, "merge!(into::Dict{K, V}, from::Dict{K, V}) = into")
	require.Len(t, nodes, 1)
	fn := nodes[0]
	assert.Equal(t, "merge!", fn.Name)
	require.Len(t, fn.Params, 2)
	assert.Equal(t, "Dict{K, V}", fn.Params[0].Type)
}

func TestParse_DefaultValueParam(t *testing.T) {
	nodes := parseAll(t, "pad(s, width::Int = 8) = s")
	fn := nodes[0]
	require.Len(t, fn.Params, 2)
	assert.Equal(t, Param{Name: "width", Type: "Int", Default: true}, fn.Params[1])
}

func TestParse_DottedExtension(t *testing.T) {
	nodes := parseAll(t, "Other.describe(x::Thing) = x.name")
	fn := nodes[0]
	assert.Equal(t, KindFunc, fn.Kind)
	assert.Equal(t, "Other.describe", fn.Name)
}

func TestParse_Module(t *testing.T) {
	nodes := parseAll(t, `
module Outer
    greet() = "hi"
    module Inner
        depth() = 2
    end
end
`)
	require.Len(t, nodes, 1)
	mod := nodes[0]
	assert.Equal(t, KindModule, mod.Kind)
	assert.Equal(t, "Outer", mod.Name)
	require.Len(t, mod.Body, 2)
	assert.Equal(t, KindFunc, mod.Body[0].Kind)
	inner := mod.Body[1]
	assert.Equal(t, KindModule, inner.Kind)
	assert.Equal(t, "Inner", inner.Name)
	require.Len(t, inner.Body, 1)
}

func TestParse_Include(t *testing.T) {
	nodes := parseAll(t, `include("util/helpers.src")`)
	require.Len(t, nodes, 1)
	assert.Equal(t, KindInclude, nodes[0].Kind)
	assert.Equal(t, "util/helpers.src", nodes[0].Target)
}

func TestParse_IncludeDynamicTarget(t *testing.T) {
	nodes := parseAll(t, "include(choose_file())")
	require.Len(t, nodes, 1)
	assert.Equal(t, KindInclude, nodes[0].Kind)
	assert.Empty(t, nodes[0].Target)
}

func TestParse_DocstringPairsWithFunction(t *testing.T) {
	nodes := parseAll(t, `
"""
Doubles its argument.
"""
double(x) = 2 * x
`)
	require.Len(t, nodes, 1)
	doc := nodes[0]
	assert.Equal(t, KindDoc, doc.Kind)
	require.NotNil(t, doc.Payload)
	assert.Equal(t, KindFunc, doc.Payload.Kind)
	assert.Equal(t, "double", doc.Payload.Name)
	assert.Contains(t, doc.Doc, "Doubles its argument.")
}

func TestParse_DocstringPairsWithModule(t *testing.T) {
	nodes := parseAll(t, "\"api docs\"\nmodule API\nend\n")
	require.Len(t, nodes, 1)
	assert.Equal(t, KindDoc, nodes[0].Kind)
	assert.Equal(t, KindModule, nodes[0].Payload.Kind)
}

func TestParse_BareStringStaysStandalone(t *testing.T) {
	nodes := parseAll(t, "\"just a value\"\nx = 1\n")
	require.Len(t, nodes, 2)
	assert.Equal(t, KindExpr, nodes[0].Kind)
	assert.Equal(t, KindExpr, nodes[1].Kind)
}

func TestParse_DocstringInsideModule(t *testing.T) {
	nodes := parseAll(t, `
module M
    "helper docs"
    helper() = 1
end
`)
	mod := nodes[0]
	require.Len(t, mod.Body, 1)
	assert.Equal(t, KindDoc, mod.Body[0].Kind)
	assert.Equal(t, "helper", mod.Body[0].Payload.Name)
}

func TestParse_BeginBlock(t *testing.T) {
	nodes := parseAll(t, "begin\n    a() = 1\n    b() = 2\nend\n")
	require.Len(t, nodes, 1)
	blk := nodes[0]
	assert.Equal(t, KindBlock, blk.Kind)
	require.Len(t, blk.Body, 2)
	assert.Equal(t, "a", blk.Body[0].Name)
	assert.Equal(t, "b", blk.Body[1].Name)
}

func TestParse_LineContinuation(t *testing.T) {
	nodes := parseAll(t, "total =\n    1 +\n    2\n")
	require.Len(t, nodes, 1)
	assert.Equal(t, "total = 1 + 2", nodes[0].Canonical())
}

func TestParse_EndInsideBrackets(t *testing.T) {
	nodes := parseAll(t, "last_of(v) = v[end]")
	require.Len(t, nodes, 1)
	assert.Equal(t, KindFunc, nodes[0].Kind)
}

func TestParse_DoBlock(t *testing.T) {
	nodes := parseAll(t, "each(items) do item\n    use(item)\nend\n")
	require.Len(t, nodes, 1)
	assert.Equal(t, KindExpr, nodes[0].Kind)
}

func TestParse_ErrorReportsLineAfterLastSuccess(t *testing.T) {
	src := "ok(x) = x\n\nfunction broken(y)\n    y + 1\n"
	_, err := Parse([]byte(src), "bad.src")
	require.Error(t, err)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 3, perr.Line)
	assert.Equal(t, "bad.src", perr.Path)
	assert.Contains(t, perr.Msg, "missing 'end'")
}

func TestParse_ErrorOnFirstLine(t *testing.T) {
	_, err := Parse([]byte("end\n"), "bad.src")
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 1, perr.Line)
}

func TestParse_ErrorKeepsEarlierNodes(t *testing.T) {
	nodes, err := Parse([]byte("a() = 1\nb() = (2\n"), "bad.src")
	require.Error(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "a", nodes[0].Name)
}

func TestParser_NextReturnsEOF(t *testing.T) {
	p := NewParser([]byte("x = 1"), "t.src")
	n, err := p.Next()
	require.NoError(t, err)
	require.NotNil(t, n)
	_, err = p.Next()
	assert.Equal(t, io.EOF, err)
}

func TestCanonical_PositionIndependence(t *testing.T) {
	cases := []struct {
		name string
		a, b string
	}{
		{
			"blank lines and indentation",
			"function f(x)\n    x + 1\nend",
			"function f(x)\n\n\n        x + 1\n\nend",
		},
		{
			"semicolons versus newlines",
			"module M\n    a() = 1\n    b() = 2\nend",
			"module M; a() = 1; b() = 2; end",
		},
		{
			"comments are invisible",
			"f(x) = x # identity\n",
			"f(x) = x\n",
		},
		{
			"spacing inside expressions",
			"f( x ,y )= x+ 1",
			"f(x, y) = x + 1",
		},
		{
			"single-line block",
			"begin x = 1 end",
			"begin\n    x = 1\nend",
		},
		{
			"nested conditional formatting",
			"pick(c) = if c\n    1\nelse\n    2\nend",
			"pick(c) = if c; 1; else; 2; end",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			na := parseAll(t, tc.a)
			nb := parseAll(t, tc.b)
			require.Len(t, na, 1)
			require.Len(t, nb, 1)
			assert.Equal(t, na[0].Canonical(), nb[0].Canonical())
			assert.Equal(t, na[0].Key(), nb[0].Key())
		})
	}
}

func TestCanonical_DistinguishesContent(t *testing.T) {
	a := parseAll(t, "f(x) = x + 1")[0]
	b := parseAll(t, "f(x) = x + 2")[0]
	assert.NotEqual(t, a.Key(), b.Key())
}

func TestExpandFileRefs(t *testing.T) {
	n := parseAll(t, "where_am_i() = @__FILE__")[0]
	out := ExpandFileRefs(n, "/src/app/main.src")
	assert.Contains(t, out.Canonical(), `"/src/app/main.src"`)
	// The original node is left alone.
	assert.Contains(t, n.Canonical(), "@__FILE__")
}

func TestExpandFileRefs_Dir(t *testing.T) {
	n := parseAll(t, "here() = @__DIR__")[0]
	out := ExpandFileRefs(n, "/src/app/main.src")
	assert.Contains(t, out.Canonical(), `"/src/app"`)
}

func TestExpandFileRefs_NoReferences(t *testing.T) {
	n := parseAll(t, "f(x) = x")[0]
	assert.Same(t, n, ExpandFileRefs(n, "/src/app/main.src"))
}

func TestExpandFileRefs_DifferentFilesDiverge(t *testing.T) {
	a := ExpandFileRefs(parseAll(t, "f() = @__FILE__")[0], "/a.src")
	b := ExpandFileRefs(parseAll(t, "f() = @__FILE__")[0], "/b.src")
	assert.NotEqual(t, a.Key(), b.Key())
}
