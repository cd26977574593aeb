package syntax

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Kind discriminates the shapes the parser recognizes at statement level.
type Kind uint8

const (
	// KindExpr is an opaque expression statement: anything the parser has
	// no structural interest in (assignments, const declarations, struct
	// and macro definitions, calls, ...).
	KindExpr Kind = iota
	// KindModule is a nested namespace declaration: module Name ... end.
	KindModule
	// KindFunc is an overloadable operation definition, long form
	// (function name(params) ... end) or short form (name(params) = expr).
	KindFunc
	// KindInclude is an inclusion directive: include("path").
	KindInclude
	// KindDoc is a string literal attached to the declaration that
	// immediately follows it.
	KindDoc
	// KindBlock is a bare begin ... end grouping.
	KindBlock
)

// Param is one positional or keyword parameter of a KindFunc node.
type Param struct {
	Name     string
	Type     string // "" when unconstrained
	Default  bool   // carries a default value
	Variadic bool
}

// Node is one parsed top-level statement in normalized form. Run holds
// the statement's token stream with comments and insignificant line
// breaks already removed, so two nodes that differ only in source
// position or formatting render to the same canonical string.
//
// The structural fields are overlays on Run, populated per Kind:
// Name/Body for modules, Name/Params/KwParams/Long for functions,
// Target for includes, Doc/Payload for documented declarations, and
// Body for begin groups.
type Node struct {
	Kind     Kind
	Name     string
	Doc      string // doc literal, quotes included
	Target   string // include path; "" when not statically resolvable
	Long     bool
	Params   []Param
	KwParams []Param
	Body     []*Node
	Payload  *Node
	Run      []Token
}

// Canonical returns the node's canonical rendering. Equality of
// canonical strings is the node equality of the whole system: it is
// insensitive to indentation, blank lines, comments, and the choice of
// newline versus ';' as statement separator.
func (n *Node) Canonical() string {
	if n.Kind == KindDoc {
		return n.Doc + " " + n.Payload.Canonical()
	}
	return renderRun(n.Run)
}

// Key returns the sha256 of the canonical rendering, hex encoded.
// Source location never affects the key.
func (n *Node) Key() string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(n.Canonical())))
}

func (n *Node) String() string {
	return n.Canonical()
}

// renderRun flattens a token run to its canonical text. Separator runs
// collapse to a single ';', separators adjacent to structural keywords
// that already imply a boundary are dropped, and spacing is normalized.
func renderRun(run []Token) string {
	var b strings.Builder
	var bt blockTracker
	pending := false
	var prev Token
	unary := false

	emit := func(text string, tight bool) {
		if b.Len() > 0 && !tight {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}

	for _, t := range run {
		if t.isSep() {
			if t.Kind == TokenSemi && bt.depth > bt.blockDepth() {
				// Explicit ';' inside brackets (keyword parameter
				// section) is semantic, not a statement separator.
				emit(";", true)
				prev = t
				unary = false
				continue
			}
			pending = true
			continue
		}
		if pending {
			pending = false
			if !dropSepAfter[prev.Text] && !dropSepBefore[t.Text] && prev.Kind != TokenEOF {
				emit(";", tightLeft[";"])
				prev = Token{Kind: TokenSemi, Text: ";"}
			}
		}
		tight := spaceSuppressed(prev, t, unary)
		emit(t.Text, tight)
		unary = isUnaryContext(prev, t)
		bt.feed(t)
		prev = t
	}
	return b.String()
}

// dropSepAfter lists tokens after which an implied statement boundary
// already exists, so a separator adds nothing.
var dropSepAfter = map[string]bool{
	"begin": true, "try": true, "else": true, "finally": true, "quote": true,
}

// dropSepBefore lists tokens before which a separator is redundant.
var dropSepBefore = map[string]bool{
	"end": true, "else": true, "elseif": true, "catch": true, "finally": true,
}

var tightLeft = map[string]bool{
	",": true, ")": true, "]": true, "}": true, ";": true,
	".": true, "::": true, "...": true,
}

var tightRight = map[string]bool{
	"(": true, "[": true, "{": true, ".": true, "::": true,
}

func spaceSuppressed(prev, t Token, unary bool) bool {
	if prev.Kind == TokenEOF {
		return true
	}
	if tightLeft[t.Text] && t.Kind == TokenOp {
		return true
	}
	if prev.Kind == TokenOp && tightRight[prev.Text] {
		return true
	}
	if unary {
		return true
	}
	// Call, index, and type-parameter brackets attach to the value they
	// apply to.
	if t.Kind == TokenOp && (t.Text == "(" || t.Text == "[" || t.Text == "{") {
		switch prev.Kind {
		case TokenIdent, TokenString, TokenNumber:
			return true
		case TokenOp:
			return prev.Text == ")" || prev.Text == "]" || prev.Text == "}"
		}
	}
	return false
}

// isUnaryContext reports whether t is a sign operator applying to the
// next token rather than a binary operator.
func isUnaryContext(prev, t Token) bool {
	if t.Kind != TokenOp || (t.Text != "-" && t.Text != "+" && t.Text != "!" && t.Text != "~") {
		return false
	}
	switch prev.Kind {
	case TokenEOF, TokenKeyword, TokenSemi, TokenNewline:
		return true
	case TokenOp:
		return prev.Text != ")" && prev.Text != "]" && prev.Text != "}" && prev.Text != "..."
	}
	return false
}

// splitRun splits a block body into its statement token runs. Statement
// boundaries are separators at zero relative depth; separators belonging
// to nested constructs stay inside their statement.
func splitRun(body []Token) [][]Token {
	var stmts [][]Token
	var cur []Token
	var bt blockTracker
	for _, t := range body {
		if t.isSep() && bt.atBoundary() {
			if len(cur) > 0 {
				stmts = append(stmts, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, t)
		bt.feed(t)
	}
	if len(cur) > 0 {
		stmts = append(stmts, cur)
	}
	return stmts
}
