package syntax

// TokenKind discriminates lexical token classes.
type TokenKind uint8

const (
	TokenEOF TokenKind = iota
	TokenIdent
	TokenKeyword
	TokenNumber
	TokenString
	TokenOp
	TokenSemi    // explicit ';'
	TokenNewline // line break outside strings and comments
)

// Token is one lexical token. Text holds the verbatim source spelling;
// string literals keep their quotes.
type Token struct {
	Kind TokenKind
	Text string
}

func (t Token) isSep() bool {
	return t.Kind == TokenSemi || t.Kind == TokenNewline
}

// keywords are the reserved words of the tracked language.
var keywords = map[string]bool{
	"module": true, "function": true, "macro": true, "struct": true,
	"begin": true, "if": true, "elseif": true, "else": true,
	"for": true, "while": true, "let": true, "try": true,
	"catch": true, "finally": true, "end": true, "do": true,
	"quote": true, "return": true, "const": true, "global": true,
	"local": true, "break": true, "continue": true,
	"true": true, "false": true,
}

// blockOpeners start a construct closed by a matching 'end'.
var blockOpeners = map[string]bool{
	"module": true, "function": true, "macro": true, "struct": true,
	"begin": true, "if": true, "for": true, "while": true,
	"let": true, "try": true, "quote": true, "do": true,
}

// blockContinuers extend an open construct without closing it.
var blockContinuers = map[string]bool{
	"elseif": true, "else": true, "catch": true, "finally": true,
}

// blockTracker follows bracket depth and open block constructs across a
// token stream. An 'end' closes a block only when the current bracket
// depth matches the depth at which the block opened, so 'end' inside an
// index expression stays a value.
type blockTracker struct {
	depth int   // bracket nesting: ( [ {
	stack []int // bracket depth at each open block
}

func (bt *blockTracker) feed(t Token) {
	switch t.Kind {
	case TokenOp:
		switch t.Text {
		case "(", "[", "{":
			bt.depth++
		case ")", "]", "}":
			if bt.depth > 0 {
				bt.depth--
			}
		}
	case TokenKeyword:
		switch {
		case blockOpeners[t.Text]:
			bt.stack = append(bt.stack, bt.depth)
		case t.Text == "end":
			if n := len(bt.stack); n > 0 && bt.stack[n-1] == bt.depth {
				bt.stack = bt.stack[:n-1]
			}
		}
	}
}

// closes reports whether an 'end' seen now would close an open block.
func (bt *blockTracker) closes() bool {
	n := len(bt.stack)
	return n > 0 && bt.stack[n-1] == bt.depth
}

// blockDepth is the bracket depth of the innermost open block, or 0.
func (bt *blockTracker) blockDepth() int {
	if n := len(bt.stack); n > 0 {
		return bt.stack[n-1]
	}
	return 0
}

// atBoundary reports a statement-boundary context: no open brackets and
// no open blocks.
func (bt *blockTracker) atBoundary() bool {
	return bt.depth == 0 && len(bt.stack) == 0
}

// atBlockLevel reports whether a separator here delimits statements of
// the innermost open block body.
func (bt *blockTracker) atBlockLevel() bool {
	return len(bt.stack) > 0 && bt.depth == bt.blockDepth()
}
