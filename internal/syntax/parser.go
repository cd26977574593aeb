package syntax

import (
	"fmt"
	"io"
	"strconv"
)

// ParseError reports malformed input. Line is the 1-based line where the
// failed construct begins: one past the last line consumed by successful
// parses, counting blank and comment lines as consumed.
type ParseError struct {
	Path string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
}

// Parser yields one normalized top-level node per Next call. It is a
// pull parser: nothing past the returned node has been committed, and
// Newlines reports exactly how many newline characters successful
// parsing has consumed so far.
type Parser struct {
	lx        *Lexer
	file      string
	peeked    *Token
	pending   *Node
	committed int
}

// NewParser returns a Parser over src. file labels errors and feeds
// @__FILE__ expansion downstream; it may be empty.
func NewParser(src []byte, file string) *Parser {
	return &Parser{lx: NewLexer(src), file: file}
}

// Newlines returns the newline count committed by successful parses.
func (p *Parser) Newlines() int { return p.committed }

// Line returns the 1-based line where the next parse attempt begins.
func (p *Parser) Line() int { return p.committed + 1 }

// Offset returns the byte offset consumed from the source so far.
func (p *Parser) Offset() int { return p.lx.Offset() }

// Parse consumes all of src and returns its top-level nodes. On a parse
// error the nodes preceding the failure are returned alongside it.
func Parse(src []byte, file string) ([]*Node, error) {
	p := NewParser(src, file)
	var nodes []*Node
	for {
		n, err := p.Next()
		if err == io.EOF {
			return nodes, nil
		}
		if err != nil {
			return nodes, err
		}
		nodes = append(nodes, n)
	}
}

// Next returns the next top-level node, pairing a standalone string
// literal with an immediately following module or function declaration
// into a KindDoc node. Returns io.EOF after the last node. After a
// *ParseError the parser is spent; callers abandon the file.
func (p *Parser) Next() (*Node, error) {
	if p.pending != nil {
		n := p.pending
		p.pending = nil
		return n, nil
	}
	n, err := p.stmt()
	if err != nil {
		return nil, err
	}
	if !isDocCandidate(n) {
		return n, nil
	}
	m, err := p.stmt()
	if err == io.EOF {
		return n, nil
	}
	if err != nil {
		return nil, err
	}
	if m.Kind == KindModule || m.Kind == KindFunc {
		return &Node{Kind: KindDoc, Doc: n.Run[0].Text, Payload: m}, nil
	}
	p.pending = m
	return n, nil
}

func isDocCandidate(n *Node) bool {
	return n.Kind == KindExpr && len(n.Run) == 1 && n.Run[0].Kind == TokenString
}

func (p *Parser) errorf(format string, args ...any) error {
	return &ParseError{Path: p.file, Line: p.committed + 1, Msg: fmt.Sprintf(format, args...)}
}

func (p *Parser) next() (Token, error) {
	if p.peeked != nil {
		t := *p.peeked
		p.peeked = nil
		return t, nil
	}
	return p.lx.Next()
}

func (p *Parser) stmt() (*Node, error) {
	toks, err := p.scan()
	if err != nil {
		return nil, err
	}
	n, err := p.shape(toks)
	if err != nil {
		return nil, err
	}
	p.committed = p.lx.Newlines()
	return n, nil
}

// scan collects the token run of one statement. Separators terminate the
// statement at boundary context, delimit statements inside block bodies,
// and are dropped inside brackets; a newline after a trailing operator
// continues the line.
func (p *Parser) scan() ([]Token, error) {
	// Leading separators belong to no statement: consume and commit them
	// so error lines point at the construct that actually failed.
	for {
		t, err := p.next()
		if err != nil {
			return nil, p.errorf("%s", err)
		}
		if t.Kind == TokenEOF {
			return nil, io.EOF
		}
		if !t.isSep() {
			p.peeked = &t
			break
		}
		p.committed = p.lx.Newlines()
	}

	var toks []Token
	var bt blockTracker
	for {
		t, err := p.next()
		if err != nil {
			return nil, p.errorf("%s", err)
		}
		switch {
		case t.Kind == TokenEOF:
			if bt.depth > 0 {
				return nil, p.errorf("missing closing bracket")
			}
			if len(bt.stack) > 0 {
				return nil, p.errorf("missing 'end'")
			}
			return toks, nil
		case t.isSep():
			if continuing(toks) {
				continue
			}
			if bt.atBoundary() {
				return toks, nil
			}
			if t.Kind == TokenSemi || bt.atBlockLevel() {
				toks = append(toks, t)
			}
			continue
		case t.Kind == TokenKeyword:
			if t.Text == "end" && bt.atBoundary() {
				return nil, p.errorf("unexpected 'end'")
			}
			if blockContinuers[t.Text] && bt.atBoundary() {
				return nil, p.errorf("unexpected '%s'", t.Text)
			}
		}
		toks = append(toks, t)
		bt.feed(t)
	}
}

// continuing reports whether the run so far ends in an operator that
// carries the expression across a line break.
func continuing(toks []Token) bool {
	if len(toks) == 0 {
		return false
	}
	t := toks[len(toks)-1]
	if t.Kind != TokenOp {
		return false
	}
	switch t.Text {
	case ")", "]", "}", "...":
		return false
	}
	return true
}

func (p *Parser) shape(toks []Token) (*Node, error) {
	if toks[0].Kind == TokenKeyword {
		switch toks[0].Text {
		case "module":
			return p.shapeModule(toks)
		case "begin":
			return p.shapeBlock(toks)
		case "function":
			return p.shapeFunc(toks)
		}
	}
	if isIncludeCall(toks) {
		return shapeInclude(toks), nil
	}
	if fn := shapeShortFunc(toks); fn != nil {
		return fn, nil
	}
	return &Node{Kind: KindExpr, Run: toks}, nil
}

func (p *Parser) shapeModule(toks []Token) (*Node, error) {
	if len(toks) < 3 || toks[1].Kind != TokenIdent {
		return nil, p.errorf("module: expected namespace name")
	}
	if !endsWithEnd(toks) {
		return nil, p.errorf("module %s: malformed declaration", toks[1].Text)
	}
	kids, err := p.shapeList(toks[2 : len(toks)-1])
	if err != nil {
		return nil, err
	}
	return &Node{Kind: KindModule, Name: toks[1].Text, Body: kids, Run: toks}, nil
}

func (p *Parser) shapeBlock(toks []Token) (*Node, error) {
	if !endsWithEnd(toks) {
		return nil, p.errorf("begin: malformed block")
	}
	kids, err := p.shapeList(toks[1 : len(toks)-1])
	if err != nil {
		return nil, err
	}
	return &Node{Kind: KindBlock, Body: kids, Run: toks}, nil
}

// shapeList shapes a block body's statements and pairs docstrings with
// the declarations that follow them.
func (p *Parser) shapeList(body []Token) ([]*Node, error) {
	var kids []*Node
	for _, run := range splitRun(body) {
		n, err := p.shape(run)
		if err != nil {
			return nil, err
		}
		kids = append(kids, n)
	}
	return pairDocs(kids), nil
}

func pairDocs(nodes []*Node) []*Node {
	var out []*Node
	for i := 0; i < len(nodes); i++ {
		n := nodes[i]
		if isDocCandidate(n) && i+1 < len(nodes) {
			if m := nodes[i+1]; m.Kind == KindModule || m.Kind == KindFunc {
				out = append(out, &Node{Kind: KindDoc, Doc: n.Run[0].Text, Payload: m})
				i++
				continue
			}
		}
		out = append(out, n)
	}
	return out
}

func (p *Parser) shapeFunc(toks []Token) (*Node, error) {
	if !endsWithEnd(toks) {
		return nil, p.errorf("function: malformed declaration")
	}
	name, i := dottedName(toks, 1)
	if name == "" || name[0] == '@' || i >= len(toks) || !isOpenParen(toks[i]) {
		// Anonymous and headless function forms stay opaque.
		return &Node{Kind: KindExpr, Run: toks}, nil
	}
	j := matchParen(toks, i)
	if j < 0 {
		return &Node{Kind: KindExpr, Run: toks}, nil
	}
	params, kw := parseParams(toks[i+1 : j])
	return &Node{Kind: KindFunc, Long: true, Name: name, Params: params, KwParams: kw, Run: toks}, nil
}

// shapeShortFunc recognizes name(params) = body, including dotted names
// extending another scope's operation. Returns nil when toks is not a
// short-form definition.
func shapeShortFunc(toks []Token) *Node {
	name, i := dottedName(toks, 0)
	if name == "" || name[0] == '@' || i >= len(toks) || !isOpenParen(toks[i]) {
		return nil
	}
	j := matchParen(toks, i)
	if j < 0 || j+1 >= len(toks) {
		return nil
	}
	if toks[j+1].Kind != TokenOp || toks[j+1].Text != "=" {
		return nil
	}
	if j+2 >= len(toks) {
		return nil
	}
	params, kw := parseParams(toks[i+1 : j])
	return &Node{Kind: KindFunc, Name: name, Params: params, KwParams: kw, Run: toks}
}

func isIncludeCall(toks []Token) bool {
	return len(toks) >= 3 &&
		toks[0].Kind == TokenIdent && toks[0].Text == "include" &&
		isOpenParen(toks[1]) &&
		matchParen(toks, 1) == len(toks)-1
}

func shapeInclude(toks []Token) *Node {
	n := &Node{Kind: KindInclude, Run: toks}
	if len(toks) == 4 && toks[2].Kind == TokenString {
		if target, err := strconv.Unquote(toks[2].Text); err == nil {
			n.Target = target
		}
	}
	return n
}

func endsWithEnd(toks []Token) bool {
	last := toks[len(toks)-1]
	return last.Kind == TokenKeyword && last.Text == "end"
}

func isOpenParen(t Token) bool {
	return t.Kind == TokenOp && t.Text == "("
}

// dottedName reads an identifier optionally extended by .ident segments
// starting at index i. Returns the joined name and the index past it,
// or "" when toks[i] is not an identifier.
func dottedName(toks []Token, i int) (string, int) {
	if i >= len(toks) || toks[i].Kind != TokenIdent {
		return "", i
	}
	name := toks[i].Text
	i++
	for i+1 < len(toks) && toks[i].Kind == TokenOp && toks[i].Text == "." && toks[i+1].Kind == TokenIdent {
		name += "." + toks[i+1].Text
		i += 2
	}
	return name, i
}

// matchParen returns the index of the ')' matching the '(' at i, or -1.
func matchParen(toks []Token, i int) int {
	depth := 0
	for ; i < len(toks); i++ {
		if toks[i].Kind != TokenOp {
			continue
		}
		switch toks[i].Text {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// parseParams splits a parameter list into positional and keyword
// sections; keyword parameters follow the first top-level ';'.
func parseParams(inner []Token) (pos, kw []Param) {
	depth := 0
	kwMode := false
	var cur []Token
	flush := func() {
		if len(cur) == 0 {
			return
		}
		prm := parseParam(cur)
		if kwMode {
			kw = append(kw, prm)
		} else {
			pos = append(pos, prm)
		}
		cur = nil
	}
	for _, t := range inner {
		if t.Kind == TokenOp {
			switch t.Text {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				depth--
			case ",":
				if depth == 0 {
					flush()
					continue
				}
			}
		}
		if t.Kind == TokenSemi && depth == 0 {
			flush()
			kwMode = true
			continue
		}
		cur = append(cur, t)
	}
	flush()
	return pos, kw
}

func parseParam(toks []Token) Param {
	var prm Param
	if n := len(toks); n > 0 && toks[n-1].Kind == TokenOp && toks[n-1].Text == "..." {
		prm.Variadic = true
		toks = toks[:n-1]
	}
	// Strip a default value; its presence is recorded, its text is not
	// part of the dispatch identity.
	depth := 0
	for i, t := range toks {
		if t.Kind != TokenOp {
			continue
		}
		switch t.Text {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			depth--
		case "=":
			if depth == 0 {
				prm.Default = true
				toks = toks[:i]
			}
		}
		if prm.Default {
			break
		}
	}
	for i, t := range toks {
		if t.Kind == TokenOp && t.Text == "::" {
			if i > 0 {
				prm.Name = toks[0].Text
			}
			prm.Type = renderRun(toks[i+1:])
			return prm
		}
	}
	if len(toks) > 0 {
		prm.Name = toks[0].Text
	}
	return prm
}
