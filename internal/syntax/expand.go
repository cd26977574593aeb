package syntax

import (
	"path/filepath"
	"strconv"
)

// fileRefs are the magic references substituted before definitions are
// compared or stored. Substitution happens on the normalized node, so a
// definition's identity depends on the file it lives in exactly when it
// mentions one of these.
const (
	refFile = "@__FILE__"
	refDir  = "@__DIR__"
)

// ExpandFileRefs returns n with @__FILE__ and @__DIR__ replaced by
// string literals derived from path. The input node is never mutated;
// when no references occur, n itself is returned.
func ExpandFileRefs(n *Node, path string) *Node {
	payload := n.Payload
	if payload != nil {
		payload = ExpandFileRefs(payload, path)
	}
	run, changed := expandRun(n.Run, path)
	if !changed && payload == n.Payload {
		return n
	}
	out := *n
	out.Run = run
	out.Payload = payload
	return &out
}

func expandRun(run []Token, path string) ([]Token, bool) {
	replaced := false
	for i, t := range run {
		if t.Kind != TokenIdent || (t.Text != refFile && t.Text != refDir) {
			continue
		}
		if !replaced {
			run = append([]Token(nil), run...)
			replaced = true
		}
		text := path
		if t.Text == refDir {
			text = filepath.Dir(path)
		}
		run[i] = Token{Kind: TokenString, Text: strconv.Quote(text)}
	}
	return run, replaced
}
