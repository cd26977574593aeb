package defs

import "regrow.dev/regrow/internal/syntax"

// IncludePoint records an inclusion directive encountered during
// classification: the scope whose body contained it and the literal
// target path. Target is "" when the argument was not a string literal,
// so the directive cannot be resolved statically.
type IncludePoint struct {
	Scope  Handle
	Target string
}

// ClassifyFile sorts a file's parsed top-level nodes into per-scope
// definition maps inside b:
//
//   - bare begin groups are transparent; their members classify at the
//     grouping's own level
//   - statements with no tracked effect are discarded
//   - nested namespace declarations become live scopes in t, realized
//     through r when not yet live, and their bodies classify recursively
//   - a documented namespace splits: the namespace classifies as above,
//     and the documentation wrapper lands in the enclosing scope with
//     its payload reduced to a name reference
//   - inclusion directives are collected and returned, never stored
//   - everything else is expanded, keyed by normalized content, and
//     inserted into the enclosing scope's map with its signature
//
// A realization failure aborts the file with a *RealizeError.
func ClassifyFile(nodes []*syntax.Node, path string, scope Handle, t *Table, r Realizer, b *Bundle) ([]IncludePoint, error) {
	c := &classifier{path: path, table: t, realizer: r, bundle: b}
	b.Ensure(scope)
	if err := c.walk(nodes, scope); err != nil {
		return nil, err
	}
	return c.includes, nil
}

type classifier struct {
	path     string
	table    *Table
	realizer Realizer
	bundle   *Bundle
	includes []IncludePoint
}

func (c *classifier) walk(nodes []*syntax.Node, scope Handle) error {
	for _, n := range nodes {
		switch {
		case n.Kind == syntax.KindBlock:
			if err := c.walk(n.Body, scope); err != nil {
				return err
			}
		case isNoop(n):
			// skip
		case n.Kind == syntax.KindModule:
			if err := c.namespace(n, scope); err != nil {
				return err
			}
		case n.Kind == syntax.KindDoc && n.Payload.Kind == syntax.KindModule:
			if err := c.namespace(n.Payload, scope); err != nil {
				return err
			}
			c.insert(docRef(n), scope)
		case n.Kind == syntax.KindInclude:
			c.includes = append(c.includes, IncludePoint{Scope: scope, Target: n.Target})
		default:
			c.insert(n, scope)
		}
	}
	return nil
}

func (c *classifier) namespace(n *syntax.Node, parent Handle) error {
	child, err := c.table.Materialize(n, parent, c.realizer)
	if err != nil {
		return err
	}
	c.bundle.Ensure(child)
	return c.walk(n.Body, child)
}

func (c *classifier) insert(n *syntax.Node, scope Handle) {
	n = syntax.ExpandFileRefs(n, c.path)
	c.bundle.Ensure(scope).Insert(n, SignatureFor(n))
}

// docRef rebuilds a documented namespace wrapper with the namespace body
// replaced by a bare reference to its name, so the documentation can be
// tracked in the enclosing scope without duplicating the body.
func docRef(n *syntax.Node) *syntax.Node {
	return &syntax.Node{
		Kind: syntax.KindDoc,
		Doc:  n.Doc,
		Payload: &syntax.Node{
			Kind: syntax.KindExpr,
			Run:  []syntax.Token{{Kind: syntax.TokenIdent, Text: n.Payload.Name}},
		},
	}
}

func isNoop(n *syntax.Node) bool {
	return n.Kind == syntax.KindExpr && len(n.Run) == 0
}
