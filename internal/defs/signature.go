package defs

import (
	"strings"

	"regrow.dev/regrow/internal/syntax"
)

// Signature identifies an overloadable operation variant: the operation
// name plus the ordered positional parameter constraints. Definitions
// with equal signatures are revisions of one overload; different
// signatures under one name are independent overloads and never replace
// each other. Keyword parameters and default-value expressions are not
// part of the identity; the presence of defaults is, because it implies
// the definition also covers elided arities.
type Signature struct {
	Name      string
	Params    []string // one constraint per positional parameter; "" means unconstrained
	Variadic  bool
	Defaulted bool
}

// SignatureFor extracts the signature of n, looking through
// documentation wrappers. Returns nil for anything that is not a
// function definition: such definitions are replaced wholesale.
func SignatureFor(n *syntax.Node) *Signature {
	for n != nil && n.Kind == syntax.KindDoc {
		n = n.Payload
	}
	if n == nil || n.Kind != syntax.KindFunc {
		return nil
	}
	sig := &Signature{Name: n.Name}
	for _, p := range n.Params {
		sig.Params = append(sig.Params, p.Type)
		if p.Default {
			sig.Defaulted = true
		}
		if p.Variadic {
			sig.Variadic = true
		}
	}
	return sig
}

// String renders the signature in diagnostic form, e.g.
// describe(::Thing, ::Any...).
func (s *Signature) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	b.WriteByte('(')
	for i, c := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("::")
		if c == "" {
			b.WriteString("Any")
		} else {
			b.WriteString(c)
		}
		if s.Variadic && i == len(s.Params)-1 {
			b.WriteString("...")
		}
	}
	b.WriteByte(')')
	return b.String()
}

// Key is the comparable overload identity.
func (s *Signature) Key() string {
	if s.Defaulted {
		return s.String() + "+defaults"
	}
	return s.String()
}
