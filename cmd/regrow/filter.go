package main

import (
	"context"
	"fmt"

	"github.com/risor-io/risor"

	"regrow.dev/regrow"
)

// changeFilter evaluates a user-supplied risor expression per reported
// change. The change is exposed through globals: path and unit
// (strings), scopes (list of touched scope names), and added, removed,
// changed (counts). A truthy result keeps the change.
type changeFilter struct {
	src string
}

func newChangeFilter(src string) *changeFilter {
	return &changeFilter{src: src}
}

func (f *changeFilter) Keep(ctx context.Context, s *regrow.Session, ch regrow.Change, diff []regrow.DefChange) (bool, error) {
	var added, removed, changed int
	seen := make(map[string]bool)
	scopes := []any{}
	for _, d := range diff {
		switch d.Kind {
		case regrow.Added:
			added++
		case regrow.Removed:
			removed++
		case regrow.Modified:
			changed++
		}
		name := s.ScopeName(d.Scope)
		if !seen[name] {
			seen[name] = true
			scopes = append(scopes, name)
		}
	}

	result, err := risor.Eval(ctx, f.src,
		risor.WithGlobal("path", ch.Path),
		risor.WithGlobal("unit", ch.Unit),
		risor.WithGlobal("scopes", scopes),
		risor.WithGlobal("added", added),
		risor.WithGlobal("removed", removed),
		risor.WithGlobal("changed", changed),
	)
	if err != nil {
		return false, fmt.Errorf("filter expression: %w", err)
	}
	return result.IsTruthy(), nil
}
