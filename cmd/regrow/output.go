package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"regrow.dev/regrow"
)

// CLIChange is the JSON envelope for one reported file reload.
type CLIChange struct {
	Path    string         `json:"path"`
	Unit    string         `json:"unit"`
	Changes []CLIDefChange `json:"changes"`
}

// CLIDefChange is one definition-level difference within a reload.
type CLIDefChange struct {
	Scope     string `json:"scope"`
	Kind      string `json:"kind"`
	Signature string `json:"signature,omitempty"`
	Before    string `json:"before,omitempty"`
	After     string `json:"after,omitempty"`
}

func cliChange(s *regrow.Session, ch regrow.Change, diff []regrow.DefChange) CLIChange {
	out := CLIChange{Path: ch.Path, Unit: ch.Unit, Changes: make([]CLIDefChange, 0, len(diff))}
	for _, d := range diff {
		c := CLIDefChange{Scope: s.ScopeName(d.Scope), Kind: d.Kind.String()}
		if d.Sig != nil {
			c.Signature = d.Sig.String()
		}
		if d.Before != nil {
			c.Before = d.Before.Canonical()
		}
		if d.After != nil {
			c.After = d.After.Canonical()
		}
		out.Changes = append(out.Changes, c)
	}
	return out
}

// printChange renders one reload report in the selected output format.
func printChange(w io.Writer, s *regrow.Session, ch regrow.Change, diff []regrow.DefChange) error {
	out := cliChange(s, ch, diff)
	if flagFormat == "json" {
		return json.NewEncoder(w).Encode(out)
	}

	fmt.Fprintf(w, "%s (unit %s): %d definition change(s)\n", out.Path, out.Unit, len(out.Changes))
	if len(out.Changes) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range out.Changes {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", c.Kind, c.Scope, defLabel(c))
	}
	return tw.Flush()
}

// defLabel identifies a definition in text output: the overload
// signature when it has one, otherwise the (truncated) canonical body.
func defLabel(c CLIDefChange) string {
	if c.Signature != "" {
		return c.Signature
	}
	body := c.After
	if body == "" {
		body = c.Before
	}
	if len(body) > 60 {
		body = body[:57] + "..."
	}
	return body
}
