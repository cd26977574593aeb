package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	difflib "github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"regrow.dev/regrow"
	"regrow.dev/regrow/internal/snapshot"
)

var flagSnapDB string

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [dir]",
	Short: "Record the current definitions of a source tree",
	Long: `Parses every unit under the directory and stores each file's scope
maps in a snapshot database: the baseline 'regrow diff' compares
against. Re-running replaces the baseline.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSnapshot,
}

var diffCmd = &cobra.Command{
	Use:   "diff [dir]",
	Short: "Compare a source tree against its snapshot",
	Long: `Reparses the tree and classifies drift per scope since the snapshot:
definitions added, removed, or (for same-signature revisions) changed,
with a unified diff of each changed body.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDiff,
}

func configureSnapshotFlags() {
	snapshotCmd.Flags().StringVar(&flagSnapDB, "db", viper.GetString(snapshotConfigKey), "snapshot database path (relative paths land in .regrow/)")
	bindFlagToConfig(snapshotCmd.Flags().Lookup("db"), snapshotConfigKey)
	diffCmd.Flags().StringVar(&flagSnapDB, "db", viper.GetString(snapshotConfigKey), "snapshot database path (relative paths land in .regrow/)")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	root, err := resolveTargetDir(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, entries, err := loadTree(ctx, root, false, offlineOptions()...)
	if err != nil {
		return err
	}
	defer s.Close()

	dbPath, err := resolveStatePath(root, flagSnapDB)
	if err != nil {
		return err
	}
	store, err := snapshot.NewStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	paths := s.Paths()
	bar := newBar(len(paths), "Snapshotting")
	current := make(map[string]bool, len(paths))
	for _, p := range paths {
		fs, err := s.Snapshot(p)
		if err != nil {
			return fmt.Errorf("capturing %s: %w", p, err)
		}
		if err := store.Put(fs); err != nil {
			return fmt.Errorf("storing %s: %w", p, err)
		}
		current[p] = true
		bar.Add(1)
	}

	// Drop baselines for files no longer tracked.
	stored, err := store.Paths()
	if err != nil {
		return err
	}
	for _, p := range stored {
		if !current[p] {
			if err := store.Delete(p); err != nil {
				return err
			}
		}
	}

	meta := snapshot.Meta{
		Root:      root,
		Extension: flagExt,
		TakenAt:   time.Now().UTC(),
		Files:     len(paths),
	}
	if err := store.PutMeta(meta); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Snapshot of %d files (%d units)\n", len(paths), len(entries))
	fmt.Fprintf(os.Stderr, "Database: %s\n", dbPath)
	return nil
}

// fileDrift groups the drift of one file.
type fileDrift struct {
	Path   string     `json:"path"`
	Drifts []CLIDrift `json:"drifts"`
}

// CLIDrift is one definition-level drift in the JSON envelope.
type CLIDrift struct {
	Scope     string `json:"scope"`
	Kind      string `json:"kind"`
	Signature string `json:"signature,omitempty"`
	Before    string `json:"before,omitempty"`
	After     string `json:"after,omitempty"`
}

func runDiff(cmd *cobra.Command, args []string) error {
	root, err := resolveTargetDir(args)
	if err != nil {
		return err
	}
	dbPath, err := resolveStatePath(root, flagSnapDB)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("no snapshot database at %s (run 'regrow snapshot' first)", dbPath)
	}
	store, err := snapshot.NewStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, _, err := loadTree(ctx, root, false, offlineOptions()...)
	if err != nil {
		return err
	}
	defer s.Close()

	current := make(map[string]regrow.FileSnapshot)
	for _, p := range s.Paths() {
		fs, err := s.Snapshot(p)
		if err != nil {
			return fmt.Errorf("capturing %s: %w", p, err)
		}
		current[p] = fs
	}

	stored, err := store.Paths()
	if err != nil {
		return err
	}

	var rows []fileDrift
	seen := make(map[string]bool, len(stored))
	for _, p := range stored {
		seen[p] = true
		before, err := store.Get(p)
		if err != nil {
			return err
		}
		if ds := snapshot.Diff(before, current[p]); len(ds) > 0 {
			rows = append(rows, fileDrift{Path: p, Drifts: cliDrifts(ds)})
		}
	}
	for _, p := range s.Paths() {
		if seen[p] {
			continue
		}
		if ds := snapshot.Diff(regrow.FileSnapshot{Path: p}, current[p]); len(ds) > 0 {
			rows = append(rows, fileDrift{Path: p, Drifts: cliDrifts(ds)})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Path < rows[j].Path })

	w := cmd.OutOrStdout()
	if flagFormat == "json" {
		return json.NewEncoder(w).Encode(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "No drift.")
		return nil
	}
	return printDrift(w, root, rows)
}

func cliDrifts(ds []snapshot.Drift) []CLIDrift {
	out := make([]CLIDrift, 0, len(ds))
	for _, d := range ds {
		c := CLIDrift{
			Scope:     d.Scope,
			Kind:      d.Kind,
			Signature: d.Before.Signature,
			Before:    d.Before.Canonical,
			After:     d.After.Canonical,
		}
		if c.Signature == "" {
			c.Signature = d.After.Signature
		}
		out = append(out, c)
	}
	return out
}

// printDrift renders a per-scope summary table, then a unified diff of
// each changed body.
func printDrift(w io.Writer, root string, rows []fileDrift) error {
	type key struct{ file, scope string }
	counts := make(map[key]*[3]int)
	var order []key
	for _, row := range rows {
		rel := relPath(root, row.Path)
		for _, d := range row.Drifts {
			k := key{rel, d.Scope}
			c, ok := counts[k]
			if !ok {
				c = &[3]int{}
				counts[k] = c
				order = append(order, k)
			}
			switch d.Kind {
			case snapshot.DriftAdded:
				c[0]++
			case snapshot.DriftRemoved:
				c[1]++
			case snapshot.DriftChanged:
				c[2]++
			}
		}
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"File", "Scope", "Added", "Removed", "Changed"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_CENTER, tablewriter.ALIGN_CENTER, tablewriter.ALIGN_CENTER,
	})
	for _, k := range order {
		c := counts[k]
		table.Append([]string{
			k.file, k.scope,
			fmt.Sprintf("%d", c[0]), fmt.Sprintf("%d", c[1]), fmt.Sprintf("%d", c[2]),
		})
	}
	table.Render()

	for _, row := range rows {
		rel := relPath(root, row.Path)
		for _, d := range row.Drifts {
			if d.Kind != snapshot.DriftChanged {
				continue
			}
			label := rel + ": " + d.Scope
			if d.Signature != "" {
				label += " " + d.Signature
			}
			u := difflib.UnifiedDiff{
				A:        difflib.SplitLines(d.Before),
				B:        difflib.SplitLines(d.After),
				FromFile: label + " (snapshot)",
				ToFile:   label + " (current)",
				Context:  1,
			}
			patch, err := difflib.GetUnifiedDiffString(u)
			if err != nil {
				return fmt.Errorf("diffing %s: %w", label, err)
			}
			fmt.Fprintln(w)
			fmt.Fprint(w, patch)
		}
	}
	return nil
}

func relPath(root, p string) string {
	if rel, err := filepath.Rel(root, p); err == nil {
		return rel
	}
	return p
}
