package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"regrow.dev/regrow"
)

var parseCmd = &cobra.Command{
	Use:   "parse <file>",
	Short: "Parse and classify one source file",
	Long: `Classifies a single file as a fresh unit and dumps its per-scope
definition maps: canonical bodies, overload signatures, and identity
keys. Files the target pulls in via inclusion are listed but not
dumped.`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

// parseReport is the dump shape: the file's scope maps plus any files
// its inclusions pulled into the unit.
type parseReport struct {
	regrow.FileSnapshot `yaml:",inline"`
	Files               []string `json:"files,omitempty" yaml:"files,omitempty"`
}

func runParse(cmd *cobra.Command, args []string) error {
	abs, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving path %q: %w", args[0], err)
	}
	if info, err := os.Stat(abs); err != nil {
		return fmt.Errorf("file not found: %s", abs)
	} else if info.IsDir() {
		return fmt.Errorf("not a file: %s", abs)
	}
	unit := strings.TrimSuffix(filepath.Base(abs), flagExt)

	s := regrow.New(append(offlineOptions(), regrow.WithExtension(flagExt))...)
	defer s.Close()

	s.IncludeObserved(unit, abs)
	s.UnitLoaded(unit, "")
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.Settle(ctx); err != nil {
		return fmt.Errorf("classifying %s: %w", abs, err)
	}
	if _, ok := s.File(abs); !ok {
		return fmt.Errorf("could not classify %s", abs)
	}

	fs, err := s.Snapshot(abs)
	if err != nil {
		return err
	}
	report := parseReport{FileSnapshot: fs}
	if u, ok := s.Unit(unit); ok {
		for _, p := range u.Files {
			if p != abs {
				report.Files = append(report.Files, p)
			}
		}
	}

	w := cmd.OutOrStdout()
	if flagFormat == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	out, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	_, err = w.Write(out)
	return err
}
