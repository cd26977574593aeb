package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/schollz/progressbar/v3"

	"regrow.dev/regrow"
)

// unitEntry is a discovered unit entry file: the unit takes its name
// from the file base, and the file itself is the unit's root source.
type unitEntry struct {
	Unit string
	Path string
}

// discoverUnits lists the unit entry files of a tree: every file
// directly under root carrying the tracked extension. Files a unit
// pulls in via inclusion live anywhere below root and are chased
// during registration, not discovered here.
func discoverUnits(root, ext string) ([]unitEntry, error) {
	dirents, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}
	var entries []unitEntry
	for _, d := range dirents {
		if d.IsDir() || !strings.HasSuffix(d.Name(), ext) {
			continue
		}
		entries = append(entries, unitEntry{
			Unit: strings.TrimSuffix(d.Name(), ext),
			Path: filepath.Join(root, d.Name()),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Unit < entries[j].Unit })
	return entries, nil
}

// partitionUnits splits entries into tracked and excluded sets using
// doublestar patterns matched against the unit name and the file base.
func partitionUnits(entries []unitEntry, patterns []string) (keep, drop []unitEntry) {
	for _, e := range entries {
		if matchesAny(e.Unit, patterns) || matchesAny(filepath.Base(e.Path), patterns) {
			drop = append(drop, e)
			continue
		}
		keep = append(keep, e)
	}
	return keep, drop
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// loadTree discovers the units of root, registers them into a fresh
// session, and waits for the initial parse of each. Excluded units are
// quietly excluded so stray inclusions never resurrect them. The
// caller owns the returned session.
func loadTree(ctx context.Context, root string, showProgress bool, opts ...regrow.Option) (*regrow.Session, []unitEntry, error) {
	entries, err := discoverUnits(root, flagExt)
	if err != nil {
		return nil, nil, err
	}
	keep, drop := partitionUnits(entries, flagExclude)
	if len(keep) == 0 {
		return nil, nil, fmt.Errorf("no %s unit files under %s", flagExt, root)
	}

	s := regrow.New(append([]regrow.Option{regrow.WithExtension(flagExt)}, opts...)...)
	for _, e := range drop {
		s.Exclude(e.Unit, true)
	}

	var bar *progressbar.ProgressBar
	if showProgress {
		bar = newBar(len(keep), "Loading units")
	}
	for _, e := range keep {
		s.IncludeObserved(e.Unit, e.Path)
		s.UnitLoaded(e.Unit, "")
		if err := s.Settle(ctx); err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("loading unit %s: %w", e.Unit, err)
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	return s, keep, nil
}

// offlineOptions configure a session for one-shot commands that never
// watch: polling at a long interval keeps the watcher dormant.
func offlineOptions() []regrow.Option {
	return []regrow.Option{regrow.WithPolling(time.Hour)}
}

func newBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]"+description+"[reset]"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	)
}
