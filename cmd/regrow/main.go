package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	flagFormat  string
	flagExt     string
	flagExclude []string
	flagLogFile string
	flagVerbose bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "regrow",
	Short:         "Track source-level definitions of a running program",
	Long:          "Regrow parses tracked source files into per-scope definition maps, watches them for edits, and reports definition-level changes for hot reload.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFormat(flagFormat); err != nil {
			return err
		}
		configureLogger(flagLogFile, flagVerbose)
		return nil
	},
	// No Run; prints help by default.
}

// Flag wiring happens here rather than in per-command init functions:
// config.go's init must have seeded the viper defaults first.
func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagFormat, formatFlagName, "text", "output format: text|json")
	pf.StringVar(&flagExt, extFlagName, viper.GetString(extConfigKey), "tracked source extension")
	bindFlagToConfig(pf.Lookup(extFlagName), extConfigKey)
	pf.StringArrayVarP(&flagExclude, excludeFlagName, "x", viper.GetStringSlice(excludeConfigKey), "exclude paths matching glob (can be repeated)")
	bindFlagToConfig(pf.Lookup(excludeFlagName), excludeConfigKey)
	pf.StringVar(&flagLogFile, logFileFlagName, "", "log file path (default: "+defaultLogFilename+")")
	pf.BoolVarP(&flagVerbose, verboseFlagName, "v", false, "log at debug level")

	configureWatchFlags()
	configureBakeFlags()
	configureSnapshotFlags()

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(bakeCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(versionCmd)
}

// validateFormat rejects unknown --format values before any command runs.
func validateFormat(format string) error {
	switch format {
	case "text", "json":
		return nil
	}
	return fmt.Errorf("invalid format %q (want text or json)", format)
}

// resolveTargetDir returns the absolute path of the directory named by
// the first positional argument, defaulting to the current directory.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// stateDir ensures the .regrow directory under root exists and returns
// its path. Databases and snapshots live there.
func stateDir(root string) (string, error) {
	dir := filepath.Join(root, ".regrow")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	return dir, nil
}

// resolveStatePath places a database file: absolute paths are used
// as-is, relative ones land in the tree's .regrow directory.
func resolveStatePath(root, p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	dir, err := stateDir(root)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, p), nil
}
