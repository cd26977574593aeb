package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"regrow.dev/regrow"
)

var (
	flagPoll     bool
	flagInterval time.Duration
	flagFilter   string
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Watch a source tree and report definition-level changes",
	Long: `Registers every tracked unit under the directory, chases inclusions,
then watches the files and prints one report per reloaded file:
which definitions were added, removed, or modified in which scope.

Runs until interrupted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func configureWatchFlags() {
	watchCmd.Flags().BoolVar(&flagPoll, "poll", viper.GetBool(pollConfigKey), "poll timestamps instead of filesystem notifications")
	bindFlagToConfig(watchCmd.Flags().Lookup("poll"), pollConfigKey)
	watchCmd.Flags().DurationVar(&flagInterval, "interval", viper.GetDuration(intervalConfigKey), "poll interval")
	bindFlagToConfig(watchCmd.Flags().Lookup("interval"), intervalConfigKey)
	watchCmd.Flags().StringVar(&flagFilter, "filter", "", "risor expression selecting changes (globals: path, unit, scopes, added, removed, changed)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	root, err := resolveTargetDir(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var filter *changeFilter
	if flagFilter != "" {
		filter = newChangeFilter(flagFilter)
	}

	var opts []regrow.Option
	if flagPoll {
		opts = append(opts, regrow.WithPolling(flagInterval))
	}

	start := time.Now()
	s, entries, err := loadTree(ctx, root, true, opts...)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Fprintf(os.Stderr, "Tracking %d units, %d files (took %s)\n",
		len(entries), len(s.Paths()), time.Since(start).Round(time.Millisecond))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ch := <-s.Changes():
			diff := ch.Diff()
			if filter != nil {
				keep, err := filter.Keep(ctx, s, ch, diff)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Warning: %s\n", err)
					continue
				}
				if !keep {
					continue
				}
			}
			if err := printChange(cmd.OutOrStdout(), s, ch, diff); err != nil {
				return err
			}
		}
	}
}
