package main

import (
	"runtime/debug"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok || info.Main.Version == "" {
			cmd.Println("version: unknown")
			return
		}
		cmd.Println("regrow version\t", info.Main.Version)
		cmd.Println("go version\t", info.GoVersion)
	},
}
