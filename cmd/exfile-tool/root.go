package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "exfile-tool",
	Short: "Inspect and exercise extensible mapped files and JSON registries",
	Long: `exfile-tool is a diagnostic CLI for the exfile and jsonreg packages.

It opens a backing file or registry, performs one operation, and exits,
so it can be scripted or used to reproduce scenarios interactively.`,
}

func init() {
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(mapCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(regCmd)
}
