package cli

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "lineage",
	Short: "Query engine for decision genealogy",
	Long: "Lineage stores engineering decisions and their relationships as a graph\n" +
		"and serves tiered, bounded views of it: recent decisions, hop-limited\n" +
		"neighborhoods, and full decision context.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: $HOME/.lineage/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(pruneCmd)
}
