// Package main is the entry point for the mexpr command line tool and
// server.
package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "mexpr",
	Short:         "Parse and evaluate mathematical, comparison and logical expressions",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = version + " (commit=" + commit + ", built=" + date + ")"
	rootCmd.SetVersionTemplate("mexpr version {{.Version}}\n")

	rootCmd.AddCommand(newEvalCmd(), newPostfixCmd(), newCheckCmd(), newQueryCmd(), newServeCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
