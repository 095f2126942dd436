package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var verbose bool

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "secrethound",
	Short: "Secret-scanning job server for source-code repositories",
	Long: `secrethound accepts HTTP requests to scan repositories for leaked
credentials: it resolves the requested ref against the hosting platform,
fetches and extracts the archive, matches every line against the rule
catalog, classifies candidate secrets with a TF-IDF + logistic-regression
model, and delivers the verdict to a caller-supplied webhook.

Get started:
  secrethound setup    Store platform credentials (encrypted)
  secrethound serve    Run the job server`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(func() {
		if verbose {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	})

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable verbose/debug output")

	rootCmd.Version = Version
	rootCmd.AddCommand(serveCmd, setupCmd)
}
