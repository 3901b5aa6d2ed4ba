package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "railbed",
	Short: "Railbed applies SQL changelogs to PostgreSQL, SQLite, and libSQL databases.",
	Long: `Railbed applies SQL changelogs to PostgreSQL, SQLite, and libSQL databases.

Changelogs are plain SQL files with --changeset markers. Railbed records
every executed changeset in a ledger table and only applies what is new.`,
}

func init() {
	rootCmd.PersistentFlags().String("target", "", "Named target from railbed.toml (default from config)")
	rootCmd.PersistentFlags().String("url", "", "Database connection string (overrides target config)")
	rootCmd.PersistentFlags().String("changelog", "", "Changelog file or directory (overrides target config)")
	rootCmd.PersistentFlags().String("table", "", "Ledger table name (default railbed_changelog)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log each statement before executing it")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
