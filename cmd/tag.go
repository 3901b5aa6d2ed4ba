package cmd

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/railbed/railbed/internal/runner"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(tagCmd)
}

var tagCmd = &cobra.Command{
	Use:   "tag <name>",
	Short: "Tag the most recently executed changeset",
	Long: `Tag the most recently executed changeset so a later
"railbed rollback --to-tag <name>" can return to this point.`,
	Args: cobra.ExactArgs(1),
	Run:  runTag,
}

func runTag(cmd *cobra.Command, args []string) {
	target, err := resolveTarget(cmd)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	if target.URL == "" {
		printConfigNotFound()
		os.Exit(1)
	}

	db, dialect, err := openDatabase(target.URL)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer func() { _ = db.Close() }()

	run := runner.New(db, dialect, target.Name)
	if err := run.Tag(context.Background(), args[0], runnerOptions(cmd, target)); err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Printf("Tagged latest changeset on %s as %q\n", target.Name, args[0])
}
