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
	rootCmd.AddCommand(rollbackCmd)
	rollbackCmd.Flags().Int("count", 0, "Roll back the N most recently executed changesets")
	rollbackCmd.Flags().String("to-tag", "", "Roll back everything executed after this tag")
	rollbackCmd.Flags().Duration("changeset-timeout", 0, "Per-changeset execution timeout (0 disables)")
	rollbackCmd.Flags().Duration("lock-timeout", 0, "Take over the run lock if held longer than this (0 never takes over)")
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Undo applied changesets in reverse execution order",
	Long: `Undo applied changesets in reverse execution order using their declared
--rollback statements. Use --count N to undo the last N changesets or
--to-tag T to undo everything executed after tag T.`,
	Run: runRollback,
}

func runRollback(cmd *cobra.Command, args []string) {
	count, _ := cmd.Flags().GetInt("count")
	toTag, _ := cmd.Flags().GetString("to-tag")
	if count <= 0 && toTag == "" {
		log.Fatal("Error: rollback requires --count N or --to-tag T")
	}
	if count > 0 && toTag != "" {
		log.Fatal("Error: --count and --to-tag are mutually exclusive")
	}

	target, err := resolveTarget(cmd)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	if target.URL == "" {
		printConfigNotFound()
		os.Exit(1)
	}

	changeSets, err := loadChangeLog(target.Changelog)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	db, dialect, err := openDatabase(target.URL)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer func() { _ = db.Close() }()

	opts := runnerOptions(cmd, target)
	opts.ChangeSetTimeout, _ = cmd.Flags().GetDuration("changeset-timeout")

	run := runner.New(db, dialect, target.Name)
	result, err := run.Rollback(context.Background(), changeSets, count, toTag, opts)
	if err != nil {
		reportRunError(err, result)
	}

	fmt.Printf("Rolled back %d changeset(s) on %s\n", len(result.RolledBack), target.Name)
}
