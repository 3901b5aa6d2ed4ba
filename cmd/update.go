package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/railbed/railbed/internal/config"
	"github.com/railbed/railbed/internal/ledger"
	"github.com/railbed/railbed/internal/lock"
	"github.com/railbed/railbed/internal/runner"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(updateCmd)
	updateCmd.Flags().String("contexts", "", "Only run changesets matching these contexts (comma-separated, ! negates)")
	updateCmd.Flags().String("labels", "", "Only run changesets matching these labels (comma-separated, ! negates)")
	updateCmd.Flags().Bool("dry-run", false, "Report what would run without executing anything")
	updateCmd.Flags().Bool("continue-on-error", false, "Keep applying later changesets after a failure")
	updateCmd.Flags().Duration("changeset-timeout", 0, "Per-changeset execution timeout (0 disables)")
	updateCmd.Flags().Duration("lock-timeout", 0, "Take over the run lock if held longer than this (0 never takes over)")
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Apply pending changesets to the target database",
	Run:   runUpdate,
}

func runUpdate(cmd *cobra.Command, args []string) {
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
	opts.ContinueOnError, _ = cmd.Flags().GetBool("continue-on-error")
	opts.ChangeSetTimeout, _ = cmd.Flags().GetDuration("changeset-timeout")

	run := runner.New(db, dialect, target.Name)

	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		rep, err := run.Status(context.Background(), changeSets, opts)
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		if err := rep.WriteText(os.Stdout); err != nil {
			log.Fatalf("Error: %v", err)
		}
		return
	}

	result, err := run.Update(context.Background(), changeSets, opts)
	if err != nil {
		reportRunError(err, result)
	}

	fmt.Printf("Applied %d changeset(s) to %s", len(result.Applied), target.Name)
	if result.FilteredOut > 0 {
		fmt.Printf(" (%d filtered out)", result.FilteredOut)
	}
	fmt.Println()
}

// runnerOptions builds the options every runner command shares: filter flags
// layered over the target's configured defaults.
func runnerOptions(cmd *cobra.Command, target *config.ResolvedTarget) runner.Options {
	opts := runner.Options{
		Contexts:    target.Contexts,
		Labels:      target.Labels,
		Table:       target.Table,
		LockTimeout: target.LockTimeout,
	}
	if contexts, _ := cmd.Flags().GetString("contexts"); contexts != "" {
		opts.Contexts = contexts
	}
	if labels, _ := cmd.Flags().GetString("labels"); labels != "" {
		opts.Labels = labels
	}
	if d, _ := cmd.Flags().GetDuration("lock-timeout"); d > 0 {
		opts.LockTimeout = d
	}
	opts.Verbose, _ = cmd.Flags().GetBool("verbose")
	return opts
}

// reportRunError explains the common failure modes before exiting.
func reportRunError(err error, result *runner.Result) {
	var mismatch *ledger.ChecksumMismatchError
	var held *lock.HeldError
	var dbErr *runner.DbError

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	switch {
	case errors.As(err, &mismatch):
		fmt.Fprintln(os.Stderr, "An executed changeset was edited. Revert the edit, or mark it runOnChange:true if re-running is intended.")
	case errors.As(err, &held):
		fmt.Fprintln(os.Stderr, "Another railbed run is in progress. Retry once it finishes, or set --lock-timeout to take over a stale lock.")
	case errors.As(err, &dbErr):
		if result != nil && len(result.Applied) > 0 {
			fmt.Fprintf(os.Stderr, "%d changeset(s) were applied before the failure and stay applied.\n", len(result.Applied))
		}
	}
	os.Exit(1)
}
