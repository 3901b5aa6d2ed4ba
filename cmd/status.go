package cmd

import (
	"context"
	"log"
	"os"

	"github.com/railbed/railbed/internal/runner"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().String("contexts", "", "Report filtering as if running with these contexts")
	statusCmd.Flags().String("labels", "", "Report filtering as if running with these labels")
	statusCmd.Flags().String("format", "text", "Report format: text or json")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which changesets are applied, pending, or drifted",
	Long: `Show which changesets are applied, pending, filtered out, or drifted
without modifying the target database.`,
	Run: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) {
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

	run := runner.New(db, dialect, target.Name)
	rep, err := run.Status(context.Background(), changeSets, runnerOptions(cmd, target))
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	switch format, _ := cmd.Flags().GetString("format"); format {
	case "json":
		err = rep.WriteJSON(os.Stdout)
	case "text", "":
		err = rep.WriteText(os.Stdout)
	default:
		log.Fatalf("Error: unknown format %q (want text or json)", format)
	}
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}
