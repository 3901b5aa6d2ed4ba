package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/railbed/railbed/internal/driver"
	"github.com/railbed/railbed/internal/sqlcheck"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().String("dialect", "", "SQL dialect to check against (postgres or sqlite; default from target URL)")
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse the changelog and check its SQL without a database",
	Long: `Parse the changelog and check its SQL without connecting to a database.
Parse errors, duplicate changesets, and SQL syntax problems are reported
with file and line information.`,
	Run: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) {
	target, err := resolveTarget(cmd)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	changeSets, err := loadChangeLog(target.Changelog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Changelog is invalid:\n%v\n", err)
		os.Exit(1)
	}

	dialect, _ := cmd.Flags().GetString("dialect")
	if dialect == "" && target.URL != "" {
		dialect = driver.Detect(target.URL)
	}
	if dialect == "" {
		dialect = "sqlite"
	}

	issues := sqlcheck.ValidateChangeSets(changeSets, dialect)
	for _, issue := range issues {
		fmt.Println(issue)
	}

	rollbacks := 0
	for _, cs := range changeSets {
		if cs.HasRollback() {
			rollbacks++
		}
	}
	fmt.Printf("%d changeset(s), %d with rollback, %d issue(s)\n", len(changeSets), rollbacks, len(issues))
	if sqlcheck.HasErrors(issues) {
		os.Exit(1)
	}
}
