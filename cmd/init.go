package cmd

import (
	"fmt"
	"os"

	"github.com/railbed/railbed/internal/driver"
	"github.com/railbed/railbed/internal/wizard"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().Bool("no-input", false, "Skip the wizard and generate a sqlite project with defaults")
	initCmd.Flags().String("name", "local", "Target name when using --no-input")
	initCmd.Flags().String("database-url", "app.db", "Connection string when using --no-input")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new railbed project",
	Long:  `Initialize railbed.toml, a changelog directory, and a .env file in the current directory`,
	Run:   runInit,
}

func runInit(cmd *cobra.Command, args []string) {
	var result *wizard.InitResult
	var err error

	if noInput, _ := cmd.Flags().GetBool("no-input"); noInput {
		name, _ := cmd.Flags().GetString("name")
		url, _ := cmd.Flags().GetString("database-url")
		result, err = wizard.GenerateProject(nonInteractiveTarget(name, url))
	} else {
		result, err = wizard.Run()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Created %s", result.ConfigPath)
	if result.ConfigUpdated {
		fmt.Print(" (updated)")
	}
	fmt.Println()
	if result.ChangelogCreated {
		fmt.Printf("Created %s/001-example.sql\n", result.ChangelogDir)
	}
	fmt.Printf("Created %s\n", result.EnvFile)
	fmt.Println("\nNext: edit the changelog and run \"railbed update\".")
}

// nonInteractiveTarget reuses the runtime engine detection so init and
// update agree on the database type.
func nonInteractiveTarget(name, url string) wizard.TargetInput {
	target := wizard.TargetInput{
		Name:         name,
		DatabaseType: driver.Detect(url),
		ChangelogDir: "changelog",
	}
	if target.DatabaseType == "sqlite" {
		target.FilePath = url
	} else {
		target.URL = url
	}
	return target
}
