package main

import (
	"fmt"

	"github.com/ashureev/dotcheck/internal/directory"
	"github.com/spf13/cobra"
)

var seedFile string

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "directory YAML file (required)")
	_ = seedCmd.MarkFlagRequired("file")
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load an organization directory from YAML",
	Long: `Upsert an organization, its departments and its employees from a
directory file. Re-running with the same file updates records in place.

Example:
  dotcheck seed --file acme.yaml`,
	RunE: runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	f, err := directory.LoadFile(seedFile)
	if err != nil {
		return err
	}

	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := f.Apply(cmd.Context(), a.repo)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s: %d departments, %d employees\n",
		f.Organization.ID, sum.Departments, sum.Employees)
	return nil
}
