package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DrewBradfordXYZ/quickbase-local/core"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a mapping snapshot against the schema",
		Long: `Validates a JSON or YAML mapping snapshot and prints a summary per app.

Examples:
  qbmappings validate quickbase-mappings.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := core.LoadMappingsFile(args[0])
			if err != nil {
				return err
			}

			cat := core.NewCatalog(m)
			out := cmd.OutOrStdout()
			for _, app := range cat.Apps() {
				tables := cat.Tables(app)
				fields := 0
				for _, table := range tables {
					fields += len(cat.Fields(app, table))
				}
				fmt.Fprintf(out, "%s: %d tables, %d fields\n", app, len(tables), fields)
			}
			fmt.Fprintf(out, "%s is valid\n", args[0])
			return nil
		},
	}
}
