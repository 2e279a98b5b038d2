// Command qbmappings builds and checks the field mapping snapshot used by the
// local API.
//
// Usage:
//
//	qbmappings generate --realm <realm> --app-id <appId> --app-name <name> [-o file]
//	qbmappings generate --config quickbase.yaml [-o file]
//	qbmappings validate <file>
//
// The realm and user token default to QUICKBASE_REALM and
// QUICKBASE_USER_TOKEN; a .env file in the working directory is loaded first.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/DrewBradfordXYZ/quickbase-local/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "qbmappings",
		Short: "Generate and validate QuickBase field mapping snapshots",
		Long: `qbmappings reads the tables and fields of QuickBase apps and writes the
name -> id snapshot the local API resolves names against.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(".env")
		},
	}
	root.AddCommand(newGenerateCmd(), newValidateCmd())
	return root
}
