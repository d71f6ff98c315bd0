package root

import (
	"github.com/spf13/cobra"
)

// Exported RootCmd
var RootCmd = &cobra.Command{
	Use:           "equipctl",
	Short:         "Equipment manager CLI",
	Long:          "Command line interface for the equipment data-management API.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// JSONOutput is set by the persistent --json flag.
var JSONOutput bool

func init() {
	RootCmd.PersistentFlags().BoolVar(&JSONOutput, "json", false, "print raw JSON instead of tables")
}

// Optional helper to return the RootCmd
func GetRoot() *cobra.Command {
	return RootCmd
}
