package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/crucial707/equipment-manager/cmd/cli/auth"
	"github.com/crucial707/equipment-manager/cmd/cli/equipment"
	"github.com/crucial707/equipment-manager/cmd/cli/output"
	"github.com/crucial707/equipment-manager/cmd/cli/root"
	"github.com/crucial707/equipment-manager/cmd/cli/transfer"
	"github.com/crucial707/equipment-manager/internal/apiclient"
)

func main() {
	rootCmd := root.GetRoot()
	auth.InitAuth(rootCmd)
	equipment.InitEquipment(rootCmd)
	transfer.InitTransfer(rootCmd)

	// Execute the root Cobra command
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var apiErr *apiclient.Error
		if errors.As(err, &apiErr) && len(apiErr.Violations) > 0 {
			output.RenderViolations(os.Stderr, apiErr.Violations)
		}
		os.Exit(1)
	}
}
