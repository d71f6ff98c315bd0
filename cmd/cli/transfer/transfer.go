package transfer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/crucial707/equipment-manager/cmd/cli/config"
	"github.com/crucial707/equipment-manager/cmd/cli/equipment"
	"github.com/crucial707/equipment-manager/cmd/cli/output"
	"github.com/crucial707/equipment-manager/cmd/cli/root"
	"github.com/crucial707/equipment-manager/internal/search"
	"github.com/spf13/cobra"
)

// InitTransfer registers import and export on the root command.
func InitTransfer(rootCmd *cobra.Command) {
	rootCmd.AddCommand(importCmd(), exportCmd())
}

func importCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import [file.xlsx|file.csv]",
		Short: "Import a spreadsheet; rows are matched to existing records by serial number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			client, err := config.Client()
			if err != nil {
				return err
			}
			res, err := client.Import(cmd.Context(), filepath.Base(args[0]), f, dryRun)
			if err != nil {
				return config.Explain(err)
			}

			w := cmd.OutOrStdout()
			if root.JSONOutput {
				return output.PrintJSON(w, res)
			}
			verb := "Imported"
			if res.DryRun {
				verb = "Dry run, nothing stored:"
			}
			fmt.Fprintf(w, "%s %d row(s): %d inserted, %d updated, %d unchanged\n",
				verb, res.Rows, res.Inserted, res.Updated, res.Unchanged)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and count without storing")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		format, out, q string
		where          []string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export matching equipment to xlsx or csv",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := search.Request{Query: q}
			for _, w := range where {
				c, err := equipment.ParseCriterion(w)
				if err != nil {
					return err
				}
				req.Criteria = append(req.Criteria, c)
			}

			client, err := config.Client()
			if err != nil {
				return err
			}

			target := out
			if target == "" {
				target = "equipment." + format
			}
			f, err := os.Create(target)
			if err != nil {
				return err
			}
			if _, err := client.Export(cmd.Context(), format, req, f); err != nil {
				f.Close()
				os.Remove(target)
				return config.Explain(err)
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", target)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "xlsx", "xlsx or csv")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default equipment.<format>)")
	cmd.Flags().StringVarP(&q, "query", "q", "", "quick search text")
	cmd.Flags().StringArrayVar(&where, "where", nil, "criterion field:op:value (repeatable)")
	return cmd
}
