package equipment

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/crucial707/equipment-manager/cmd/cli/config"
	"github.com/crucial707/equipment-manager/cmd/cli/output"
	"github.com/crucial707/equipment-manager/cmd/cli/root"
	"github.com/crucial707/equipment-manager/internal/apiclient"
	"github.com/crucial707/equipment-manager/internal/models"
	"github.com/crucial707/equipment-manager/internal/search"
	"github.com/spf13/cobra"
)

var listHeaders = []string{"ID", "Serial", "Type", "Manufacturer", "Model", "Location", "Status", "Customer"}

// ==========================
// Init Equipment
// ==========================
func InitEquipment(rootCmd *cobra.Command) {
	equipmentCmd := &cobra.Command{
		Use:     "equipment",
		Aliases: []string{"eq"},
		Short:   "Manage equipment records",
	}

	equipmentCmd.AddCommand(
		listCmd(),
		getCmd(),
		createCmd(),
		updateCmd(),
		deleteCmd(),
		historyCmd(),
	)

	rootCmd.AddCommand(equipmentCmd, searchCmd(), auditCmd(), statsCmd())
}

// ==========================
// LIST
// ==========================
func listCmd() *cobra.Command {
	var (
		q, sort       string
		desc          bool
		limit, offset int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active equipment, optionally filtered by a quick search",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := config.Client()
			if err != nil {
				return err
			}
			params := url.Values{}
			if q != "" {
				params.Set("q", q)
			}
			if sort != "" {
				params.Set("sort", sort)
			}
			if desc {
				params.Set("desc", "true")
			}
			params.Set("limit", strconv.Itoa(limit))
			params.Set("offset", strconv.Itoa(offset))

			page, err := client.List(cmd.Context(), params)
			if err != nil {
				return config.Explain(err)
			}
			return printPage(cmd.OutOrStdout(), page)
		},
	}
	cmd.Flags().StringVarP(&q, "query", "q", "", "quick search text")
	cmd.Flags().StringVar(&sort, "sort", "", "field to sort by (default serial_number)")
	cmd.Flags().BoolVar(&desc, "desc", false, "sort descending")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

// ==========================
// SEARCH
// ==========================
func searchCmd() *cobra.Command {
	var (
		where     []string
		match     string
		fuzzy     string
		threshold float64
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Structured or fuzzy search",
		Long: `Search equipment with field criteria and/or fuzzy text.

Criteria are field:op:value, e.g. --where customer_name:eq:Acme --where year_manufactured:lt:2010.
Operators: eq, ne, contains, prefix, gt, gte, lt, lte, empty.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := search.Request{Match: match, Limit: limit}
			for _, w := range where {
				c, err := ParseCriterion(w)
				if err != nil {
					return err
				}
				req.Criteria = append(req.Criteria, c)
			}
			if fuzzy != "" {
				req.Fuzzy = &search.Fuzzy{Text: fuzzy}
				if cmd.Flags().Changed("threshold") {
					req.Fuzzy.Threshold = &threshold
				}
			}

			client, err := config.Client()
			if err != nil {
				return err
			}
			page, err := client.Search(cmd.Context(), req)
			if err != nil {
				return config.Explain(err)
			}
			return printPage(cmd.OutOrStdout(), page)
		},
	}
	cmd.Flags().StringArrayVar(&where, "where", nil, "criterion field:op:value (repeatable)")
	cmd.Flags().StringVar(&match, "match", search.MatchAll, "combine criteria with all or any")
	cmd.Flags().StringVar(&fuzzy, "fuzzy", "", "approximate text to match")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "minimum fuzzy similarity 0..1 (server default when unset)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

// ParseCriterion reads field:op:value. The value may itself contain colons;
// "field:empty" needs no value.
func ParseCriterion(s string) (search.Criterion, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return search.Criterion{}, fmt.Errorf("invalid criterion %q, want field:op:value", s)
	}
	c := search.Criterion{Field: parts[0], Op: parts[1]}
	if len(parts) == 3 {
		c.Value = parts[2]
	} else if c.Op != search.OpEmpty {
		return search.Criterion{}, fmt.Errorf("criterion %q has no value", s)
	}
	return c, nil
}

// ==========================
// GET / HISTORY
// ==========================
func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [id]",
		Short: "Show one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := config.Client()
			if err != nil {
				return err
			}
			e, err := client.Get(cmd.Context(), id)
			if err != nil {
				return config.Explain(err)
			}
			return printRecord(cmd.OutOrStdout(), e)
		},
	}
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history [id]",
		Short: "Show the audit trail of one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := config.Client()
			if err != nil {
				return err
			}
			entries, err := client.History(cmd.Context(), id)
			if err != nil {
				return config.Explain(err)
			}
			return printAudit(cmd.OutOrStdout(), entries)
		},
	}
}

// ==========================
// CREATE / UPDATE
// ==========================
func createCmd() *cobra.Command {
	var set []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a record from --set field=value pairs",
		Example: "  equipctl equipment create --set serial_number=SN-100 --set equipment_type=Pump " +
			"--set manufacturer=Grundfos --set year_manufactured=2019",
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := ParseAssignments(set)
			if err != nil {
				return err
			}
			client, err := config.Client()
			if err != nil {
				return err
			}
			e, err := client.Create(cmd.Context(), fields)
			if err != nil {
				return config.Explain(err)
			}
			if root.JSONOutput {
				return output.PrintJSON(cmd.OutOrStdout(), e)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created equipment %d (%s)\n", e.ID, e.SerialNumber)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&set, "set", nil, "field=value (repeatable)")
	return cmd
}

func updateCmd() *cobra.Command {
	var set []string
	cmd := &cobra.Command{
		Use:   "update [id]",
		Short: "Change fields of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			fields, err := ParseAssignments(set)
			if err != nil {
				return err
			}
			if len(fields) == 0 {
				return fmt.Errorf("nothing to update, pass --set field=value")
			}
			client, err := config.Client()
			if err != nil {
				return err
			}
			e, entries, err := client.Update(cmd.Context(), id, fields)
			if err != nil {
				return config.Explain(err)
			}
			if root.JSONOutput {
				return output.PrintJSON(cmd.OutOrStdout(), map[string]interface{}{"equipment": e, "audit": entries})
			}
			if len(entries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No changes to equipment %d\n", id)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated equipment %d (%d field(s))\n", id, len(entries))
			return printAudit(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().StringArrayVar(&set, "set", nil, "field=value (repeatable); an empty value clears the field")
	return cmd
}

// ParseAssignments turns field=value pairs into a field map.
func ParseAssignments(pairs []string) (map[string]string, error) {
	fields := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q, want field=value", p)
		}
		if !models.IsEditableField(k) {
			return nil, fmt.Errorf("unknown field %q", k)
		}
		fields[k] = v
	}
	return fields, nil
}

// ==========================
// DELETE
// ==========================
func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a record (kept in the audit log)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := config.Client()
			if err != nil {
				return err
			}
			if err := client.Delete(cmd.Context(), id); err != nil {
				return config.Explain(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Equipment %d deleted\n", id)
			return nil
		},
	}
}

// ==========================
// AUDIT / STATS
// ==========================
func auditCmd() *cobra.Command {
	var (
		actor, field, since string
		equipmentID         int64
		limit               int
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			params := url.Values{"limit": {strconv.Itoa(limit)}}
			if actor != "" {
				params.Set("actor", actor)
			}
			if field != "" {
				params.Set("field", field)
			}
			if since != "" {
				params.Set("since", since)
			}
			if equipmentID > 0 {
				params.Set("equipment_id", strconv.FormatInt(equipmentID, 10))
			}
			client, err := config.Client()
			if err != nil {
				return err
			}
			entries, err := client.Audit(cmd.Context(), params)
			if err != nil {
				return config.Explain(err)
			}
			return printAudit(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "only changes by this user")
	cmd.Flags().StringVar(&field, "field", "", "only changes to this field")
	cmd.Flags().StringVar(&since, "since", "", "only changes since YYYY-MM-DD or RFC 3339 time")
	cmd.Flags().Int64Var(&equipmentID, "equipment", 0, "only changes to this equipment id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Counts by type, customer, manufacturer and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := config.Client()
			if err != nil {
				return err
			}
			stats, err := client.Stats(cmd.Context())
			if err != nil {
				return config.Explain(err)
			}
			w := cmd.OutOrStdout()
			if root.JSONOutput {
				return output.PrintJSON(w, stats)
			}
			fmt.Fprintf(w, "Active equipment: %d\n", stats.Total)
			for _, section := range []struct {
				title   string
				entries []models.CountEntry
			}{
				{"Type", stats.ByType},
				{"Customer", stats.ByCustomer},
				{"Manufacturer", stats.ByManufacturer},
				{"Status", stats.ByStatus},
			} {
				rows := make([][]interface{}, len(section.entries))
				for i, e := range section.entries {
					rows[i] = []interface{}{e.Key, e.Count}
				}
				output.RenderTable(w, []string{section.title, "Count"}, rows)
			}
			return nil
		},
	}
}

// ==========================
// Output helpers
// ==========================
func printPage(w io.Writer, page apiclient.Page) error {
	if root.JSONOutput {
		return output.PrintJSON(w, page)
	}
	rows := make([][]interface{}, len(page.Items))
	for i, e := range page.Items {
		rows[i] = []interface{}{
			e.ID, e.SerialNumber, e.EquipmentType, e.Manufacturer, e.Model,
			output.Truncate(e.Location, 30), e.Status, output.Truncate(e.CustomerName, 30),
		}
	}
	output.RenderTable(w, listHeaders, rows)
	fmt.Fprintf(w, "%d of %d record(s)\n", len(page.Items), page.Total)
	if s := page.Summary; s != nil {
		fmt.Fprintf(w, "customers: %d  equipment types: %d  manufacturers: %d  projects: %d\n",
			s.Customers, s.EquipmentTypes, s.Manufacturers, s.Projects)
	}
	return nil
}

func printRecord(w io.Writer, e models.Equipment) error {
	if root.JSONOutput {
		return output.PrintJSON(w, e)
	}
	names := append([]string{"id"}, models.EditableFields...)
	output.RenderFields(w, names, func(name string) string {
		if name == "id" {
			return strconv.FormatInt(e.ID, 10)
		}
		return e.FieldValue(name)
	})
	return nil
}

func printAudit(w io.Writer, entries []models.AuditEntry) error {
	if root.JSONOutput {
		return output.PrintJSON(w, entries)
	}
	rows := make([][]interface{}, len(entries))
	for i, a := range entries {
		rows[i] = []interface{}{
			a.CreatedAt.Local().Format("2006-01-02 15:04"), a.Actor, a.EquipmentID, a.Action, a.Field,
			output.Truncate(a.OldValue, 25), output.Truncate(a.NewValue, 25),
		}
	}
	output.RenderTable(w, []string{"When", "Actor", "Equipment", "Action", "Field", "Old", "New"}, rows)
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
