package errs

import (
	"fmt"
	"text/tabwriter"
	"time"

	"pipewatch/app/internal/errorlog"
	"pipewatch/app/internal/models"

	"github.com/spf13/cobra"
)

func ListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded failures",
		Long: `List recorded failures, oldest first.

Examples:
  pipewatch errors list
  pipewatch errors list --severity high --unresolved
  pipewatch errors list --component fred --hours 6 -o json`,
		RunE:         runList,
		SilenceUsage: true,
	}

	cmd.Flags().Int("limit", 50, "Number of records to display")
	cmd.Flags().Float64("hours", 0, "Only records from the last N hours (0 for all)")
	cmd.Flags().String("severity", "", "Filter by severity")
	cmd.Flags().String("category", "", "Filter by category")
	cmd.Flags().String("component", "", "Filter by component")
	cmd.Flags().Bool("unresolved", false, "Only unresolved records")
	cmd.Flags().StringP("output", "o", "table", "Output format: table or json")

	return cmd
}

func runList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		return fmt.Errorf("limit must be greater than 0")
	}
	hours, _ := cmd.Flags().GetFloat64("hours")
	severity, _ := cmd.Flags().GetString("severity")
	category, _ := cmd.Flags().GetString("category")
	component, _ := cmd.Flags().GetString("component")
	unresolved, _ := cmd.Flags().GetBool("unresolved")
	output, _ := cmd.Flags().GetString("output")
	if err := checkOutput(output); err != nil {
		return err
	}

	f := errorlog.Filter{Component: component, Limit: limit}
	if severity != "" {
		s, err := models.ParseSeverity(severity)
		if err != nil {
			return err
		}
		f.Severity = s
	}
	if category != "" {
		c := models.Category(category)
		if !c.Valid() {
			return fmt.Errorf("unknown category %q", category)
		}
		f.Category = c
	}
	if unresolved {
		no := false
		f.Resolved = &no
	}

	svc, err := open()
	if err != nil {
		return err
	}
	defer svc.Close()

	if hours > 0 {
		f.Since = svc.Errors.Now().Add(-time.Duration(hours * float64(time.Hour)))
	}
	recs, err := svc.Errors.List(f)
	if err != nil {
		return err
	}

	if output == "json" {
		return writeJSON(cmd.OutOrStdout(), recs)
	}
	if len(recs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No errors found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tSEVERITY\tCATEGORY\tWHERE\tMESSAGE\tRESOLVED")
	fmt.Fprintln(w, "--\t----\t--------\t--------\t-----\t-------\t--------")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s.%s\t%s\t%t\n",
			r.ErrorID,
			r.Timestamp.Local().Format("2006-01-02 15:04:05"),
			r.Severity,
			r.Category,
			r.Component, r.Operation,
			shorten(r.ErrorMessage, 60),
			r.Resolved,
		)
	}
	w.Flush()
	return nil
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
