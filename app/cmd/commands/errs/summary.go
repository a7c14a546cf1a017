package errs

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"pipewatch/app/internal/models"

	"github.com/spf13/cobra"
)

func SummaryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize the failures of a window",
		Long: `Count the failures of the last --hours hours by severity, category and
component, and list the most frequent ones.

Examples:
  pipewatch errors summary
  pipewatch errors summary --hours 1 -o json`,
		RunE:         runSummary,
		SilenceUsage: true,
	}

	cmd.Flags().Float64("hours", 24, "Window in hours")
	cmd.Flags().StringP("output", "o", "table", "Output format: table or json")

	return cmd
}

func runSummary(cmd *cobra.Command, args []string) error {
	hours, _ := cmd.Flags().GetFloat64("hours")
	if hours <= 0 {
		return fmt.Errorf("hours must be greater than 0")
	}
	output, _ := cmd.Flags().GetString("output")
	if err := checkOutput(output); err != nil {
		return err
	}

	svc, err := open()
	if err != nil {
		return err
	}
	defer svc.Close()

	summary, err := svc.Errors.Summary(time.Duration(hours * float64(time.Hour)))
	if err != nil {
		return err
	}

	if output == "json" {
		return writeJSON(cmd.OutOrStdout(), summary)
	}
	printSummary(cmd.OutOrStdout(), hours, summary)
	return nil
}

func printSummary(out io.Writer, hours float64, s models.ErrorSummary) {
	fmt.Fprintf(out, "%d error(s) in the last %gh\n", s.TotalErrors, hours)
	if s.TotalErrors == 0 {
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, group := range []struct {
		name   string
		counts map[string]int
	}{
		{"SEVERITY", s.BySeverity},
		{"CATEGORY", s.ByCategory},
		{"COMPONENT", s.ByComponent},
	} {
		fmt.Fprintf(w, "\n%s\tCOUNT\n", group.name)
		for _, k := range sortedKeys(group.counts) {
			fmt.Fprintf(w, "%s\t%d\n", k, group.counts[k])
		}
	}
	fmt.Fprintln(w, "\nTOP ERRORS\tCOUNT")
	for _, t := range s.TopErrors {
		fmt.Fprintf(w, "%s\t%d\n", t.Error, t.Count)
	}
	w.Flush()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
