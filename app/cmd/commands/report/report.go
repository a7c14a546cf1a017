package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"pipewatch/app/internal/models"
	"pipewatch/app/internal/service"

	"github.com/spf13/cobra"
)

// NewCommand returns the "report" command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the metrics report of a window",
		Long: `Print performance, trends and anomalies for the snapshots of the last
--hours hours.

Examples:
  pipewatch report
  pipewatch report --hours 168
  pipewatch report -o json`,
		RunE:         runReport,
		SilenceUsage: true,
	}

	cmd.Flags().Float64("hours", 0, "Window in hours (default DEFAULT_WINDOW_HOURS)")
	cmd.Flags().StringP("output", "o", "table", "Output format: table or json")

	return cmd
}

func runReport(cmd *cobra.Command, args []string) error {
	hours, _ := cmd.Flags().GetFloat64("hours")
	output, _ := cmd.Flags().GetString("output")
	if hours < 0 {
		return fmt.Errorf("hours must not be negative")
	}
	if output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q", output)
	}

	svc, err := service.FromEnv()
	if err != nil {
		return err
	}
	defer svc.Close()

	window := svc.Config.DefaultWindow
	if hours > 0 {
		window = time.Duration(hours * float64(time.Hour))
	}
	r := svc.Collector.Report(window)

	if output == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(r)
	}
	printReport(cmd.OutOrStdout(), r)
	return nil
}

func printReport(out io.Writer, r models.MetricsReport) {
	pm := r.Performance
	fmt.Fprintf(out, "Report for the last %gh (%s)\n\n", r.PeriodHours, r.ReportTimestamp.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Checks:       %d\n", pm.TotalRequests)
	fmt.Fprintf(out, "Uptime:       %.2f%%\n", pm.UptimePercentage)
	fmt.Fprintf(out, "Success rate: %.2f%%\n", pm.SuccessRate)
	fmt.Fprintf(out, "Errors:       %d\n", pm.ErrorCount)
	fmt.Fprintf(out, "Freshness ms: avg %.0f, min %.0f, max %.0f\n", pm.AvgResponseTimeMS, pm.MinResponseTimeMS, pm.MaxResponseTimeMS)

	if len(r.Trends) > 0 {
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "METRIC\tTREND\tCHANGE\tSIGNIFICANCE")
		fmt.Fprintln(w, "------\t-----\t------\t------------")
		for _, t := range r.Trends {
			fmt.Fprintf(w, "%s\t%s\t%.1f%%\t%s\n", t.MetricName, t.TrendDirection, t.ChangePercentage, t.Significance)
		}
		w.Flush()
	}

	if len(r.Anomalies) > 0 {
		fmt.Fprintln(out)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tMETRIC\tVALUE\tMEAN\tZ\tSEVERITY")
		fmt.Fprintln(w, "----\t------\t-----\t----\t-\t--------")
		for _, a := range r.Anomalies {
			fmt.Fprintf(w, "%s\t%s\t%g\t%.3f\t%.2f\t%s\n",
				a.Timestamp.Local().Format("2006-01-02 15:04:05"),
				a.MetricName, a.Value, a.Mean, a.ZScore, a.Severity)
		}
		w.Flush()
	}

	fmt.Fprintf(out, "\n%d trend(s), %d anomaly(ies), %d high severity\n",
		r.Summary.TotalTrends, r.Summary.TotalAnomalies, r.Summary.HighSeverityAnomalies)
}
