package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"pipewatch/app/internal/models"
	"pipewatch/app/internal/service"
	"pipewatch/app/internal/snapshots"

	"github.com/spf13/cobra"
)

// NewCommand returns the "snapshot" parent command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Record and inspect monitoring snapshots",
		Long: "Append monitoring snapshots, import a legacy history document and list\n" +
			"the stored history. The backend is chosen by $SNAPSHOT_BACKEND.",
		SilenceUsage: true,
	}

	cmd.AddCommand(AppendCommand())
	cmd.AddCommand(ImportCommand())
	cmd.AddCommand(ListCommand())

	return cmd
}

func AppendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append one snapshot read as JSON",
		Long: `Append one snapshot. The JSON document is read from --file or stdin; a
missing timestamp is set to now.

Examples:
  pipewatch snapshot append --file snapshot.json
  echo '{"uptime_status":"healthy","data_freshness_hours":1.5}' | pipewatch snapshot append`,
		RunE:         runAppend,
		SilenceUsage: true,
	}

	cmd.Flags().String("file", "", "Read the snapshot from this file instead of stdin")
	return cmd
}

func runAppend(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	in, closeIn, err := input(cmd, path)
	if err != nil {
		return err
	}
	defer closeIn()

	var s models.MonitoringSnapshot
	if err := json.NewDecoder(in).Decode(&s); err != nil {
		return fmt.Errorf("invalid snapshot JSON: %w", err)
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}

	svc, err := service.FromEnv()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Snapshots.Append(s); err != nil {
		return err
	}
	svc.Metrics.SnapshotAppended(s.UptimeStatus)
	fmt.Fprintf(cmd.OutOrStdout(), "Appended snapshot %s (%d total)\n", s.Timestamp.Format(time.RFC3339), svc.Snapshots.Count())
	return nil
}

func ImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <monitoring_metrics.json>",
		Short: "Import a legacy whole-document history",
		Long: `Append every record of a legacy JSON array history document in order.
Timestamps without a zone are read in local time. Invalid records are
skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			svc, err := service.FromEnv()
			if err != nil {
				return err
			}
			defer svc.Close()

			imported, skipped, err := snapshots.ImportLegacy(f, svc.Snapshots)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d snapshot(s), skipped %d.\n", imported, skipped)
			return nil
		},
		SilenceUsage: true,
	}
}

func ListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "list",
		Short:        "List the snapshots of a window",
		RunE:         runList,
		SilenceUsage: true,
	}

	cmd.Flags().Float64("hours", 24, "Window in hours")
	cmd.Flags().StringP("output", "o", "table", "Output format: table or json")
	return cmd
}

func runList(cmd *cobra.Command, args []string) error {
	hours, _ := cmd.Flags().GetFloat64("hours")
	if hours <= 0 {
		return fmt.Errorf("hours must be greater than 0")
	}
	output, _ := cmd.Flags().GetString("output")
	if output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q", output)
	}

	svc, err := service.FromEnv()
	if err != nil {
		return err
	}
	defer svc.Close()

	snaps := svc.Snapshots.Load(time.Now().Add(-time.Duration(hours * float64(time.Hour))))
	if output == "json" {
		if snaps == nil {
			snaps = []models.MonitoringSnapshot{}
		}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(snaps)
	}
	if len(snaps) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No snapshots found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSTATUS\tFRESHNESS\tANOMALY RATE\tPOINTS\tERRORS\tWARNINGS")
	fmt.Fprintln(w, "----\t------\t---------\t------------\t------\t------\t--------")
	for _, s := range snaps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			s.Timestamp.Local().Format("2006-01-02 15:04:05"),
			s.UptimeStatus,
			metric(s, models.MetricDataFreshness),
			metric(s, models.MetricAnomalyRate),
			metric(s, models.MetricTotalDataPoints),
			s.ErrorCount, s.WarningCount,
		)
	}
	w.Flush()
	return nil
}

func metric(s models.MonitoringSnapshot, name string) string {
	if v, ok := s.Metric(name); ok {
		return fmt.Sprintf("%g", v)
	}
	return "-"
}

func input(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
