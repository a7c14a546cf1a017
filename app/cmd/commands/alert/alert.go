package alert

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"pipewatch/app/internal/alerts"
	"pipewatch/app/internal/service"

	"github.com/spf13/cobra"
)

// NewCommand returns the "alerts" parent command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Evaluate alert rules and inspect alert history",
		Long: "Evaluate the alert rules against the newest snapshot, list fired alerts\n" +
			"and resolve them. Rules come from $ALERT_RULES_FILE or the built-in set.",
		SilenceUsage: true,
	}

	cmd.AddCommand(CheckCommand())
	cmd.AddCommand(HistoryCommand())
	cmd.AddCommand(ResolveCommand())
	cmd.AddCommand(RulesCommand())

	return cmd
}

func CheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate the rules once",
		Long: `Evaluate the rules against the newest snapshot of the window and the
error summary of the same window. Rules in cooldown do not fire.

Examples:
  pipewatch alerts check
  pipewatch alerts check --hours 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			hours, _ := cmd.Flags().GetFloat64("hours")

			svc, err := service.FromEnv()
			if err != nil {
				return err
			}
			defer svc.Close()

			window := svc.Config.DefaultWindow
			if hours > 0 {
				window = time.Duration(hours * float64(time.Hour))
			}
			snap, fired, err := svc.CheckAlerts(cmd.Context(), window)
			if errors.Is(err, service.ErrNoSnapshot) {
				return fmt.Errorf("no snapshot in the last %v", window)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Checked snapshot %s: %d alert(s) fired\n", snap.Timestamp.Local().Format("2006-01-02 15:04:05"), len(fired))
			printAlerts(cmd.OutOrStdout(), fired)
			return nil
		},
		SilenceUsage: true,
	}

	cmd.Flags().Float64("hours", 0, "Window in hours (default DEFAULT_WINDOW_HOURS)")
	return cmd
}

func HistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the alerts of a window",
		RunE: func(cmd *cobra.Command, args []string) error {
			hours, _ := cmd.Flags().GetFloat64("hours")
			if hours <= 0 {
				return fmt.Errorf("hours must be greater than 0")
			}
			output, _ := cmd.Flags().GetString("output")

			svc, err := service.FromEnv()
			if err != nil {
				return err
			}
			defer svc.Close()

			hist, err := svc.Alerts.History(time.Duration(hours * float64(time.Hour)))
			if err != nil {
				return err
			}
			switch output {
			case "json":
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(hist)
			case "table":
				if len(hist) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No alerts found.")
					return nil
				}
				printAlerts(cmd.OutOrStdout(), hist)
				return nil
			default:
				return fmt.Errorf("unsupported output format %q", output)
			}
		},
		SilenceUsage: true,
	}

	cmd.Flags().Float64("hours", 24, "Window in hours")
	cmd.Flags().StringP("output", "o", "table", "Output format: table or json")
	return cmd
}

func ResolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <rule>",
		Short: "Resolve the newest open alert of a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := service.FromEnv()
			if err != nil {
				return err
			}
			defer svc.Close()

			ok, err := svc.Alerts.Resolve(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no open alert for rule %q", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resolved %s\n", args[0])
			return nil
		},
		SilenceUsage: true,
	}
}

func RulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the configured rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := service.FromEnv()
			if err != nil {
				return err
			}
			defer svc.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCONDITION\tTHRESHOLD\tSEVERITY\tCOOLDOWN\tCONSECUTIVE\tENABLED")
			fmt.Fprintln(w, "----\t---------\t---------\t--------\t--------\t-----------\t-------")
			for _, r := range svc.Alerts.Rules() {
				fmt.Fprintf(w, "%s\t%s\t%g\t%s\t%dm\t%d\t%t\n",
					r.Name, r.Condition, r.Threshold, r.Severity, r.CooldownMinutes, r.Consecutive, r.Enabled)
			}
			w.Flush()
			return nil
		},
		SilenceUsage: true,
	}
}

func printAlerts(out io.Writer, list []alerts.Alert) {
	if len(list) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tRULE\tSEVERITY\tMESSAGE\tRESOLVED")
	fmt.Fprintln(w, "----\t----\t--------\t-------\t--------")
	for _, a := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n",
			a.Timestamp.Local().Format("2006-01-02 15:04:05"), a.RuleName, a.Severity, a.Message, a.Resolved)
	}
	w.Flush()
}
