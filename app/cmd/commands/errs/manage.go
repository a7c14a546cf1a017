package errs

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"pipewatch/app/internal/classify"
	"pipewatch/app/internal/errorlog"
	"pipewatch/app/internal/models"

	"github.com/spf13/cobra"
)

func RecordCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a failure",
		Long: `Record a failure observed outside pipewatch. It is classified and gets
an advisory recovery action like any other.

Examples:
  pipewatch errors record --component fred --operation fetch_series \
    --type ConnectionError --message "connection refused" --severity high`,
		RunE:         runRecord,
		SilenceUsage: true,
	}

	cmd.Flags().String("component", "", "Component that failed")
	cmd.Flags().String("operation", "", "Operation that failed")
	cmd.Flags().String("type", "", "Error type name (e.g. ConnectionError)")
	cmd.Flags().String("message", "", "Error message")
	cmd.Flags().String("severity", string(models.SeverityMedium), "low, medium, high or critical")
	cmd.Flags().StringToString("context", nil, "Extra context as key=value pairs")

	return cmd
}

func runRecord(cmd *cobra.Command, args []string) error {
	component, _ := cmd.Flags().GetString("component")
	operation, _ := cmd.Flags().GetString("operation")
	errType, _ := cmd.Flags().GetString("type")
	message, _ := cmd.Flags().GetString("message")
	severityRaw, _ := cmd.Flags().GetString("severity")
	kv, _ := cmd.Flags().GetStringToString("context")

	component, operation, message = strings.TrimSpace(component), strings.TrimSpace(operation), strings.TrimSpace(message)
	if component == "" || operation == "" || message == "" {
		return fmt.Errorf("--component, --operation and --message are required")
	}
	severity, err := models.ParseSeverity(severityRaw)
	if err != nil {
		return err
	}
	var ctx map[string]any
	if len(kv) > 0 {
		ctx = make(map[string]any, len(kv))
		for k, v := range kv {
			ctx[k] = v
		}
	}

	svc, err := open()
	if err != nil {
		return err
	}
	defer svc.Close()

	rec := svc.Errors.Handle(&classify.Reported{Type: errType, Message: message}, component, operation, severity, ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s (%s)\n", rec.ErrorID, rec.Category)
	if rec.RecoveryAction != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Recovery: %s\n", rec.RecoveryAction)
	}
	return nil
}

func ResolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <error-id>",
		Short: "Mark a failure as resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := open()
			if err != nil {
				return err
			}
			defer svc.Close()

			ok, err := svc.Errors.MarkResolved(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("error %q not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resolved %s\n", args[0])
			return nil
		},
		SilenceUsage: true,
	}
}

func RetryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <error-id>",
		Short: "Run recovery for a failure again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := open()
			if err != nil {
				return err
			}
			defer svc.Close()

			action, err := svc.Errors.Retry(args[0])
			if errors.Is(err, errorlog.ErrNotFound) {
				return fmt.Errorf("error %q not found", args[0])
			}
			if err != nil {
				return err
			}
			if action == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No recovery strategy applies.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recovery: %s\n", action)
			return nil
		},
		SilenceUsage: true,
	}
}

func ExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every record as one JSON document",
		Long: `Write every record as one JSON array document.

Examples:
  pipewatch errors export > error_log.json
  pipewatch errors export --file error_log.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")

			svc, err := open()
			if err != nil {
				return err
			}
			defer svc.Close()

			if path == "" {
				return svc.ErrorLog.Export(cmd.OutOrStdout())
			}
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", path, err)
			}
			if err := svc.ErrorLog.Export(f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", path)
			return nil
		},
		SilenceUsage: true,
	}

	cmd.Flags().String("file", "", "Write to this file instead of stdout")
	return cmd
}

func RebuildCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-index",
		Short: "Recreate the error index from the record log",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := open()
			if err != nil {
				return err
			}
			defer svc.Close()

			n, err := svc.ErrorLog.Rebuild()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d record(s).\n", n)
			return nil
		},
		SilenceUsage: true,
	}
}
