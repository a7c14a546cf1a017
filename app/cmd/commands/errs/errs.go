package errs

import (
	"encoding/json"
	"fmt"
	"io"

	"pipewatch/app/internal/service"

	"github.com/spf13/cobra"
)

// NewCommand returns the "errors" parent command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Inspect and manage recorded failures",
		Long: "Summarize, list, resolve and export the classified error log.\n\n" +
			"Records live in $ERROR_LOG_PATH, indexed in the SQLite database at $DB_PATH.",
		SilenceUsage: true,
	}

	cmd.AddCommand(SummaryCommand())
	cmd.AddCommand(ListCommand())
	cmd.AddCommand(RecordCommand())
	cmd.AddCommand(ResolveCommand())
	cmd.AddCommand(RetryCommand())
	cmd.AddCommand(ExportCommand())
	cmd.AddCommand(RebuildCommand())

	return cmd
}

func writeJSON(out io.Writer, v any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func open() (*service.Service, error) {
	return service.FromEnv()
}

func checkOutput(output string) error {
	if output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q", output)
	}
	return nil
}
