package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Freeeeeet/visitor_gate/internal/app"
	"github.com/Freeeeeet/visitor_gate/internal/service"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run all expiry jobs once and print a report",
		Long:  "Expires lapsed visits, sends expiring-soon reminders and times out abandoned approval sessions. Intended for cron.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "text" && format != "json" {
				return fmt.Errorf("unknown format %q (text|json)", format)
			}
			return runSweep(cmd.Context(), os.Stdout, format)
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format (text|json)")
	return cmd
}

func runSweep(ctx context.Context, out io.Writer, format string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer container.Close()

	report := container.Sweep.RunAllCleanups(ctx)
	if err := printReport(out, report, format); err != nil {
		return err
	}

	if report.Failed() {
		return fmt.Errorf("sweep finished with errors")
	}
	return nil
}

func printReport(out io.Writer, report *service.SweepReport, format string) error {
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	rows := []struct {
		name   string
		result service.JobResult
	}{
		{"expired visits", report.ExpiredVisits},
		{"expiring soon", report.ExpiringSoon},
		{"timed out sessions", report.TimedOutSession},
	}

	for _, row := range rows {
		if row.result.Error != "" {
			fmt.Fprintf(out, "%-20s error: %s\n", row.name, row.result.Error)
			continue
		}
		fmt.Fprintf(out, "%-20s %d\n", row.name, row.result.Processed)
	}
	return nil
}
