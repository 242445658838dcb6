package commands

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-reads/analysis"
)

const defaultReportFile = "analysis_report.txt"

var reportOut *string

func init() {
	reportOut = reportCmd.Flags().StringP("out", "o", defaultReportFile, "Text report file; empty to skip.")
	rootCmd.AddCommand(reportCmd)
}

var reportCmd = &cobra.Command{
	Use:   "report [--out analysis_report.txt]",
	Short: "Print price, word count, rank and category statistics.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := loadRows()
		if err != nil {
			return err
		}
		return runReport(cmd, rows, *reportOut)
	},
}

func runReport(cmd *cobra.Command, rows []analysis.Row, out string) error {
	rep := analysis.Analyze(rows)
	if err := analysis.WriteReport(cmd.OutOrStdout(), rep); err != nil {
		return err
	}
	if out == "" {
		return nil
	}
	if err := analysis.WriteReportFile(out, inputFile, time.Now(), rep); err != nil {
		return err
	}
	slog.Info("report saved", slog.String("path", out))
	return nil
}
