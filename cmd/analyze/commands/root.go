package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-reads/analysis"
)

var (
	inputFile string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "analyze [--input books.csv]",
	Short: "analyze summarises a scraped books CSV and renders charts.",
	Long: "Without a subcommand analyze prints the report, writes it to " +
		"analysis_report.txt and renders charts.pdf.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := loadRows()
		if err != nil {
			return err
		}
		if err := runReport(cmd, rows, defaultReportFile); err != nil {
			return err
		}
		return runCharts(rows, defaultChartFile, "", 0)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&inputFile, "input", "i", "books.csv", "Books CSV written by the scraper.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging.")
}

func loadRows() ([]analysis.Row, error) {
	rows, err := analysis.LoadFile(inputFile)
	if err != nil {
		return nil, err
	}
	slog.Info("loaded books", slog.String("input", inputFile), slog.Int("rows", len(rows)))
	return rows, nil
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
