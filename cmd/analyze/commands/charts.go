package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-reads/analysis"
)

const defaultChartFile = "charts.pdf"

var (
	chartsOut  *string
	chartsFont *string
	chartsTop  *int
)

func init() {
	chartsOut = chartsCmd.Flags().StringP("out", "o", defaultChartFile, "PDF file to write.")
	chartsFont = chartsCmd.Flags().String("font", "", "UTF-8 TrueType font for CJK labels.")
	chartsTop = chartsCmd.Flags().Int("top", 15, "Categories in the main bar chart.")
	rootCmd.AddCommand(chartsCmd)
}

var chartsCmd = &cobra.Command{
	Use:   "charts [--out charts.pdf] [--font path/to/font.ttf]",
	Short: "Render category and metric charts into a PDF.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := loadRows()
		if err != nil {
			return err
		}
		return runCharts(rows, *chartsOut, *chartsFont, *chartsTop)
	},
}

func runCharts(rows []analysis.Row, out, font string, top int) error {
	if font == "" {
		slog.Debug("no label font given; non Latin-1 labels will print as ?")
	}
	if err := analysis.WriteCharts(out, rows, analysis.ChartOptions{FontPath: font, TopN: top}); err != nil {
		return err
	}
	slog.Info("charts saved", slog.String("path", out))
	return nil
}
