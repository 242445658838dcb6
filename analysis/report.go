package analysis

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const (
	topExpensiveCount = 10
	reportCategories  = 20
)

// CategoryCount is the number of books tagged with one category.
type CategoryCount struct {
	Name  string
	Count int
}

// Report aggregates the statistics printed by WriteReport.
type Report struct {
	Total         int
	WithPrice     int
	WithWordCount int

	OriginalPrice Summary
	CurrentPrice  Summary
	WordCount     Summary

	Discounted    int
	AvgDiscount   float64
	AvgSaving     float64
	HighPriceBook int // original price above Q3
	LowPriceBook  int // original price below Q1

	MinRank int
	MaxRank int
	Top100  int
	Top500  int

	Categories   []CategoryCount
	TopExpensive []Row
}

// TopCategoryShare is the share of category mentions held by the n most
// frequent categories.
func (r Report) TopCategoryShare(n int) float64 {
	var total, top int
	for i, c := range r.Categories {
		total += c.Count
		if i < n {
			top += c.Count
		}
	}
	if total == 0 {
		return 0
	}
	return float64(top) / float64(total)
}

// CategoryCounts tallies categories across rows, most frequent first and
// ties by name.
func CategoryCounts(rows []Row) []CategoryCount {
	counts := make(map[string]int)
	for _, row := range rows {
		for _, c := range row.Categories {
			counts[c]++
		}
	}
	out := make([]CategoryCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, CategoryCount{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Analyze computes the report over rows. Price and word count statistics
// only consider positive values.
func Analyze(rows []Row) Report {
	rep := Report{Total: len(rows)}

	var original, current, words []float64
	var discountSum, savingSum float64
	for i, row := range rows {
		if row.OriginalPrice > 0 {
			original = append(original, row.OriginalPrice)
		}
		if row.CurrentPrice > 0 {
			current = append(current, row.CurrentPrice)
		}
		if row.WordCount > 0 {
			words = append(words, row.WordCount)
		}
		if row.OriginalPrice > 0 && row.CurrentPrice > 0 {
			rep.Discounted++
			discountSum += row.DiscountRatio()
			savingSum += row.Saving()
		}

		if i == 0 || row.Rank < rep.MinRank {
			rep.MinRank = row.Rank
		}
		if i == 0 || row.Rank > rep.MaxRank {
			rep.MaxRank = row.Rank
		}
		if row.Rank <= 100 {
			rep.Top100++
		}
		if row.Rank <= 500 {
			rep.Top500++
		}
	}

	rep.WithPrice = len(original)
	rep.WithWordCount = len(words)
	rep.OriginalPrice = Describe(original)
	rep.CurrentPrice = Describe(current)
	rep.WordCount = Describe(words)
	if rep.Discounted > 0 {
		rep.AvgDiscount = discountSum / float64(rep.Discounted)
		rep.AvgSaving = savingSum / float64(rep.Discounted)
	}

	if rep.WithPrice > 0 {
		for _, row := range rows {
			if row.OriginalPrice > rep.OriginalPrice.Q3 {
				rep.HighPriceBook++
			}
			if row.OriginalPrice < rep.OriginalPrice.Q1 {
				rep.LowPriceBook++
			}
		}
	}

	rep.Categories = CategoryCounts(rows)
	rep.TopExpensive = topExpensive(rows, topExpensiveCount)
	return rep
}

func topExpensive(rows []Row, n int) []Row {
	var priced []Row
	for _, row := range rows {
		if row.OriginalPrice > 0 {
			priced = append(priced, row)
		}
	}
	sort.SliceStable(priced, func(i, j int) bool {
		return priced[i].OriginalPrice > priced[j].OriginalPrice
	})
	if len(priced) > n {
		priced = priced[:n]
	}
	return priced
}

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle(title)
	t.Style().Title.Align = text.AlignLeft
	return t
}

func money(v float64) string {
	return fmt.Sprintf("¥%.2f", v)
}

// WriteReport renders rep as a set of tables.
func WriteReport(w io.Writer, rep Report) error {
	var tables []table.Writer

	overview := newTable("Overview")
	overview.AppendRows([]table.Row{
		{"Books", rep.Total},
		{"With price", rep.WithPrice},
		{"With word count", rep.WithWordCount},
		{"Categories", len(rep.Categories)},
	})
	tables = append(tables, overview)

	prices := newTable("Prices")
	prices.AppendHeader(table.Row{"", "Original", "Current"})
	prices.AppendRows([]table.Row{
		{"Mean", money(rep.OriginalPrice.Mean), money(rep.CurrentPrice.Mean)},
		{"Median", money(rep.OriginalPrice.Median), money(rep.CurrentPrice.Median)},
		{"Min", money(rep.OriginalPrice.Min), money(rep.CurrentPrice.Min)},
		{"Max", money(rep.OriginalPrice.Max), money(rep.CurrentPrice.Max)},
		{"Std", money(rep.OriginalPrice.Std), money(rep.CurrentPrice.Std)},
	})
	prices.AppendFooter(table.Row{"Above Q3 / below Q1", rep.HighPriceBook, rep.LowPriceBook})
	tables = append(tables, prices)

	if rep.Discounted > 0 {
		discount := newTable("Discounts")
		discount.AppendRows([]table.Row{
			{"Books with both prices", rep.Discounted},
			{"Average ratio", fmt.Sprintf("%.2f (%.1f%%)", rep.AvgDiscount, rep.AvgDiscount*100)},
			{"Average saving", money(rep.AvgSaving)},
		})
		tables = append(tables, discount)
	}

	if rep.WithWordCount > 0 {
		words := newTable("Word count")
		words.AppendRows([]table.Row{
			{"Mean", fmt.Sprintf("%.0f", rep.WordCount.Mean)},
			{"Median", fmt.Sprintf("%.0f", rep.WordCount.Median)},
			{"Min", fmt.Sprintf("%.0f", rep.WordCount.Min)},
			{"Max", fmt.Sprintf("%.0f", rep.WordCount.Max)},
		})
		tables = append(tables, words)
	}

	ranks := newTable("Popularity rank")
	ranks.AppendRows([]table.Row{
		{"Range", fmt.Sprintf("%d - %d", rep.MinRank, rep.MaxRank)},
		{"Top 100", rep.Top100},
		{"Top 500", rep.Top500},
	})
	tables = append(tables, ranks)

	if len(rep.Categories) > 0 {
		categories := newTable(fmt.Sprintf("Categories (top %d)", reportCategories))
		categories.AppendHeader(table.Row{"#", "Category", "Books"})
		for i, c := range rep.Categories {
			if i == reportCategories {
				break
			}
			categories.AppendRow(table.Row{i + 1, c.Name, c.Count})
		}
		categories.AppendFooter(table.Row{"", "Top 5 share", fmt.Sprintf("%.1f%%", rep.TopCategoryShare(5)*100)})
		tables = append(tables, categories)
	}

	for _, t := range tables {
		if _, err := fmt.Fprintf(w, "%s\n\n", t.Render()); err != nil {
			return err
		}
	}
	return nil
}

// WriteReportFile writes a dated report for source to path.
func WriteReportFile(path, source string, generated time.Time, rep Report) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	header := []string{
		"Book listing analysis",
		strings.Repeat("=", 60),
		"Generated: " + generated.Format("2006-01-02 15:04:05"),
		"Source:    " + source,
		"",
	}
	if _, err := io.WriteString(f, strings.Join(header, "\n")+"\n"); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := WriteReport(f, rep); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}
