package analysis

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

const (
	defaultTopN = 15

	pageW   = 297.0
	pageH   = 210.0
	margin  = 10.0
	gutter  = 6.0
	titleH  = 12.0
	fontPt  = 7.0
	labelsH = 18.0
)

// ChartOptions tunes WriteCharts.
type ChartOptions struct {
	// FontPath is a UTF-8 TrueType font used for labels. Without it the
	// built-in Helvetica is used and characters outside Latin-1 print as "?".
	FontPath string
	// TopN is the number of categories in the main bar chart.
	TopN int
}

type rgb struct{ r, g, b int }

var (
	skyBlue    = rgb{135, 206, 235}
	lightGreen = rgb{144, 238, 144}
	lightCoral = rgb{240, 128, 128}
	orange     = rgb{255, 165, 0}
	gold       = rgb{255, 215, 0}
	purple     = rgb{128, 0, 128}
	red        = rgb{220, 20, 60}
)

type panel struct{ x, y, w, h float64 }

type chartWriter struct {
	pdf    *gofpdf.Fpdf
	family string
	tr     func(string) string
}

// WriteCharts renders category and metric charts for rows into a PDF.
func WriteCharts(path string, rows []Row, opts ChartOptions) error {
	if opts.TopN <= 0 {
		opts.TopN = defaultTopN
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create chart dir: %w", err)
		}
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(false, margin)

	c := &chartWriter{pdf: pdf, family: "Helvetica"}
	if opts.FontPath != "" {
		if _, err := os.Stat(opts.FontPath); err != nil {
			return fmt.Errorf("load font: %w", err)
		}
		pdf.AddUTF8Font("label", "", opts.FontPath)
		if err := pdf.Error(); err != nil {
			return fmt.Errorf("load font %s: %w", opts.FontPath, err)
		}
		c.family = "label"
		c.tr = func(s string) string { return s }
	} else {
		cp1252 := pdf.UnicodeTranslatorFromDescriptor("")
		c.tr = func(s string) string { return cp1252(latin1Only(s)) }
	}

	rep := Analyze(rows)
	c.categoryPage(rep, opts.TopN)
	c.metricsPage(rows, rep)

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render charts: %w", err)
	}
	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("write charts: %w", err)
	}
	return nil
}

func latin1Only(s string) string {
	return strings.Map(func(r rune) rune {
		if r > 0xFF {
			return '?'
		}
		return r
	}, s)
}

func (c *chartWriter) categoryPage(rep Report, topN int) {
	c.page("Category statistics")

	top := rep.Categories
	if len(top) > topN {
		top = top[:topN]
	}
	labels := make([]string, len(top))
	values := make([]float64, len(top))
	for i, cat := range top {
		labels[i] = cat.Name
		values[i] = float64(cat.Count)
	}
	area := c.frame(panel{margin, margin + titleH, pageW - 2*margin, 100}, fmt.Sprintf("Top %d categories", topN))
	c.vbars(area, labels, values, skyBlue)

	lowerY := margin + titleH + 100 + gutter
	lowerH := pageH - margin - lowerY
	half := (pageW - 2*margin - gutter) / 2

	sizes := make([]float64, len(rep.Categories))
	for i, cat := range rep.Categories {
		sizes[i] = float64(cat.Count)
	}
	area = c.frame(panel{margin, lowerY, half, lowerH}, "Books per category")
	c.histogram(area, Histogram(sizes, 20), lightGreen, nil, "%.0f")

	top10 := rep.Categories
	if len(top10) > 10 {
		top10 = top10[:10]
	}
	var total float64
	for _, cat := range rep.Categories {
		total += float64(cat.Count)
	}
	shareLabels := make([]string, len(top10))
	shares := make([]float64, len(top10))
	for i, cat := range top10 {
		shareLabels[i] = cat.Name
		if total > 0 {
			shares[i] = float64(cat.Count) / total * 100
		}
	}
	area = c.frame(panel{margin + half + gutter, lowerY, half, lowerH}, "Top 10 category share")
	c.hbars(area, shareLabels, shares, lightCoral, "%.1f%%")
}

func (c *chartWriter) metricsPage(rows []Row, rep Report) {
	c.page("Book metrics")

	colW := (pageW - 2*margin - 2*gutter) / 3
	rowH := (pageH - 2*margin - titleH - gutter) / 2
	cell := func(col, row int) panel {
		return panel{
			x: margin + float64(col)*(colW+gutter),
			y: margin + titleH + float64(row)*(rowH+gutter),
			w: colW,
			h: rowH,
		}
	}

	var prices, words, ranks, discounts, fitX, fitY []float64
	for _, row := range rows {
		ranks = append(ranks, float64(row.Rank))
		if row.OriginalPrice > 0 {
			prices = append(prices, row.OriginalPrice)
		}
		if row.WordCount > 0 {
			words = append(words, row.WordCount/10000)
		}
		if ratio := row.DiscountRatio(); ratio > 0 && ratio <= 1 {
			discounts = append(discounts, ratio)
		}
		if row.OriginalPrice > 0 && row.WordCount > 0 {
			fitX = append(fitX, row.WordCount/10000)
			fitY = append(fitY, row.OriginalPrice)
		}
	}

	area := c.frame(cell(0, 0), "Price distribution (¥)")
	c.histogram(area, Histogram(prices, 30), skyBlue,
		&marker{value: rep.OriginalPrice.Mean, label: fmt.Sprintf("mean ¥%.2f", rep.OriginalPrice.Mean)}, "%.0f")

	area = c.frame(cell(1, 0), "Word count distribution (10k chars)")
	c.histogram(area, Histogram(words, 30), lightGreen,
		&marker{value: rep.WordCount.Mean / 10000, label: fmt.Sprintf("mean %.1f", rep.WordCount.Mean/10000)}, "%.0f")

	area = c.frame(cell(2, 0), "Rank distribution")
	c.histogram(area, Histogram(ranks, 50), lightCoral, nil, "%.0f")

	area = c.frame(cell(0, 1), "Word count vs price")
	c.scatter(area, fitX, fitY)

	discountMean := Describe(discounts).Mean
	area = c.frame(cell(1, 1), "Discount ratio")
	c.histogram(area, Histogram(discounts, 20), orange,
		&marker{value: discountMean, label: fmt.Sprintf("mean %.2f", discountMean)}, "%.2f")

	labels := make([]string, len(rep.TopExpensive))
	values := make([]float64, len(rep.TopExpensive))
	for i, row := range rep.TopExpensive {
		labels[i] = shorten(row.Title, 12)
		values[i] = row.OriginalPrice
	}
	area = c.frame(cell(2, 1), "Top 10 most expensive")
	c.hbars(area, labels, values, gold, "¥%.0f")
}

func shorten(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func (c *chartWriter) page(title string) {
	c.pdf.AddPage()
	c.pdf.SetFont(c.family, "", 14)
	c.pdf.SetTextColor(0, 0, 0)
	c.pdf.SetXY(margin, margin)
	c.pdf.CellFormat(pageW-2*margin, 8, c.tr(title), "", 0, "C", false, 0, "")
}

// frame draws the panel title and border and returns the plot area.
func (c *chartWriter) frame(p panel, title string) panel {
	c.pdf.SetDrawColor(200, 200, 200)
	c.pdf.SetLineWidth(0.2)
	c.pdf.Rect(p.x, p.y, p.w, p.h, "D")
	c.pdf.SetFont(c.family, "", 10)
	c.pdf.SetTextColor(0, 0, 0)
	c.pdf.SetXY(p.x, p.y+1)
	c.pdf.CellFormat(p.w, 5, c.tr(title), "", 0, "C", false, 0, "")
	c.pdf.SetFont(c.family, "", fontPt)
	return panel{x: p.x + 10, y: p.y + 9, w: p.w - 14, h: p.h - 12}
}

func (c *chartWriter) noData(area panel) {
	c.pdf.SetTextColor(120, 120, 120)
	c.pdf.SetXY(area.x, area.y+area.h/2)
	c.pdf.CellFormat(area.w, 5, "no data", "", 0, "C", false, 0, "")
	c.pdf.SetTextColor(0, 0, 0)
}

func (c *chartWriter) axes(x, y, w, h float64) {
	c.pdf.SetDrawColor(0, 0, 0)
	c.pdf.SetLineWidth(0.2)
	c.pdf.Line(x, y, x, y+h)
	c.pdf.Line(x, y+h, x+w, y+h)
}

func (c *chartWriter) fill(col rgb) {
	c.pdf.SetFillColor(col.r, col.g, col.b)
}

func maxOf(values []float64) float64 {
	m := 0.0
	for _, v := range values {
		if v > m {
			m = v
		}
	}
	if m <= 0 {
		return 1
	}
	return m
}

func (c *chartWriter) vbars(area panel, labels []string, values []float64, col rgb) {
	if len(values) == 0 {
		c.noData(area)
		return
	}
	plotH := area.h - labelsH
	baseY := area.y + plotH
	c.axes(area.x, area.y, area.w, plotH)

	top := maxOf(values)
	slot := area.w / float64(len(values))
	barW := slot * 0.7
	c.fill(col)
	for i, v := range values {
		h := v / top * (plotH - 5)
		x := area.x + float64(i)*slot + (slot-barW)/2
		c.pdf.Rect(x, baseY-h, barW, h, "F")

		value := fmt.Sprintf("%.0f", v)
		c.pdf.Text(x+barW/2-c.pdf.GetStringWidth(value)/2, baseY-h-1, value)

		label := c.tr(labels[i])
		lx, ly := x+barW/2, baseY+2
		c.pdf.TransformBegin()
		c.pdf.TransformRotate(45, lx, ly)
		c.pdf.Text(lx-c.pdf.GetStringWidth(label), ly+2, label)
		c.pdf.TransformEnd()
	}
}

func (c *chartWriter) hbars(area panel, labels []string, values []float64, col rgb, format string) {
	if len(values) == 0 {
		c.noData(area)
		return
	}
	labelW := area.w * 0.3
	plotX := area.x + labelW
	plotW := area.w - labelW - 12
	c.axes(plotX, area.y, plotW, area.h)

	top := maxOf(values)
	rowH := area.h / float64(len(values))
	barH := rowH * 0.6
	c.fill(col)
	for i, v := range values {
		y := area.y + float64(i)*rowH + (rowH-barH)/2
		w := v / top * plotW
		c.pdf.Rect(plotX, y, w, barH, "F")

		label := c.tr(labels[i])
		c.pdf.Text(plotX-1-c.pdf.GetStringWidth(label), y+barH/2+1, label)
		c.pdf.Text(plotX+w+1, y+barH/2+1, c.tr(fmt.Sprintf(format, v)))
	}
}

type marker struct {
	value float64
	label string
}

func (c *chartWriter) histogram(area panel, bins []Bin, col rgb, mark *marker, tickFormat string) {
	if len(bins) == 0 {
		c.noData(area)
		return
	}
	plotH := area.h - 6
	baseY := area.y + plotH
	c.axes(area.x, area.y, area.w, plotH)

	counts := make([]float64, len(bins))
	for i, b := range bins {
		counts[i] = float64(b.Count)
	}
	top := maxOf(counts)
	barW := area.w / float64(len(bins))
	c.fill(col)
	c.pdf.SetDrawColor(0, 0, 0)
	for i, n := range counts {
		if n == 0 {
			continue
		}
		h := n / top * (plotH - 5)
		c.pdf.Rect(area.x+float64(i)*barW, baseY-h, barW, h, "FD")
	}

	lo, hi := bins[0].Lo, bins[len(bins)-1].Hi
	c.pdf.Text(area.x, baseY+4, fmt.Sprintf(tickFormat, lo))
	hiLabel := fmt.Sprintf(tickFormat, hi)
	c.pdf.Text(area.x+area.w-c.pdf.GetStringWidth(hiLabel), baseY+4, hiLabel)
	maxLabel := fmt.Sprintf("%.0f", top)
	c.pdf.Text(area.x-1-c.pdf.GetStringWidth(maxLabel), area.y+5, maxLabel)

	if mark == nil || hi <= lo {
		return
	}
	x := area.x + (mark.value-lo)/(hi-lo)*area.w
	c.pdf.SetDrawColor(red.r, red.g, red.b)
	c.pdf.SetLineWidth(0.4)
	c.pdf.SetDashPattern([]float64{1.5, 1}, 0)
	c.pdf.Line(x, area.y, x, baseY)
	c.pdf.SetDashPattern([]float64{}, 0)
	c.pdf.SetTextColor(red.r, red.g, red.b)
	label := c.tr(mark.label)
	c.pdf.Text(area.x+area.w-c.pdf.GetStringWidth(label), area.y+3, label)
	c.pdf.SetTextColor(0, 0, 0)
}

func (c *chartWriter) scatter(area panel, xs, ys []float64) {
	if len(xs) == 0 {
		c.noData(area)
		return
	}
	plotH := area.h - 6
	baseY := area.y + plotH
	c.axes(area.x, area.y, area.w, plotH)

	xs0, ys0 := Describe(xs), Describe(ys)
	xlo, xhi := xs0.Min, xs0.Max
	ylo, yhi := 0.0, ys0.Max
	if xhi <= xlo {
		xhi = xlo + 1
	}
	if yhi <= ylo {
		yhi = ylo + 1
	}
	px := func(v float64) float64 { return area.x + (v-xlo)/(xhi-xlo)*area.w }
	py := func(v float64) float64 { return baseY - (v-ylo)/(yhi-ylo)*(plotH-3) }

	c.fill(purple)
	for i := range xs {
		c.pdf.Circle(px(xs[i]), py(ys[i]), 0.6, "F")
	}

	c.pdf.Text(area.x, baseY+4, fmt.Sprintf("%.0f", xlo))
	hiLabel := fmt.Sprintf("%.0f", xhi)
	c.pdf.Text(area.x+area.w-c.pdf.GetStringWidth(hiLabel), baseY+4, hiLabel)
	maxLabel := fmt.Sprintf("%.0f", yhi)
	c.pdf.Text(area.x-1-c.pdf.GetStringWidth(maxLabel), area.y+5, maxLabel)

	slope, intercept, ok := LinearFit(xs, ys)
	if !ok {
		return
	}
	c.pdf.SetDrawColor(red.r, red.g, red.b)
	c.pdf.SetLineWidth(0.4)
	c.pdf.SetDashPattern([]float64{1.5, 1}, 0)
	c.pdf.Line(px(xlo), py(slope*xlo+intercept), px(xhi), py(slope*xhi+intercept))
	c.pdf.SetDashPattern([]float64{}, 0)
}
