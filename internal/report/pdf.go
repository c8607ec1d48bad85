package report

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"

	"github.com/zombor/expense-reports/internal/expense"
	"github.com/zombor/expense-reports/internal/money"
)

// Letter page in points
const (
	pageWidth    = 612.0
	pageHeight   = 792.0
	margin       = 50.0
	contentWidth = pageWidth - margin*2

	// Content stops this far above the page bottom; the footer lives below
	bottomLimit = pageHeight - 60
	footerY     = pageHeight - 40

	rowHeight     = 16.0
	rowBreakSlack = 4.0
	subtotalSpan  = 24.0
	grandSpan     = 32.0
	cellMargin    = 2.0
)

const displayDate = "Jan 2, 2006"

type column struct {
	title string
	x     float64
	width float64
	align string
}

var columns = [...]column{
	{"Date", 50, 80, "L"},
	{"Category", 130, 90, "L"},
	{"Merchant", 220, 110, "L"},
	{"Client", 330, 110, "L"},
	{"Amount", 440, 122, "R"},
}

// Document is a rendered PDF
type Document struct {
	Data  []byte
	Pages int
}

// Renderer lays out expense reports on Letter pages
type Renderer struct {
	formatter *money.Formatter
}

// NewRenderer creates a Renderer that formats money with formatter
func NewRenderer(formatter *money.Formatter) *Renderer {
	if formatter == nil {
		formatter = money.DefaultFormatter()
	}
	return &Renderer{formatter: formatter}
}

// Render lays out the report for r. now stamps the "Generated" line.
func (rd *Renderer) Render(r Request, now time.Time) (*Document, error) {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCellMargin(cellMargin)
	pdf.SetTitle("Expense Report", true)
	pdf.SetCreator("expense-reports", true)
	pdf.SetCreationDate(now)

	l := &layout{
		pdf: pdf,
		tr:  pdf.UnicodeTranslatorFromDescriptor(""),
		fmt: rd.formatter,
	}

	groups := GroupByCategory(r.Expenses, r.Lookup)
	start, end := r.span(now)

	l.firstPage(start, end, now)
	l.summary(groups, Total(r.Expenses), len(r.Expenses))
	l.y += 16
	l.tableHeader()

	for _, g := range groups {
		for _, e := range g.Expenses {
			l.ensureRoom(rowHeight + rowBreakSlack)
			l.row(e, g.Name)
		}
		l.ensureRoom(subtotalSpan)
		l.subtotal(g.Name+" Subtotal", g.Subtotal)
	}
	l.ensureRoom(grandSpan)
	l.grandTotal(Total(r.Expenses))
	l.footer()

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("rendering pdf: %w", err)
	}
	return &Document{Data: buf.Bytes(), Pages: l.page}, nil
}

// layout is the cursor state of a render: vertical position and the
// current page number. Each step draws at y and advances it.
type layout struct {
	pdf  *fpdf.Fpdf
	tr   func(string) string
	fmt  *money.Formatter
	y    float64
	page int
}

func (l *layout) newPage() {
	l.pdf.AddPage()
	l.page++
	l.y = margin
}

// ensureRoom breaks to a new page with a fresh table header when a block of
// height h would cross the bottom limit
func (l *layout) ensureRoom(h float64) {
	if l.y+h <= bottomLimit {
		return
	}
	l.footer()
	l.newPage()
	l.tableHeader()
}

func (l *layout) firstPage(start, end, now time.Time) {
	l.newPage()

	l.pdf.SetFont("Helvetica", "B", 20)
	l.pdf.SetTextColor(0, 0, 0)
	l.text(margin, l.y, contentWidth, 28, "Expense Report", "L")
	l.y += 30

	l.pdf.SetFont("Helvetica", "", 12)
	l.pdf.SetTextColor(85, 85, 85)
	l.text(margin, l.y, contentWidth, 16, start.Format(displayDate)+" -- "+end.Format(displayDate), "L")
	l.y += 16
	l.text(margin, l.y, contentWidth, 16, "Generated: "+now.Format(displayDate), "L")
	l.y += 24

	l.rule(false)
	l.y += 8
}

func (l *layout) summary(groups []*Group, total decimal.Decimal, count int) {
	lines := [...][2]string{
		{"Total Expenses:", l.fmt.Format(total)},
		{"Number of Expenses:", strconv.Itoa(count)},
	}
	l.pdf.SetTextColor(0, 0, 0)
	for _, line := range lines {
		l.pdf.SetFont("Helvetica", "B", 11)
		l.text(margin, l.y, 160, 16, line[0], "L")
		l.pdf.SetFont("Helvetica", "", 10)
		l.text(margin+160, l.y, 200, 16, line[1], "L")
		l.y += 16
	}
	l.y += 4

	l.pdf.SetFont("Helvetica", "", 10)
	l.pdf.SetTextColor(85, 85, 85)
	for _, g := range groups {
		if l.y+14 > bottomLimit {
			l.footer()
			l.newPage()
		}
		line := fmt.Sprintf("  %s: %s (%d)", g.Name, l.fmt.Format(g.Subtotal), len(g.Expenses))
		l.text(margin, l.y, contentWidth, 14, line, "L")
		l.y += 14
	}
	l.pdf.SetTextColor(0, 0, 0)
}

func (l *layout) tableHeader() {
	l.rule(false)
	l.y += 4
	l.pdf.SetFont("Helvetica", "B", 10)
	l.pdf.SetTextColor(0, 0, 0)
	for _, c := range columns {
		l.text(c.x, l.y, c.width, 14, c.title, c.align)
	}
	l.y += 16
	l.rule(false)
	l.y += 4
}

func (l *layout) row(e *expense.Expense, category string) {
	values := [len(columns)]string{
		e.Date.Format(displayDate),
		category,
		e.Merchant,
		e.Client,
		l.fmt.Format(e.Amount),
	}
	l.pdf.SetFont("Helvetica", "", 10)
	for i, c := range columns {
		l.text(c.x, l.y, c.width, 14, values[i], c.align)
	}
	l.y += rowHeight
}

func (l *layout) subtotal(label string, amount decimal.Decimal) {
	l.y += 2
	l.rule(true)
	l.y += 4
	amountCol := columns[len(columns)-1]
	l.pdf.SetFont("Helvetica", "B", 10)
	l.text(margin, l.y, 300, 14, label, "L")
	l.text(amountCol.x, l.y, amountCol.width, 14, l.fmt.Format(amount), "R")
	l.y += 18
}

func (l *layout) grandTotal(amount decimal.Decimal) {
	l.y += 4
	l.rule(false)
	l.y += 2
	l.rule(false)
	l.y += 6
	amountCol := columns[len(columns)-1]
	l.pdf.SetFont("Helvetica", "B", 11)
	l.text(margin, l.y, 300, 16, "Grand Total", "L")
	l.text(amountCol.x, l.y, amountCol.width, 16, l.fmt.Format(amount), "R")
	l.y += 20
}

func (l *layout) footer() {
	l.pdf.SetFont("Helvetica", "", 12)
	l.pdf.SetTextColor(128, 128, 128)
	l.text(margin, footerY, contentWidth, 14, "Page "+strconv.Itoa(l.page), "C")
	l.pdf.SetTextColor(0, 0, 0)
}

func (l *layout) rule(dashed bool) {
	l.pdf.SetDrawColor(128, 128, 128)
	l.pdf.SetLineWidth(0.5)
	if dashed {
		l.pdf.SetDashPattern([]float64{4, 2}, 0)
	}
	l.pdf.Line(margin, l.y, pageWidth-margin, l.y)
	if dashed {
		l.pdf.SetDashPattern([]float64{}, 0)
	}
}

// text draws s in a single-line cell, truncating with an ellipsis to fit
func (l *layout) text(x, y, w, h float64, s, align string) {
	l.pdf.SetXY(x, y)
	l.pdf.CellFormat(w, h, l.fit(s, w-2*cellMargin), "", 0, align, false, 0, "")
}

// fit translates s to the core font encoding and shortens it to width w.
// The translated text is single-byte, so trimming bytes trims characters.
func (l *layout) fit(s string, w float64) string {
	t := l.tr(s)
	if l.pdf.GetStringWidth(t) <= w {
		return t
	}
	ellipsis := l.tr("…")
	for len(t) > 0 && l.pdf.GetStringWidth(t+ellipsis) > w {
		t = t[:len(t)-1]
	}
	return t + ellipsis
}
