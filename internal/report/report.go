// Package report renders expense lists as CSV and PDF documents and bundles
// them with receipt images into zip archives.
package report

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zombor/expense-reports/internal/expense"
	"github.com/zombor/expense-reports/internal/money"
)

// TimestampLayout stamps generated file names
const TimestampLayout = "2006-01-02_150405"

// DefaultPrefix starts every generated file name unless configured
const DefaultPrefix = "Expenses"

// Format is a report document type
type Format string

const (
	PDF Format = "pdf"
	CSV Format = "csv"
)

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case PDF, CSV:
		return f, nil
	case "":
		return PDF, nil
	}
	return "", fmt.Errorf("unknown report format %q", s)
}

// Request is the input to every report: the selected expenses, the lookup
// that names their categories and tags, and the queried date range
type Request struct {
	Expenses []*expense.Expense
	Lookup   expense.Lookup
	Start    time.Time
	End      time.Time
}

// span returns the date range to print. Open ends fall back to the earliest
// and latest expense dates.
func (r Request) span(now time.Time) (time.Time, time.Time) {
	start, end := r.Start, r.End
	for _, e := range r.Expenses {
		if r.Start.IsZero() && (start.IsZero() || e.Date.Before(start)) {
			start = e.Date
		}
		if r.End.IsZero() && (end.IsZero() || e.Date.After(end)) {
			end = e.Date
		}
	}
	if start.IsZero() {
		start = now
	}
	if end.IsZero() {
		end = now
	}
	return start, end
}

// ReceiptSource resolves stored receipt paths to files on disk
type ReceiptSource interface {
	Path(rel string) (string, error)
}

// Exporter writes report files into an output directory
type Exporter struct {
	dir       string
	prefix    string
	formatter *money.Formatter
	receipts  ReceiptSource
	now       func() time.Time

	// stagingRoot holds archive staging directories; empty means the OS temp dir
	stagingRoot string
}

// NewExporter creates an Exporter writing into dir. An empty dir means the
// OS temp directory.
func NewExporter(dir, prefix string, formatter *money.Formatter, receipts ReceiptSource) (*Exporter, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}
	return &Exporter{
		dir:       dir,
		prefix:    prefix,
		formatter: formatter,
		receipts:  receipts,
		now:       time.Now,
	}, nil
}

// CSV writes <Prefix>_Expenses_<timestamp>.csv and returns its path
func (x *Exporter) CSV(r Request) (string, error) {
	return x.writeReport(x.dir, r, CSV, x.now())
}

// PDF writes <Prefix>_Report_<timestamp>.pdf and returns its path
func (x *Exporter) PDF(r Request) (string, error) {
	return x.writeReport(x.dir, r, PDF, x.now())
}

// Export writes a report in the given format, optionally bundled with its
// receipts
func (x *Exporter) Export(r Request, format Format, archive bool) (string, error) {
	if archive {
		return x.Archive(r, format)
	}
	return x.writeReport(x.dir, r, format, x.now())
}

func (x *Exporter) fileName(format Format, now time.Time) string {
	ts := now.Format(TimestampLayout)
	if format == CSV {
		return fmt.Sprintf("%s_Expenses_%s.csv", x.prefix, ts)
	}
	return fmt.Sprintf("%s_Report_%s.pdf", x.prefix, ts)
}

func (x *Exporter) writeReport(dir string, r Request, format Format, now time.Time) (string, error) {
	var data []byte
	switch format {
	case CSV:
		data = append([]byte(byteOrderMark), EncodeCSV(r.Expenses, r.Lookup)...)
	case PDF:
		doc, err := NewRenderer(x.formatter).Render(r, now)
		if err != nil {
			return "", err
		}
		data = doc.Data
		slog.Debug("Rendered PDF report", "expenses", len(r.Expenses), "pages", doc.Pages)
	default:
		return "", fmt.Errorf("unknown report format %q", format)
	}

	path := filepath.Join(dir, x.fileName(format, now))
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("writing %s report: %w", format, err)
	}
	return path, nil
}

// writeFileAtomic writes data next to path and renames it into place so
// readers never observe a partial file
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
