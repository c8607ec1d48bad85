package report

import (
	"strings"

	"github.com/zombor/expense-reports/internal/expense"
)

const (
	csvHeader     = "Date,Category,Merchant,Client,Amount,Notes,Tags"
	csvRowEnd     = "\r\n"
	byteOrderMark = "\ufeff"
)

// EncodeCSV renders expenses as RFC 4180 text in the given order. Rows are
// separated by CRLF with no separator after the last row.
func EncodeCSV(expenses []*expense.Expense, l expense.Lookup) string {
	var b strings.Builder
	b.WriteString(csvHeader)
	for _, e := range expenses {
		b.WriteString(csvRowEnd)
		fields := [...]string{
			e.Date.Format("2006-01-02"),
			expense.CategoryName(l, e),
			e.Merchant,
			e.Client,
			e.Amount.String(),
			e.Notes,
			strings.Join(expense.TagNames(l, e), ", "),
		}
		for i, f := range fields {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(escapeField(f))
		}
	}
	return b.String()
}

// escapeField quotes a field only when it holds a comma, a quote or a line
// break
func escapeField(field string) string {
	if !strings.ContainsAny(field, ",\"\r\n") {
		return field
	}
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}
