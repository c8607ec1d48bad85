package expense

import (
	"fmt"
	"log/slog"
	"time"
)

// Valid reports whether r is a recognized rule
func (r RecurrenceRule) Valid() bool {
	switch r {
	case Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// Next returns the occurrence following t. Month and year steps keep the day
// of month, clamped to the last day of a shorter target month: Jan 31 steps
// to Feb 28 (or 29), and the following step starts from that date.
func (r RecurrenceRule) Next(t time.Time) (time.Time, bool) {
	switch r {
	case Weekly:
		return t.AddDate(0, 0, 7), true
	case Monthly:
		return addMonths(t, 1), true
	case Yearly:
		return addMonths(t, 12), true
	}
	return time.Time{}, false
}

func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(firstOfMonth time.Time) int {
	return firstOfMonth.AddDate(0, 1, -1).Day()
}

// GeneratePending creates the occurrences of every recurring template that
// fall due on or before asOf and advances each template's last generated
// date. Non-recurring entries and unknown rules generate nothing. Callers
// must hold exclusive write access to w for the whole pass.
func GeneratePending(templates []*Expense, w Writer, asOf time.Time, ids IDGenerator) (int, error) {
	generated := 0
	for _, template := range templates {
		if !template.IsRecurring {
			continue
		}
		if !template.RecurrenceRule.Valid() {
			slog.Debug("Skipping template with unknown recurrence rule", "id", template.ID, "rule", template.RecurrenceRule)
			continue
		}

		last := template.CreatedAt
		if template.LastGeneratedDate != nil {
			last = *template.LastGeneratedDate
		}
		if last.IsZero() {
			slog.Warn("Skipping template without a start date", "id", template.ID)
			continue
		}

		count := 0
		for {
			next, _ := template.RecurrenceRule.Next(last)
			if next.After(asOf) {
				break
			}
			if err := w.SaveExpense(occurrence(template, ids.Generate(), next, asOf)); err != nil {
				return generated, fmt.Errorf("saving occurrence of %s: %w", template.ID, err)
			}
			last = next
			count++
		}
		if count == 0 {
			continue
		}

		template.LastGeneratedDate = &last
		if err := w.SaveExpense(template); err != nil {
			return generated, fmt.Errorf("updating template %s: %w", template.ID, err)
		}
		generated += count
	}
	return generated, nil
}

// occurrence copies a template into a dated, non-recurring expense
func occurrence(template *Expense, id string, date, createdAt time.Time) *Expense {
	e := &Expense{
		ID:        id,
		Date:      date,
		Amount:    template.Amount,
		Merchant:  template.Merchant,
		Client:    template.Client,
		Notes:     template.Notes,
		CreatedAt: createdAt,
	}
	if template.CategoryID != nil {
		categoryID := *template.CategoryID
		e.CategoryID = &categoryID
	}
	if len(template.TagIDs) > 0 {
		e.TagIDs = append([]string(nil), template.TagIDs...)
	}
	return e
}
