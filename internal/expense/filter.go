package expense

import (
	"slices"
	"strings"
	"time"
)

// Filter selects expenses for listing and reports. Zero fields match
// everything.
type Filter struct {
	// Start and End bound the expense date by whole days, inclusive
	Start time.Time
	End   time.Time

	// CategoryIDs matches expenses in any of the categories
	CategoryIDs []string

	// TagIDs matches expenses carrying any of the tags
	TagIDs []string

	// Query is a case-insensitive substring of merchant, client or notes
	Query string

	// IncludeTemplates keeps recurring templates in the result
	IncludeTemplates bool
}

// Matches reports whether e passes every criterion of the filter
func (f Filter) Matches(e *Expense) bool {
	if e.IsRecurring && !f.IncludeTemplates {
		return false
	}
	if !f.Start.IsZero() && e.Date.Before(startOfDay(f.Start)) {
		return false
	}
	if !f.End.IsZero() && !e.Date.Before(startOfDay(f.End).AddDate(0, 0, 1)) {
		return false
	}
	if len(f.CategoryIDs) > 0 && (e.CategoryID == nil || !slices.Contains(f.CategoryIDs, *e.CategoryID)) {
		return false
	}
	if len(f.TagIDs) > 0 && !slices.ContainsFunc(e.TagIDs, func(id string) bool {
		return slices.Contains(f.TagIDs, id)
	}) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		haystack := strings.ToLower(e.Merchant + "\n" + e.Client + "\n" + e.Notes)
		if !strings.Contains(haystack, q) {
			return false
		}
	}
	return true
}

// Apply returns the matching expenses ordered by date, then ID
func (f Filter) Apply(expenses []*Expense) []*Expense {
	matched := make([]*Expense, 0, len(expenses))
	for _, e := range expenses {
		if f.Matches(e) {
			matched = append(matched, e)
		}
	}
	slices.SortStableFunc(matched, func(a, b *Expense) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return matched
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
