package report

import (
	"cmp"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/expense-reports/internal/expense"
)

// Group is the expenses of one category, in date order
type Group struct {
	Name     string
	Category *expense.Category
	Expenses []*expense.Expense
	Subtotal decimal.Decimal
}

// GroupByCategory splits expenses by category. Groups follow the categories'
// sort order with Uncategorized last; only categories present appear.
func GroupByCategory(expenses []*expense.Expense, l expense.Lookup) []*Group {
	byID := make(map[string]*Group)
	groups := make([]*Group, 0)
	for _, e := range expenses {
		key := ""
		c, ok := expense.CategoryOf(l, e)
		if ok {
			key = c.ID
		}
		g, found := byID[key]
		if !found {
			g = &Group{Name: expense.Uncategorized, Subtotal: decimal.Zero}
			if ok {
				g.Name = c.Name
				g.Category = c
			}
			byID[key] = g
			groups = append(groups, g)
		}
		g.Expenses = append(g.Expenses, e)
		g.Subtotal = g.Subtotal.Add(e.Amount)
	}

	slices.SortStableFunc(groups, func(a, b *Group) int {
		switch {
		case a.Category == nil && b.Category == nil:
			return 0
		case a.Category == nil:
			return 1
		case b.Category == nil:
			return -1
		}
		if c := cmp.Compare(a.Category.SortOrder, b.Category.SortOrder); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	for _, g := range groups {
		slices.SortStableFunc(g.Expenses, func(a, b *expense.Expense) int {
			return a.Date.Compare(b.Date)
		})
	}
	return groups
}

// Total sums the amounts of expenses
func Total(expenses []*expense.Expense) decimal.Decimal {
	total := decimal.Zero
	for _, e := range expenses {
		total = total.Add(e.Amount)
	}
	return total
}
