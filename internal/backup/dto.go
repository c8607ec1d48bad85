package backup

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/expense-reports/internal/expense"
)

// Version is the schema version written to new manifests
const Version = 1

// Fields of every DTO are declared in alphabetical order of their JSON keys
// so encoded files have sorted keys.

// Manifest describes a backup
type Manifest struct {
	CategoryCount int       `json:"categoryCount"`
	CreatedAt     Timestamp `json:"createdAt"`
	ExpenseCount  int       `json:"expenseCount"`
	TagCount      int       `json:"tagCount"`
	Version       int       `json:"version"`
}

type categoryDTO struct {
	Color     string `json:"color"`
	Icon      string `json:"icon"`
	ID        string `json:"id"`
	IsDefault bool   `json:"isDefault"`
	Name      string `json:"name"`
	SortOrder int    `json:"sortOrder"`
}

type tagDTO struct {
	Color string `json:"color"`
	ID    string `json:"id"`
	Name  string `json:"name"`
}

type expenseDTO struct {
	Amount            string     `json:"amount"`
	CategoryID        *string    `json:"categoryID,omitempty"`
	Client            string     `json:"client"`
	CreatedAt         Timestamp  `json:"createdAt"`
	Date              Timestamp  `json:"date"`
	ID                string     `json:"id"`
	IsRecurring       bool       `json:"isRecurring"`
	LastGeneratedDate *Timestamp `json:"lastGeneratedDate,omitempty"`
	Merchant          string     `json:"merchant"`
	Notes             string     `json:"notes"`
	ReceiptImagePath  *string    `json:"receiptImagePath,omitempty"`
	RecurrenceRule    *string    `json:"recurrenceRule,omitempty"`
	TagIDs            []string   `json:"tagIDs"`
}

type preferencesDTO struct {
	CurrencyCode           string   `json:"currencyCode"`
	FeaturedCategoryIDs    []string `json:"featuredCategoryIDs"`
	HasCompletedOnboarding bool     `json:"hasCompletedOnboarding"`
}

// Timestamp is a time encoded as ISO 8601 in UTC with second precision
type Timestamp time.Time

// MarshalJSON implements json.Marshaler
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(time.RFC3339))
}

// UnmarshalJSON implements json.Unmarshaler. Fractional seconds and offsets
// are accepted.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	*t = Timestamp(parsed)
	return nil
}

// Time returns t as a time.Time
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func fromCategory(c *expense.Category) categoryDTO {
	return categoryDTO{
		Color:     c.Color,
		Icon:      c.Icon,
		ID:        c.ID,
		IsDefault: c.IsDefault,
		Name:      c.Name,
		SortOrder: c.SortOrder,
	}
}

func (d categoryDTO) model() *expense.Category {
	return &expense.Category{
		ID:        d.ID,
		Name:      d.Name,
		Icon:      d.Icon,
		Color:     d.Color,
		SortOrder: d.SortOrder,
		IsDefault: d.IsDefault,
	}
}

func fromTag(t *expense.Tag) tagDTO {
	return tagDTO{Color: t.Color, ID: t.ID, Name: t.Name}
}

func (d tagDTO) model() *expense.Tag {
	return &expense.Tag{ID: d.ID, Name: d.Name, Color: d.Color}
}

func fromExpense(e *expense.Expense) expenseDTO {
	d := expenseDTO{
		Amount:           e.Amount.String(),
		CategoryID:       e.CategoryID,
		Client:           e.Client,
		CreatedAt:        Timestamp(e.CreatedAt),
		Date:             Timestamp(e.Date),
		ID:               e.ID,
		IsRecurring:      e.IsRecurring,
		Merchant:         e.Merchant,
		Notes:            e.Notes,
		ReceiptImagePath: optional(e.ReceiptImagePath),
		RecurrenceRule:   optional(string(e.RecurrenceRule)),
		TagIDs:           e.TagIDs,
	}
	if d.TagIDs == nil {
		d.TagIDs = []string{}
	}
	if e.LastGeneratedDate != nil {
		last := Timestamp(*e.LastGeneratedDate)
		d.LastGeneratedDate = &last
	}
	return d
}

// model converts the DTO back, keeping only references to categories and
// tags that exist in the same backup
func (d expenseDTO) model(categories, tags map[string]bool) (*expense.Expense, error) {
	amount, err := decimal.NewFromString(d.Amount)
	if err != nil {
		return nil, fmt.Errorf("expense %s amount %q: %w", d.ID, d.Amount, err)
	}

	e := &expense.Expense{
		ID:          d.ID,
		Date:        d.Date.Time(),
		Amount:      amount,
		Merchant:    d.Merchant,
		Client:      d.Client,
		Notes:       d.Notes,
		CreatedAt:   d.CreatedAt.Time(),
		IsRecurring: d.IsRecurring,
	}
	if d.CategoryID != nil && categories[*d.CategoryID] {
		e.CategoryID = d.CategoryID
	}
	for _, id := range d.TagIDs {
		if tags[id] {
			e.TagIDs = append(e.TagIDs, id)
		}
	}
	if d.ReceiptImagePath != nil {
		e.ReceiptImagePath = *d.ReceiptImagePath
	}
	if d.RecurrenceRule != nil {
		e.RecurrenceRule = expense.RecurrenceRule(*d.RecurrenceRule)
	}
	if d.LastGeneratedDate != nil {
		last := d.LastGeneratedDate.Time()
		e.LastGeneratedDate = &last
	}
	return e, nil
}

func fromPreferences(p *expense.Preferences) preferencesDTO {
	d := preferencesDTO{
		CurrencyCode:           p.CurrencyCode,
		FeaturedCategoryIDs:    p.FeaturedCategoryIDs,
		HasCompletedOnboarding: p.HasCompletedOnboarding,
	}
	if d.FeaturedCategoryIDs == nil {
		d.FeaturedCategoryIDs = []string{}
	}
	return d
}

func (d preferencesDTO) model() *expense.Preferences {
	featured := d.FeaturedCategoryIDs
	if featured == nil {
		featured = []string{}
	}
	return &expense.Preferences{
		CurrencyCode:           d.CurrencyCode,
		HasCompletedOnboarding: d.HasCompletedOnboarding,
		FeaturedCategoryIDs:    featured,
	}
}
