package expense

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RecurrenceRule names how often a recurring template repeats
type RecurrenceRule string

const (
	Weekly  RecurrenceRule = "weekly"
	Monthly RecurrenceRule = "monthly"
	Yearly  RecurrenceRule = "yearly"
)

// Expense is a single financial transaction. When IsRecurring is set it is a
// template for generated transactions instead.
type Expense struct {
	ID               string          `json:"id"`
	Date             time.Time       `json:"date"`
	Amount           decimal.Decimal `json:"amount"`
	Merchant         string          `json:"merchant"`
	Client           string          `json:"client"`
	Notes            string          `json:"notes"`
	CategoryID       *string         `json:"category_id,omitempty"`
	TagIDs           []string        `json:"tag_ids,omitempty"`
	ReceiptImagePath string          `json:"receipt_image_path,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	IsRecurring      bool            `json:"is_recurring"`
	RecurrenceRule   RecurrenceRule  `json:"recurrence_rule,omitempty"`
	// LastGeneratedDate is only meaningful for recurring templates
	LastGeneratedDate *time.Time `json:"last_generated_date,omitempty"`
}

// Category groups expenses in reports
type Category struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Icon      string `json:"icon"`
	Color     string `json:"color"`
	SortOrder int    `json:"sort_order"`
	IsDefault bool   `json:"is_default"`
}

// Tag is a free-form label attached to expenses
type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Preferences holds the user's settings. There is at most one record.
type Preferences struct {
	CurrencyCode            string     `json:"currency_code"`
	HasCompletedOnboarding  bool       `json:"has_completed_onboarding"`
	FeaturedCategoryIDs     []string   `json:"featured_category_ids"`
	LastRecurringGeneration *time.Time `json:"last_recurring_generation,omitempty"`
}

// DefaultCategories returns the built-in categories seeded on first run
func DefaultCategories() []*Category {
	defaults := []struct{ name, icon, color string }{
		{"Airline Tickets", "airplane", "#2196F3"},
		{"Hotel", "building.2", "#9C27B0"},
		{"Rideshare", "car", "#FF9800"},
		{"Food", "fork.knife", "#4CAF50"},
		{"Office Supplies", "pencil.and.ruler", "#607D8B"},
		{"Parking", "parkingsign", "#795548"},
		{"Entertainment", "film", "#E91E63"},
		{"Misc", "ellipsis.circle", "#9E9E9E"},
	}
	categories := make([]*Category, len(defaults))
	for i, d := range defaults {
		categories[i] = &Category{
			ID:        uuid.NewString(),
			Name:      d.name,
			Icon:      d.icon,
			Color:     d.color,
			SortOrder: i,
			IsDefault: true,
		}
	}
	return categories
}
