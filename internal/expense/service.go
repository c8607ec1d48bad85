package expense

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/expense-reports/internal/money"
	"github.com/zombor/expense-reports/internal/scanning"
)

// ErrInvalid is returned when a record fails validation
var ErrInvalid = errors.New("invalid input")

// IDGenerator generates unique IDs for records
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// Scanner decodes uploads and runs text recognition over them
type Scanner interface {
	Decode(data []byte, contentType string) (image.Image, error)
	Recognize(ctx context.Context, img image.Image) (*scanning.Result, error)
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Scan is the outcome of scanning an uploaded receipt
type Scan struct {
	ReceiptPath string           `json:"receipt_path"`
	Extraction  *scanning.Result `json:"extraction"`
}

// Service handles expense operations
type Service struct {
	db          DB
	scanner     Scanner
	storage     Storage
	formatter   *money.Formatter
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, scanner Scanner, storage Storage, formatter *money.Formatter) *Service {
	return NewServiceWithDeps(db, scanner, storage, formatter, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner Scanner, storage Storage, formatter *money.Formatter, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		storage:     storage,
		formatter:   formatter,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// ScanReceipt decodes an upload, stores it as a receipt image and extracts
// what it can from the recognized text
func (s *Service) ScanReceipt(ctx context.Context, data []byte, contentType string) (*Scan, error) {
	img, err := s.scanner.Decode(data, contentType)
	if err != nil {
		return nil, fmt.Errorf("decoding receipt: %w", err)
	}

	savedPath, err := s.storage.Save(img)
	if err != nil {
		return nil, fmt.Errorf("saving receipt image: %w", err)
	}

	result, err := s.scanner.Recognize(ctx, img)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		if delErr := s.storage.Delete(savedPath); delErr != nil {
			slog.Warn("Failed to delete receipt image", "path", savedPath, "error", delErr)
		}
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	return &Scan{ReceiptPath: savedPath, Extraction: result}, nil
}

// OpenReceipt opens a stored receipt image
func (s *Service) OpenReceipt(rel string) (io.ReadCloser, error) {
	return s.storage.Open(rel)
}

// CreateExpense validates and saves a new expense
func (s *Service) CreateExpense(e *Expense) (*Expense, error) {
	if err := s.validate(e); err != nil {
		return nil, err
	}
	e.ID = s.idGenerator.Generate()
	e.CreatedAt = s.timeSource.Now()
	normalize(e)

	if err := s.db.SaveExpense(e); err != nil {
		return nil, fmt.Errorf("saving expense: %w", err)
	}
	return e, nil
}

// UpdateExpense replaces the editable fields of an existing expense. A
// replaced receipt image is released.
func (s *Service) UpdateExpense(id string, e *Expense) (*Expense, error) {
	existing, err := s.db.GetExpense(id)
	if err != nil {
		return nil, fmt.Errorf("getting expense: %w", err)
	}
	if err := s.validate(e); err != nil {
		return nil, err
	}

	e.ID = existing.ID
	e.CreatedAt = existing.CreatedAt
	if e.IsRecurring && e.LastGeneratedDate == nil {
		e.LastGeneratedDate = existing.LastGeneratedDate
	}
	normalize(e)

	if err := s.db.SaveExpense(e); err != nil {
		return nil, fmt.Errorf("saving expense: %w", err)
	}
	if existing.ReceiptImagePath != "" && existing.ReceiptImagePath != e.ReceiptImagePath {
		s.releaseReceipt(existing.ReceiptImagePath)
	}
	return e, nil
}

// GetExpense retrieves an expense by ID
func (s *Service) GetExpense(id string) (*Expense, error) {
	e, err := s.db.GetExpense(id)
	if err != nil {
		return nil, fmt.Errorf("getting expense: %w", err)
	}
	return e, nil
}

// ListExpenses returns the expenses matching filter ordered by date
func (s *Service) ListExpenses(filter Filter) ([]*Expense, error) {
	expenses, err := s.db.ListExpenses()
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	return filter.Apply(expenses), nil
}

// Select returns the expenses matching filter together with an index for
// resolving their categories and tags
func (s *Service) Select(filter Filter) ([]*Expense, *Index, error) {
	expenses, err := s.ListExpenses(filter)
	if err != nil {
		return nil, nil, err
	}
	ix, err := s.db.LoadIndex()
	if err != nil {
		return nil, nil, fmt.Errorf("loading categories and tags: %w", err)
	}
	return expenses, ix, nil
}

// DeleteExpense removes an expense and its receipt image
func (s *Service) DeleteExpense(id string) error {
	e, err := s.db.GetExpense(id)
	if err != nil {
		return fmt.Errorf("getting expense for deletion: %w", err)
	}

	if _, err := s.db.DeleteExpenses(func(x *Expense) bool { return x.ID == id }); err != nil {
		return fmt.Errorf("deleting expense from database: %w", err)
	}
	if e.ReceiptImagePath != "" {
		s.releaseReceipt(e.ReceiptImagePath)
	}
	return nil
}

func (s *Service) releaseReceipt(rel string) {
	if err := s.storage.Delete(rel); err != nil {
		slog.Warn("Failed to delete receipt image", "path", rel, "error", err)
	}
}

func (s *Service) validate(e *Expense) error {
	if e == nil {
		return fmt.Errorf("%w: missing expense", ErrInvalid)
	}
	if e.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalid)
	}
	if e.IsRecurring && !e.RecurrenceRule.Valid() {
		return fmt.Errorf("%w: unknown recurrence rule %q", ErrInvalid, e.RecurrenceRule)
	}
	if e.CategoryID != nil {
		if _, err := s.db.GetCategory(*e.CategoryID); err != nil {
			return fmt.Errorf("%w: category %s: %w", ErrInvalid, *e.CategoryID, err)
		}
	}
	if len(e.TagIDs) > 0 {
		ix, err := s.db.LoadIndex()
		if err != nil {
			return fmt.Errorf("loading tags: %w", err)
		}
		for _, id := range e.TagIDs {
			if _, ok := ix.Tag(id); !ok {
				return fmt.Errorf("%w: unknown tag %s", ErrInvalid, id)
			}
		}
	}
	return nil
}

// normalize clears recurrence fields on plain expenses and drops duplicate tags
func normalize(e *Expense) {
	e.Merchant = strings.TrimSpace(e.Merchant)
	e.Client = strings.TrimSpace(e.Client)
	if !e.IsRecurring {
		e.RecurrenceRule = ""
		e.LastGeneratedDate = nil
	}
	if len(e.TagIDs) > 0 {
		seen := make(map[string]bool, len(e.TagIDs))
		e.TagIDs = slices.DeleteFunc(e.TagIDs, func(id string) bool {
			if seen[id] {
				return true
			}
			seen[id] = true
			return false
		})
	}
}

// CreateCategory saves a new user category. Without an explicit sort order
// it is placed after the existing ones.
func (s *Service) CreateCategory(c *Category) (*Category, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return nil, fmt.Errorf("%w: category name is required", ErrInvalid)
	}

	existing, err := s.db.ListCategories()
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	if c.SortOrder == 0 && len(existing) > 0 {
		last := slices.MaxFunc(existing, func(a, b *Category) int { return cmp.Compare(a.SortOrder, b.SortOrder) })
		c.SortOrder = last.SortOrder + 1
	}
	c.ID = s.idGenerator.Generate()
	c.IsDefault = false

	if err := s.db.SaveCategory(c); err != nil {
		return nil, fmt.Errorf("saving category: %w", err)
	}
	return c, nil
}

// ListCategories returns categories in their manual sort order
func (s *Service) ListCategories() ([]*Category, error) {
	categories, err := s.db.ListCategories()
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	slices.SortFunc(categories, func(a, b *Category) int {
		if c := cmp.Compare(a.SortOrder, b.SortOrder); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return categories, nil
}

// DeleteCategory removes a category. Expenses that used it become
// uncategorized.
func (s *Service) DeleteCategory(id string) error {
	n, err := s.db.DeleteCategories(func(c *Category) bool { return c.ID == id })
	if err != nil {
		return fmt.Errorf("deleting category: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("category %w: %s", ErrNotFound, id)
	}
	return nil
}

// CreateTag saves a new tag
func (s *Service) CreateTag(t *Tag) (*Tag, error) {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return nil, fmt.Errorf("%w: tag name is required", ErrInvalid)
	}
	t.ID = s.idGenerator.Generate()
	if err := s.db.SaveTag(t); err != nil {
		return nil, fmt.Errorf("saving tag: %w", err)
	}
	return t, nil
}

// ListTags returns tags ordered by name
func (s *Service) ListTags() ([]*Tag, error) {
	tags, err := s.db.ListTags()
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	slices.SortFunc(tags, func(a, b *Tag) int { return strings.Compare(a.Name, b.Name) })
	return tags, nil
}

// DeleteTag removes a tag from the store and from every expense
func (s *Service) DeleteTag(id string) error {
	n, err := s.db.DeleteTags(func(t *Tag) bool { return t.ID == id })
	if err != nil {
		return fmt.Errorf("deleting tag: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("tag %w: %s", ErrNotFound, id)
	}
	return nil
}

// EnsureDefaults seeds the built-in categories and the preferences record on
// first run, then applies the stored currency to the formatter
func (s *Service) EnsureDefaults(currencyCode string) (*Preferences, error) {
	var prefs *Preferences
	err := s.db.Update(func(tx Tx) error {
		categories, err := tx.ListCategories()
		if err != nil {
			return err
		}
		if len(categories) == 0 {
			for _, c := range DefaultCategories() {
				if err := tx.SaveCategory(c); err != nil {
					return err
				}
			}
			slog.Info("Seeded default categories")
		}

		prefs, err = tx.GetPreferences()
		if errors.Is(err, ErrNotFound) {
			prefs = &Preferences{CurrencyCode: currencyCode, FeaturedCategoryIDs: []string{}}
			return tx.SavePreferences(prefs)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("seeding defaults: %w", err)
	}

	if err := s.formatter.SetCurrency(prefs.CurrencyCode); err != nil {
		slog.Warn("Ignoring stored currency", "currency", prefs.CurrencyCode, "error", err)
	}
	return prefs, nil
}

// GetPreferences returns the stored preferences
func (s *Service) GetPreferences() (*Preferences, error) {
	prefs, err := s.db.GetPreferences()
	if err != nil {
		return nil, fmt.Errorf("getting preferences: %w", err)
	}
	return prefs, nil
}

// UpdatePreferences stores new preferences and switches the active currency.
// An unknown currency code leaves both unchanged.
func (s *Service) UpdatePreferences(prefs *Preferences) (*Preferences, error) {
	previous := s.formatter.Code()
	if err := s.formatter.SetCurrency(prefs.CurrencyCode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	prefs.CurrencyCode = s.formatter.Code()
	if prefs.FeaturedCategoryIDs == nil {
		prefs.FeaturedCategoryIDs = []string{}
	}

	err := s.db.Update(func(tx Tx) error {
		if current, err := tx.GetPreferences(); err == nil && prefs.LastRecurringGeneration == nil {
			prefs.LastRecurringGeneration = current.LastRecurringGeneration
		}
		return tx.SavePreferences(prefs)
	})
	if err != nil {
		if restoreErr := s.formatter.SetCurrency(previous); restoreErr != nil {
			slog.Warn("Failed to restore currency", "currency", previous, "error", restoreErr)
		}
		return nil, fmt.Errorf("saving preferences: %w", err)
	}
	return prefs, nil
}

// GenerateRecurring creates every recurring occurrence due on or before asOf
// in one transaction and records the run in the preferences. A zero asOf
// means now.
func (s *Service) GenerateRecurring(asOf time.Time) (int, error) {
	if asOf.IsZero() {
		asOf = s.timeSource.Now()
	}

	var generated int
	err := s.db.Update(func(tx Tx) error {
		expenses, err := tx.ListExpenses()
		if err != nil {
			return err
		}
		generated, err = GeneratePending(expenses, tx, asOf, s.idGenerator)
		if err != nil {
			return err
		}

		prefs, err := tx.GetPreferences()
		if errors.Is(err, ErrNotFound) {
			prefs = &Preferences{CurrencyCode: s.formatter.Code(), FeaturedCategoryIDs: []string{}}
		} else if err != nil {
			return err
		}
		prefs.LastRecurringGeneration = &asOf
		return tx.SavePreferences(prefs)
	})
	if err != nil {
		return 0, fmt.Errorf("generating recurring expenses: %w", err)
	}

	if generated > 0 {
		slog.Info("Generated recurring expenses", "count", generated, "as_of", asOf)
	}
	return generated, nil
}
