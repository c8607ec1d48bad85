// Package backup snapshots the expense store and receipt images into plain
// JSON directories and restores them.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zombor/expense-reports/internal/expense"
	"github.com/zombor/expense-reports/internal/money"
)

const (
	manifestFile    = "manifest.json"
	categoriesFile  = "categories.json"
	tagsFile        = "tags.json"
	expensesFile    = "expenses.json"
	preferencesFile = "preferences.json"

	maxSameSecond = 100
)

var (
	// ErrManifestNotFound is returned when restoring a directory with no manifest
	ErrManifestNotFound = errors.New("backup manifest not found")
	// ErrBackupNotFound is returned for an unknown backup id
	ErrBackupNotFound = errors.New("backup not found")
)

// ReceiptStore resolves stored receipt paths relative to the documents root
type ReceiptStore interface {
	Path(rel string) (string, error)
}

// Info summarizes one backup on disk
type Info struct {
	ID           string    `json:"id"`
	Path         string    `json:"-"`
	Date         time.Time `json:"date"`
	ExpenseCount int       `json:"expense_count"`
	Size         int64     `json:"size"`
}

// Manager creates, lists, restores and deletes backups under a directory
type Manager struct {
	dir       string
	prefix    string
	db        expense.DB
	receipts  ReceiptStore
	formatter *money.Formatter
	now       func() time.Time
}

// NewManager creates a Manager storing backups in dir
func NewManager(dir, prefix string, db expense.DB, receipts ReceiptStore, formatter *money.Formatter) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}
	if prefix == "" {
		prefix = "Expenses"
	}
	return &Manager{
		dir:       dir,
		prefix:    prefix,
		db:        db,
		receipts:  receipts,
		formatter: formatter,
		now:       time.Now,
	}, nil
}

type snapshot struct {
	categories []*expense.Category
	tags       []*expense.Tag
	expenses   []*expense.Expense
	prefs      *expense.Preferences
}

// Create writes a new backup and returns its summary
func (m *Manager) Create() (*Info, error) {
	var snap snapshot
	err := m.db.View(func(r expense.Reader) error {
		var err error
		if snap.categories, err = r.ListCategories(); err != nil {
			return err
		}
		if snap.tags, err = r.ListTags(); err != nil {
			return err
		}
		if snap.expenses, err = r.ListExpenses(); err != nil {
			return err
		}
		snap.prefs, err = r.GetPreferences()
		if errors.Is(err, expense.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reading store: %w", err)
	}

	now := m.now().UTC()
	id, path, err := m.mkdir(m.prefix + "_" + strings.ReplaceAll(now.Format(time.RFC3339), ":", "-"))
	if err != nil {
		return nil, err
	}

	if err := m.write(path, now, snap); err != nil {
		if rmErr := os.RemoveAll(path); rmErr != nil {
			slog.Warn("Failed to remove partial backup", "path", path, "error", rmErr)
		}
		return nil, err
	}

	slog.Info("Created backup", "id", id, "expenses", len(snap.expenses))
	return &Info{
		ID:           id,
		Path:         path,
		Date:         now.Truncate(time.Second),
		ExpenseCount: len(snap.expenses),
		Size:         directorySize(path),
	}, nil
}

// mkdir creates the directory for a new backup named base. Backups taken
// within the same second get a numeric suffix: base-2, base-3 and so on.
func (m *Manager) mkdir(base string) (string, string, error) {
	for n := 1; n <= maxSameSecond; n++ {
		id := base
		if n > 1 {
			id = base + "-" + strconv.Itoa(n)
		}
		path := filepath.Join(m.dir, id)
		err := os.Mkdir(path, 0755)
		if err == nil {
			return id, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", "", fmt.Errorf("creating backup %s: %w", id, err)
		}
	}
	return "", "", fmt.Errorf("creating backup %s: too many backups in the same second", base)
}

func (m *Manager) write(path string, now time.Time, snap snapshot) error {
	categories := make([]categoryDTO, len(snap.categories))
	for i, c := range snap.categories {
		categories[i] = fromCategory(c)
	}
	tags := make([]tagDTO, len(snap.tags))
	for i, t := range snap.tags {
		tags[i] = fromTag(t)
	}
	expenses := make([]expenseDTO, len(snap.expenses))
	for i, e := range snap.expenses {
		expenses[i] = fromExpense(e)
	}

	files := map[string]any{
		categoriesFile: categories,
		tagsFile:       tags,
		expensesFile:   expenses,
		manifestFile: Manifest{
			CategoryCount: len(categories),
			CreatedAt:     Timestamp(now),
			ExpenseCount:  len(expenses),
			TagCount:      len(tags),
			Version:       Version,
		},
	}
	if snap.prefs != nil {
		files[preferencesFile] = fromPreferences(snap.prefs)
	}
	for name, v := range files {
		if err := writeJSON(filepath.Join(path, name), v); err != nil {
			return err
		}
	}

	receiptsDir := filepath.Join(path, expense.ReceiptsDir)
	if err := os.Mkdir(receiptsDir, 0755); err != nil {
		return fmt.Errorf("creating receipts directory: %w", err)
	}
	for _, e := range snap.expenses {
		if e.ReceiptImagePath == "" {
			continue
		}
		src, err := m.receipts.Path(e.ReceiptImagePath)
		if err != nil {
			slog.Warn("Skipping receipt outside the documents directory", "path", e.ReceiptImagePath)
			continue
		}
		dst := filepath.Join(receiptsDir, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("copying receipt %s: %w", e.ReceiptImagePath, err)
		}
	}
	return nil
}

// List returns every readable backup, newest first
func (m *Manager) List() ([]*Info, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	backups := make([]*Info, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(m.dir, entry.Name())
		var manifest Manifest
		if err := readJSON(filepath.Join(path, manifestFile), &manifest); err != nil {
			slog.Debug("Skipping directory without a readable manifest", "path", path, "error", err)
			continue
		}
		backups = append(backups, &Info{
			ID:           entry.Name(),
			Path:         path,
			Date:         manifest.CreatedAt.Time(),
			ExpenseCount: manifest.ExpenseCount,
			Size:         directorySize(path),
		})
	}

	sort.SliceStable(backups, func(i, j int) bool {
		a, b := backups[i], backups[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		// same second: the higher suffix is newer
		if len(a.ID) != len(b.ID) {
			return len(a.ID) > len(b.ID)
		}
		return a.ID > b.ID
	})
	return backups, nil
}

// Restore replaces every stored record with the contents of a backup, applies
// its currency and copies its receipts back into the documents directory
func (m *Manager) Restore(id string) error {
	path, err := m.resolve(id)
	if err != nil {
		return err
	}

	var manifest Manifest
	if err := readJSON(filepath.Join(path, manifestFile), &manifest); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrManifestNotFound, id)
		}
		return fmt.Errorf("reading manifest: %w", err)
	}
	if manifest.Version > Version {
		slog.Warn("Restoring a backup written by a newer version", "id", id, "version", manifest.Version)
	}

	var (
		categories []categoryDTO
		tags       []tagDTO
		expenses   []expenseDTO
		prefs      *preferencesDTO
	)
	for name, v := range map[string]any{categoriesFile: &categories, tagsFile: &tags, expensesFile: &expenses} {
		if err := readJSON(filepath.Join(path, name), v); err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
	}
	if err := readJSON(filepath.Join(path, preferencesFile), &prefs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", preferencesFile, err)
	}

	err = m.db.Update(func(tx expense.Tx) error {
		return replaceAll(tx, categories, tags, expenses, prefs)
	})
	if err != nil {
		return fmt.Errorf("importing backup: %w", err)
	}

	if prefs != nil && m.formatter != nil {
		if err := m.formatter.SetCurrency(prefs.CurrencyCode); err != nil {
			slog.Warn("Backup currency not applied", "currency", prefs.CurrencyCode, "error", err)
		}
	}

	m.restoreReceipts(filepath.Join(path, expense.ReceiptsDir))
	slog.Info("Restored backup", "id", id, "expenses", len(expenses))
	return nil
}

func replaceAll(tx expense.Tx, categories []categoryDTO, tags []tagDTO, expenses []expenseDTO, prefs *preferencesDTO) error {
	if _, err := tx.DeleteExpenses(func(*expense.Expense) bool { return true }); err != nil {
		return err
	}
	if _, err := tx.DeleteCategories(func(*expense.Category) bool { return true }); err != nil {
		return err
	}
	if _, err := tx.DeleteTags(func(*expense.Tag) bool { return true }); err != nil {
		return err
	}
	if err := tx.DeletePreferences(); err != nil {
		return err
	}

	knownCategories := make(map[string]bool, len(categories))
	for _, d := range categories {
		if err := tx.SaveCategory(d.model()); err != nil {
			return err
		}
		knownCategories[d.ID] = true
	}
	knownTags := make(map[string]bool, len(tags))
	for _, d := range tags {
		if err := tx.SaveTag(d.model()); err != nil {
			return err
		}
		knownTags[d.ID] = true
	}
	for _, d := range expenses {
		e, err := d.model(knownCategories, knownTags)
		if err != nil {
			slog.Warn("Restoring expense with a zero amount", "error", err)
			bad := d
			bad.Amount = "0"
			if e, err = bad.model(knownCategories, knownTags); err != nil {
				return err
			}
		}
		if err := tx.SaveExpense(e); err != nil {
			return err
		}
	}
	if prefs != nil {
		return tx.SavePreferences(prefs.model())
	}
	return nil
}

func (m *Manager) restoreReceipts(src string) {
	entries, err := os.ReadDir(src)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		dst, err := m.receipts.Path(expense.ReceiptsDir + "/" + entry.Name())
		if err != nil {
			slog.Warn("Skipping receipt with an invalid name", "name", entry.Name())
			continue
		}
		if err := copyFile(filepath.Join(src, entry.Name()), dst); err != nil {
			slog.Warn("Failed to restore receipt", "name", entry.Name(), "error", err)
		}
	}
}

// Delete removes a backup
func (m *Manager) Delete(id string) error {
	path, err := m.resolve(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("deleting backup %s: %w", id, err)
	}
	return nil
}

// resolve maps a backup id to its directory
func (m *Manager) resolve(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || !filepath.IsLocal(id) {
		return "", fmt.Errorf("%w: %q", ErrBackupNotFound, id)
	}
	path := filepath.Join(m.dir, id)
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrBackupNotFound, id)
	}
	return path, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func directorySize(root string) int64 {
	var total int64
	filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
