package expense

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.etcd.io/bbolt"
)

const (
	expenseBucket     = "expenses"
	categoryBucket    = "categories"
	tagBucket         = "tags"
	preferencesBucket = "preferences"

	preferencesKey = "preferences"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// Reader defines the read operations of the object store
type Reader interface {
	// GetExpense retrieves an expense by ID
	GetExpense(id string) (*Expense, error)

	// ListExpenses returns all expenses, templates included
	ListExpenses() ([]*Expense, error)

	// GetCategory retrieves a category by ID
	GetCategory(id string) (*Category, error)

	// ListCategories returns all categories
	ListCategories() ([]*Category, error)

	// ListTags returns all tags
	ListTags() ([]*Tag, error)

	// GetPreferences returns the preferences record
	GetPreferences() (*Preferences, error)
}

// Writer defines the write operations of the object store
type Writer interface {
	// SaveExpense inserts or replaces an expense
	SaveExpense(expense *Expense) error

	// DeleteExpenses removes every expense match accepts and returns how many
	DeleteExpenses(match func(*Expense) bool) (int, error)

	// SaveCategory inserts or replaces a category
	SaveCategory(category *Category) error

	// DeleteCategories removes matching categories and clears the category
	// reference of expenses that used them
	DeleteCategories(match func(*Category) bool) (int, error)

	// SaveTag inserts or replaces a tag
	SaveTag(tag *Tag) error

	// DeleteTags removes matching tags and detaches them from expenses
	DeleteTags(match func(*Tag) bool) (int, error)

	// SavePreferences replaces the preferences record
	SavePreferences(prefs *Preferences) error

	// DeletePreferences removes the preferences record
	DeletePreferences() error
}

// Tx is the view of the store inside a single transaction
type Tx interface {
	Reader
	Writer
}

// DB defines the interface for database operations. Every method on DB runs
// in its own transaction; Update groups several into one commit.
type DB interface {
	Tx

	// View runs fn in a single read-only transaction
	View(fn func(r Reader) error) error

	// Update runs fn in a single read-write transaction. Writes are committed
	// only if fn returns nil. Only one Update runs at a time.
	Update(fn func(tx Tx) error) error

	// LoadIndex snapshots categories and tags for reference lookups
	LoadIndex() (*Index, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{expenseBucket, categoryBucket, tagBucket, preferencesBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// View runs fn against a consistent snapshot of the store
func (b *BoltDB) View(fn func(r Reader) error) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		return fn(boltTx{tx: tx})
	})
}

// Update runs fn in a single read-write transaction
func (b *BoltDB) Update(fn func(tx Tx) error) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return fn(boltTx{tx: tx})
	})
}

func (b *BoltDB) view(fn func(t boltTx) error) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		return fn(boltTx{tx: tx})
	})
}

func (b *BoltDB) update(fn func(t boltTx) error) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return fn(boltTx{tx: tx})
	})
}

// GetExpense retrieves an expense by ID
func (b *BoltDB) GetExpense(id string) (expense *Expense, err error) {
	err = b.view(func(t boltTx) error {
		expense, err = t.GetExpense(id)
		return err
	})
	return expense, err
}

// ListExpenses returns all expenses
func (b *BoltDB) ListExpenses() (expenses []*Expense, err error) {
	err = b.view(func(t boltTx) error {
		expenses, err = t.ListExpenses()
		return err
	})
	return expenses, err
}

// GetCategory retrieves a category by ID
func (b *BoltDB) GetCategory(id string) (category *Category, err error) {
	err = b.view(func(t boltTx) error {
		category, err = t.GetCategory(id)
		return err
	})
	return category, err
}

// ListCategories returns all categories
func (b *BoltDB) ListCategories() (categories []*Category, err error) {
	err = b.view(func(t boltTx) error {
		categories, err = t.ListCategories()
		return err
	})
	return categories, err
}

// ListTags returns all tags
func (b *BoltDB) ListTags() (tags []*Tag, err error) {
	err = b.view(func(t boltTx) error {
		tags, err = t.ListTags()
		return err
	})
	return tags, err
}

// GetPreferences returns the preferences record
func (b *BoltDB) GetPreferences() (prefs *Preferences, err error) {
	err = b.view(func(t boltTx) error {
		prefs, err = t.GetPreferences()
		return err
	})
	return prefs, err
}

// LoadIndex snapshots categories and tags in one read transaction
func (b *BoltDB) LoadIndex() (*Index, error) {
	var ix *Index
	err := b.view(func(t boltTx) error {
		categories, err := t.ListCategories()
		if err != nil {
			return err
		}
		tags, err := t.ListTags()
		if err != nil {
			return err
		}
		ix = NewIndex(categories, tags)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ix, nil
}

// SaveExpense saves an expense to the database
func (b *BoltDB) SaveExpense(expense *Expense) error {
	return b.update(func(t boltTx) error { return t.SaveExpense(expense) })
}

// DeleteExpenses removes matching expenses
func (b *BoltDB) DeleteExpenses(match func(*Expense) bool) (n int, err error) {
	err = b.update(func(t boltTx) error {
		n, err = t.DeleteExpenses(match)
		return err
	})
	return n, err
}

// SaveCategory saves a category to the database
func (b *BoltDB) SaveCategory(category *Category) error {
	return b.update(func(t boltTx) error { return t.SaveCategory(category) })
}

// DeleteCategories removes matching categories
func (b *BoltDB) DeleteCategories(match func(*Category) bool) (n int, err error) {
	err = b.update(func(t boltTx) error {
		n, err = t.DeleteCategories(match)
		return err
	})
	return n, err
}

// SaveTag saves a tag to the database
func (b *BoltDB) SaveTag(tag *Tag) error {
	return b.update(func(t boltTx) error { return t.SaveTag(tag) })
}

// DeleteTags removes matching tags
func (b *BoltDB) DeleteTags(match func(*Tag) bool) (n int, err error) {
	err = b.update(func(t boltTx) error {
		n, err = t.DeleteTags(match)
		return err
	})
	return n, err
}

// SavePreferences replaces the preferences record
func (b *BoltDB) SavePreferences(prefs *Preferences) error {
	return b.update(func(t boltTx) error { return t.SavePreferences(prefs) })
}

// DeletePreferences removes the preferences record
func (b *BoltDB) DeletePreferences() error {
	return b.update(func(t boltTx) error { return t.DeletePreferences() })
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// boltTx implements Tx on top of an open bbolt transaction
type boltTx struct {
	tx *bbolt.Tx
}

func (t boltTx) GetExpense(id string) (*Expense, error) {
	return get[Expense](t.tx, expenseBucket, id, "expense")
}

func (t boltTx) ListExpenses() ([]*Expense, error) {
	return list[Expense](t.tx, expenseBucket)
}

func (t boltTx) GetCategory(id string) (*Category, error) {
	return get[Category](t.tx, categoryBucket, id, "category")
}

func (t boltTx) ListCategories() ([]*Category, error) {
	return list[Category](t.tx, categoryBucket)
}

func (t boltTx) ListTags() ([]*Tag, error) {
	return list[Tag](t.tx, tagBucket)
}

func (t boltTx) GetPreferences() (*Preferences, error) {
	return get[Preferences](t.tx, preferencesBucket, preferencesKey, "preferences")
}

func (t boltTx) SaveExpense(expense *Expense) error {
	return put(t.tx, expenseBucket, expense.ID, expense)
}

func (t boltTx) DeleteExpenses(match func(*Expense) bool) (int, error) {
	deleted, err := deleteWhere(t.tx, expenseBucket, match, func(e *Expense) string { return e.ID })
	return len(deleted), err
}

func (t boltTx) SaveCategory(category *Category) error {
	return put(t.tx, categoryBucket, category.ID, category)
}

func (t boltTx) DeleteCategories(match func(*Category) bool) (int, error) {
	deleted, err := deleteWhere(t.tx, categoryBucket, match, func(c *Category) string { return c.ID })
	if err != nil || len(deleted) == 0 {
		return len(deleted), err
	}

	removed := make(map[string]bool, len(deleted))
	for _, c := range deleted {
		removed[c.ID] = true
	}
	err = t.rewriteExpenses(func(e *Expense) bool {
		if e.CategoryID == nil || !removed[*e.CategoryID] {
			return false
		}
		e.CategoryID = nil
		return true
	})
	return len(deleted), err
}

func (t boltTx) SaveTag(tag *Tag) error {
	return put(t.tx, tagBucket, tag.ID, tag)
}

func (t boltTx) DeleteTags(match func(*Tag) bool) (int, error) {
	deleted, err := deleteWhere(t.tx, tagBucket, match, func(tag *Tag) string { return tag.ID })
	if err != nil || len(deleted) == 0 {
		return len(deleted), err
	}

	removed := make(map[string]bool, len(deleted))
	for _, tag := range deleted {
		removed[tag.ID] = true
	}
	err = t.rewriteExpenses(func(e *Expense) bool {
		kept := slices.DeleteFunc(slices.Clone(e.TagIDs), func(id string) bool { return removed[id] })
		if len(kept) == len(e.TagIDs) {
			return false
		}
		e.TagIDs = kept
		return true
	})
	return len(deleted), err
}

func (t boltTx) SavePreferences(prefs *Preferences) error {
	return put(t.tx, preferencesBucket, preferencesKey, prefs)
}

func (t boltTx) DeletePreferences() error {
	return t.tx.Bucket([]byte(preferencesBucket)).Delete([]byte(preferencesKey))
}

// rewriteExpenses saves every expense that change modifies
func (t boltTx) rewriteExpenses(change func(*Expense) bool) error {
	expenses, err := t.ListExpenses()
	if err != nil {
		return err
	}
	for _, e := range expenses {
		if !change(e) {
			continue
		}
		if err := t.SaveExpense(e); err != nil {
			return err
		}
	}
	return nil
}

func put(tx *bbolt.Tx, bucket, id string, v any) error {
	if id == "" {
		return fmt.Errorf("saving to %s: empty id", bucket)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s record: %w", bucket, err)
	}
	return tx.Bucket([]byte(bucket)).Put([]byte(id), data)
}

func get[T any](tx *bbolt.Tx, bucket, id, kind string) (*T, error) {
	data := tx.Bucket([]byte(bucket)).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%s %w: %s", kind, ErrNotFound, id)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshaling %s: %w", kind, err)
	}
	return &v, nil
}

func list[T any](tx *bbolt.Tx, bucket string) ([]*T, error) {
	items := make([]*T, 0)
	err := tx.Bucket([]byte(bucket)).ForEach(func(k, v []byte) error {
		var item T
		if err := json.Unmarshal(v, &item); err != nil {
			return fmt.Errorf("unmarshaling %s record %s: %w", bucket, k, err)
		}
		items = append(items, &item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// deleteWhere removes matching records. Keys are collected first because
// bbolt does not allow mutating a bucket while iterating it.
func deleteWhere[T any](tx *bbolt.Tx, bucket string, match func(*T) bool, key func(*T) string) ([]*T, error) {
	items, err := list[T](tx, bucket)
	if err != nil {
		return nil, err
	}
	b := tx.Bucket([]byte(bucket))
	deleted := make([]*T, 0)
	for _, item := range items {
		if !match(item) {
			continue
		}
		if err := b.Delete([]byte(key(item))); err != nil {
			return nil, fmt.Errorf("deleting from %s: %w", bucket, err)
		}
		deleted = append(deleted, item)
	}
	return deleted, nil
}
