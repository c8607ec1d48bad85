package expense

// Uncategorized is the display name for expenses without a category
const Uncategorized = "Uncategorized"

// Lookup resolves the category and tag references held by an Expense
type Lookup interface {
	Category(id string) (*Category, bool)
	Tag(id string) (*Tag, bool)
}

// Index is an in-memory Lookup over a snapshot of categories and tags
type Index struct {
	categories map[string]*Category
	tags       map[string]*Tag
}

// NewIndex builds an Index from category and tag lists
func NewIndex(categories []*Category, tags []*Tag) *Index {
	ix := &Index{
		categories: make(map[string]*Category, len(categories)),
		tags:       make(map[string]*Tag, len(tags)),
	}
	for _, c := range categories {
		ix.categories[c.ID] = c
	}
	for _, t := range tags {
		ix.tags[t.ID] = t
	}
	return ix
}

// Category returns the category with the given ID
func (ix *Index) Category(id string) (*Category, bool) {
	if ix == nil {
		return nil, false
	}
	c, ok := ix.categories[id]
	return c, ok
}

// Tag returns the tag with the given ID
func (ix *Index) Tag(id string) (*Tag, bool) {
	if ix == nil {
		return nil, false
	}
	t, ok := ix.tags[id]
	return t, ok
}

// CategoryOf resolves an expense's category. A missing reference or a
// dangling ID both report false.
func CategoryOf(l Lookup, e *Expense) (*Category, bool) {
	if l == nil || e.CategoryID == nil {
		return nil, false
	}
	return l.Category(*e.CategoryID)
}

// CategoryName returns the expense's category name or Uncategorized
func CategoryName(l Lookup, e *Expense) string {
	if c, ok := CategoryOf(l, e); ok {
		return c.Name
	}
	return Uncategorized
}

// TagNames returns the names of an expense's tags in stored order. Tags that
// no longer exist are skipped.
func TagNames(l Lookup, e *Expense) []string {
	names := make([]string, 0, len(e.TagIDs))
	if l == nil {
		return names
	}
	for _, id := range e.TagIDs {
		if t, ok := l.Tag(id); ok {
			names = append(names, t.Name)
		}
	}
	return names
}
