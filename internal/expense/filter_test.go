package expense

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Filter", func() {
	var (
		lunch    *Expense
		hotel    *Expense
		template *Expense
		all      []*Expense
	)

	BeforeEach(func() {
		lunch = &Expense{
			ID:         "lunch",
			Date:       time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
			Merchant:   "Chipotle",
			Client:     "Acme",
			CategoryID: ptr("food"),
			TagIDs:     []string{"work"},
		}
		hotel = &Expense{
			ID:       "hotel",
			Date:     time.Date(2024, 3, 31, 23, 59, 0, 0, time.UTC),
			Merchant: "Hilton",
			Notes:    "conference stay",
			TagIDs:   []string{"trip"},
		}
		template = &Expense{
			ID:             "tmpl",
			Date:           time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
			Merchant:       "Gym",
			IsRecurring:    true,
			RecurrenceRule: Monthly,
		}
		all = []*Expense{hotel, template, lunch}
	})

	It("matches everything but templates when empty", func() {
		Expect(Filter{}.Apply(all)).To(Equal([]*Expense{lunch, hotel}))
	})

	It("keeps templates on request", func() {
		Expect(Filter{IncludeTemplates: true}.Apply(all)).To(HaveLen(3))
	})

	It("treats the date range as whole days", func() {
		f := Filter{
			Start: time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		}
		Expect(f.Apply(all)).To(Equal([]*Expense{lunch, hotel}))
	})

	It("excludes expenses outside the range", func() {
		f := Filter{
			Start: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 3, 30, 0, 0, 0, 0, time.UTC),
		}
		Expect(f.Apply(all)).To(BeEmpty())
	})

	It("matches any listed category", func() {
		Expect(Filter{CategoryIDs: []string{"food", "parking"}}.Apply(all)).To(Equal([]*Expense{lunch}))
	})

	It("never matches uncategorized expenses by category", func() {
		Expect(Filter{CategoryIDs: []string{"hotel"}}.Apply(all)).To(BeEmpty())
	})

	It("matches any listed tag", func() {
		Expect(Filter{TagIDs: []string{"trip", "other"}}.Apply(all)).To(Equal([]*Expense{hotel}))
	})

	DescribeTable("searches text fields case-insensitively",
		func(query string, want string) {
			matched := Filter{Query: query}.Apply(all)
			Expect(matched).To(HaveLen(1))
			Expect(matched[0].ID).To(Equal(want))
		},
		Entry("merchant", "chipotle", "lunch"),
		Entry("client", "ACME", "lunch"),
		Entry("notes", "Conference", "hotel"),
	)

	It("orders by date then ID", func() {
		twin := &Expense{ID: "a-twin", Date: lunch.Date}
		matched := Filter{}.Apply([]*Expense{lunch, twin})
		Expect(matched[0].ID).To(Equal("a-twin"))
	})
})
