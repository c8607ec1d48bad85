package expense

import (
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

func ptr[T any](v T) *T {
	return &v
}

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SaveExpense", func() {
		var (
			expense *Expense
			err     error
		)

		BeforeEach(func() {
			expense = &Expense{
				ID:         "test-id",
				Date:       time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
				Amount:     decimal.RequireFromString("25.99"),
				Merchant:   "CVS Pharmacy",
				CategoryID: ptr("food"),
				TagIDs:     []string{"work"},
				CreatedAt:  time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
			}
		})

		JustBeforeEach(func() {
			err = db.SaveExpense(expense)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should store every field", func() {
				saved, getErr := db.GetExpense("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Merchant).To(Equal("CVS Pharmacy"))
				Expect(saved.Amount.Equal(expense.Amount)).To(BeTrue())
				Expect(saved.Date.Equal(expense.Date)).To(BeTrue())
				Expect(*saved.CategoryID).To(Equal("food"))
				Expect(saved.TagIDs).To(Equal([]string{"work"}))
			})
		})

		When("the expense has no ID", func() {
			BeforeEach(func() {
				expense.ID = ""
			})

			It("returns an error", func() {
				Expect(err).To(MatchError(ContainSubstring("empty id")))
			})
		})
	})

	Describe("GetExpense", func() {
		var err error

		JustBeforeEach(func() {
			_, err = db.GetExpense("missing")
		})

		When("expense does not exist", func() {
			It("returns a not found error", func() {
				Expect(err).To(MatchError(ErrNotFound))
				Expect(err.Error()).To(ContainSubstring("missing"))
			})
		})
	})

	Describe("ListExpenses", func() {
		var (
			expenses []*Expense
			err      error
		)

		JustBeforeEach(func() {
			expenses, err = db.ListExpenses()
		})

		When("the store is empty", func() {
			It("returns an empty list", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(expenses).NotTo(BeNil())
				Expect(expenses).To(BeEmpty())
			})
		})

		When("expenses exist", func() {
			BeforeEach(func() {
				Expect(db.SaveExpense(&Expense{ID: "a", Merchant: "A"})).To(Succeed())
				Expect(db.SaveExpense(&Expense{ID: "b", Merchant: "B"})).To(Succeed())
			})

			It("returns all of them", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(expenses).To(HaveLen(2))
			})
		})
	})

	Describe("DeleteExpenses", func() {
		var (
			n   int
			err error
		)

		BeforeEach(func() {
			Expect(db.SaveExpense(&Expense{ID: "a", Merchant: "Keep"})).To(Succeed())
			Expect(db.SaveExpense(&Expense{ID: "b", Merchant: "Drop"})).To(Succeed())
			Expect(db.SaveExpense(&Expense{ID: "c", Merchant: "Drop"})).To(Succeed())
		})

		JustBeforeEach(func() {
			n, err = db.DeleteExpenses(func(e *Expense) bool { return e.Merchant == "Drop" })
		})

		It("removes only the matching expenses", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))
			remaining, listErr := db.ListExpenses()
			Expect(listErr).NotTo(HaveOccurred())
			Expect(remaining).To(HaveLen(1))
			Expect(remaining[0].ID).To(Equal("a"))
		})
	})

	Describe("DeleteCategories", func() {
		BeforeEach(func() {
			Expect(db.SaveCategory(&Category{ID: "food", Name: "Food"})).To(Succeed())
			Expect(db.SaveCategory(&Category{ID: "hotel", Name: "Hotel"})).To(Succeed())
			Expect(db.SaveExpense(&Expense{ID: "lunch", CategoryID: ptr("food")})).To(Succeed())
			Expect(db.SaveExpense(&Expense{ID: "stay", CategoryID: ptr("hotel")})).To(Succeed())
		})

		It("clears the category of expenses that used it", func() {
			n, err := db.DeleteCategories(func(c *Category) bool { return c.ID == "food" })
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			lunch, err := db.GetExpense("lunch")
			Expect(err).NotTo(HaveOccurred())
			Expect(lunch.CategoryID).To(BeNil())

			stay, err := db.GetExpense("stay")
			Expect(err).NotTo(HaveOccurred())
			Expect(*stay.CategoryID).To(Equal("hotel"))
		})

		It("reports zero when nothing matches", func() {
			n, err := db.DeleteCategories(func(c *Category) bool { return c.ID == "nope" })
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})
	})

	Describe("DeleteTags", func() {
		BeforeEach(func() {
			Expect(db.SaveTag(&Tag{ID: "work", Name: "Work"})).To(Succeed())
			Expect(db.SaveTag(&Tag{ID: "trip", Name: "Trip"})).To(Succeed())
			Expect(db.SaveExpense(&Expense{ID: "lunch", TagIDs: []string{"work", "trip"}})).To(Succeed())
		})

		It("removes the tag from every expense", func() {
			n, err := db.DeleteTags(func(t *Tag) bool { return t.ID == "work" })
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			lunch, err := db.GetExpense("lunch")
			Expect(err).NotTo(HaveOccurred())
			Expect(lunch.TagIDs).To(Equal([]string{"trip"}))

			tags, err := db.ListTags()
			Expect(err).NotTo(HaveOccurred())
			Expect(tags).To(HaveLen(1))
		})
	})

	Describe("Preferences", func() {
		It("returns not found before any are saved", func() {
			_, err := db.GetPreferences()
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("round trips the record", func() {
			Expect(db.SavePreferences(&Preferences{CurrencyCode: "EUR", FeaturedCategoryIDs: []string{"food"}})).To(Succeed())
			prefs, err := db.GetPreferences()
			Expect(err).NotTo(HaveOccurred())
			Expect(prefs.CurrencyCode).To(Equal("EUR"))
			Expect(prefs.FeaturedCategoryIDs).To(Equal([]string{"food"}))
		})

		It("can be deleted", func() {
			Expect(db.SavePreferences(&Preferences{CurrencyCode: "EUR"})).To(Succeed())
			Expect(db.DeletePreferences()).To(Succeed())
			_, err := db.GetPreferences()
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("Update", func() {
		It("commits every write when fn succeeds", func() {
			err := db.Update(func(tx Tx) error {
				if err := tx.SaveTag(&Tag{ID: "t1", Name: "One"}); err != nil {
					return err
				}
				return tx.SaveTag(&Tag{ID: "t2", Name: "Two"})
			})
			Expect(err).NotTo(HaveOccurred())
			tags, _ := db.ListTags()
			Expect(tags).To(HaveLen(2))
		})

		It("rolls back every write when fn fails", func() {
			failure := errors.New("boom")
			err := db.Update(func(tx Tx) error {
				if err := tx.SaveTag(&Tag{ID: "t1", Name: "One"}); err != nil {
					return err
				}
				return failure
			})
			Expect(err).To(MatchError(failure))
			tags, _ := db.ListTags()
			Expect(tags).To(BeEmpty())
		})
	})

	Describe("LoadIndex", func() {
		It("resolves categories and tags", func() {
			Expect(db.SaveCategory(&Category{ID: "food", Name: "Food"})).To(Succeed())
			Expect(db.SaveTag(&Tag{ID: "work", Name: "Work"})).To(Succeed())

			ix, err := db.LoadIndex()
			Expect(err).NotTo(HaveOccurred())

			e := &Expense{CategoryID: ptr("food"), TagIDs: []string{"work", "gone"}}
			Expect(CategoryName(ix, e)).To(Equal("Food"))
			Expect(TagNames(ix, e)).To(Equal([]string{"Work"}))
		})

		It("names dangling references Uncategorized", func() {
			ix, err := db.LoadIndex()
			Expect(err).NotTo(HaveOccurred())
			Expect(CategoryName(ix, &Expense{CategoryID: ptr("gone")})).To(Equal(Uncategorized))
			Expect(CategoryName(ix, &Expense{})).To(Equal(Uncategorized))
		})
	})

	Describe("reopening", func() {
		It("keeps saved data", func() {
			Expect(db.SaveTag(&Tag{ID: "work", Name: "Work"})).To(Succeed())
			Expect(db.Close()).To(Succeed())

			var err error
			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())
			tags, err := db.ListTags()
			Expect(err).NotTo(HaveOccurred())
			Expect(tags).To(HaveLen(1))
		})
	})
})
