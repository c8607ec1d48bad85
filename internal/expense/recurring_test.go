package expense

import (
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

// sequenceIDs hands out gen-1, gen-2, ...
type sequenceIDs struct {
	n int
}

func (s *sequenceIDs) Generate() string {
	s.n++
	return fmt.Sprintf("gen-%d", s.n)
}

// recordingWriter is a Writer that keeps saved expenses in memory
type recordingWriter struct {
	Writer
	saved   []*Expense
	saveErr error
}

func (w *recordingWriter) SaveExpense(e *Expense) error {
	if w.saveErr != nil {
		return w.saveErr
	}
	w.saved = append(w.saved, e)
	return nil
}

func (w *recordingWriter) generated() []*Expense {
	out := make([]*Expense, 0)
	for _, e := range w.saved {
		if !e.IsRecurring {
			out = append(out, e)
		}
	}
	return out
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var _ = Describe("RecurrenceRule", func() {
	DescribeTable("Next",
		func(rule RecurrenceRule, from, want time.Time) {
			next, ok := rule.Next(from)
			Expect(ok).To(BeTrue())
			Expect(next).To(Equal(want))
		},
		Entry("weekly", Weekly, day(2024, 1, 15), day(2024, 1, 22)),
		Entry("monthly", Monthly, day(2024, 1, 15), day(2024, 2, 15)),
		Entry("monthly from the 31st clamps in a leap year", Monthly, day(2024, 1, 31), day(2024, 2, 29)),
		Entry("monthly from the 31st clamps", Monthly, day(2023, 1, 31), day(2023, 2, 28)),
		Entry("monthly across a year end", Monthly, day(2023, 12, 10), day(2024, 1, 10)),
		Entry("monthly into a 30 day month", Monthly, day(2024, 3, 31), day(2024, 4, 30)),
		Entry("yearly", Yearly, day(2023, 6, 1), day(2024, 6, 1)),
		Entry("yearly from a leap day clamps", Yearly, day(2024, 2, 29), day(2025, 2, 28)),
	)

	It("keeps the time of day", func() {
		next, _ := Monthly.Next(time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC))
		Expect(next).To(Equal(time.Date(2024, 2, 15, 9, 30, 0, 0, time.UTC)))
	})

	It("rejects unknown rules", func() {
		_, ok := RecurrenceRule("daily").Next(day(2024, 1, 1))
		Expect(ok).To(BeFalse())
		Expect(RecurrenceRule("daily").Valid()).To(BeFalse())
	})
})

var _ = Describe("GeneratePending", func() {
	var (
		templates []*Expense
		template  *Expense
		writer    *recordingWriter
		asOf      time.Time
		count     int
		err       error
	)

	BeforeEach(func() {
		template = &Expense{
			ID:                "tmpl",
			Date:              day(2024, 1, 15),
			Amount:            decimal.RequireFromString("49.99"),
			Merchant:          "Gym",
			Client:            "Self",
			Notes:             "membership",
			CategoryID:        ptr("health"),
			TagIDs:            []string{"fixed"},
			CreatedAt:         day(2024, 1, 15),
			IsRecurring:       true,
			RecurrenceRule:    Monthly,
			LastGeneratedDate: ptr(day(2024, 1, 15)),
		}
		templates = []*Expense{template}
		writer = &recordingWriter{}
		asOf = day(2024, 3, 15)
	})

	JustBeforeEach(func() {
		count, err = GeneratePending(templates, writer, asOf, &sequenceIDs{})
	})

	When("a monthly template is two months behind", func() {
		It("generates exactly two expenses", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(2))
			Expect(writer.generated()).To(HaveLen(2))
		})

		It("dates them one month apart", func() {
			generated := writer.generated()
			Expect(generated[0].Date).To(Equal(day(2024, 2, 15)))
			Expect(generated[1].Date).To(Equal(day(2024, 3, 15)))
		})

		It("advances the last generated date to the as-of date", func() {
			Expect(*template.LastGeneratedDate).To(Equal(asOf))
			Expect(writer.saved[len(writer.saved)-1]).To(BeIdenticalTo(template))
		})

		It("copies the template into non-recurring expenses", func() {
			for _, e := range writer.generated() {
				Expect(e.Merchant).To(Equal("Gym"))
				Expect(e.Client).To(Equal("Self"))
				Expect(e.Notes).To(Equal("membership"))
				Expect(e.Amount.Equal(template.Amount)).To(BeTrue())
				Expect(*e.CategoryID).To(Equal("health"))
				Expect(e.TagIDs).To(Equal([]string{"fixed"}))
				Expect(e.IsRecurring).To(BeFalse())
				Expect(e.RecurrenceRule).To(BeEmpty())
				Expect(e.LastGeneratedDate).To(BeNil())
				Expect(e.ReceiptImagePath).To(BeEmpty())
			}
		})

		It("gives each expense a fresh ID", func() {
			generated := writer.generated()
			Expect(generated[0].ID).To(Equal("gen-1"))
			Expect(generated[1].ID).To(Equal("gen-2"))
		})

		It("does not share references with the template", func() {
			generated := writer.generated()
			Expect(generated[0].CategoryID).NotTo(BeIdenticalTo(template.CategoryID))
			generated[0].TagIDs[0] = "changed"
			Expect(template.TagIDs).To(Equal([]string{"fixed"}))
		})
	})

	When("the template is up to date", func() {
		BeforeEach(func() {
			template.LastGeneratedDate = ptr(day(2024, 3, 1))
		})

		It("generates nothing", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(BeZero())
			Expect(writer.saved).To(BeEmpty())
		})
	})

	When("the entry is not recurring", func() {
		BeforeEach(func() {
			template.IsRecurring = false
		})

		It("skips it", func() {
			Expect(count).To(BeZero())
			Expect(writer.saved).To(BeEmpty())
		})
	})

	When("the rule is unknown", func() {
		BeforeEach(func() {
			template.RecurrenceRule = "fortnightly"
		})

		It("generates nothing without failing", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(BeZero())
		})
	})

	When("the template was never generated", func() {
		BeforeEach(func() {
			template.LastGeneratedDate = nil
			template.RecurrenceRule = Weekly
			template.CreatedAt = day(2024, 3, 1)
		})

		It("counts from the creation date", func() {
			Expect(count).To(Equal(2))
			generated := writer.generated()
			Expect(generated[0].Date).To(Equal(day(2024, 3, 8)))
			Expect(generated[1].Date).To(Equal(day(2024, 3, 15)))
		})
	})

	When("a weekly template is three weeks behind", func() {
		BeforeEach(func() {
			template.RecurrenceRule = Weekly
			template.LastGeneratedDate = ptr(day(2024, 2, 20))
			asOf = day(2024, 3, 13)
		})

		It("generates three expenses", func() {
			Expect(count).To(Equal(3))
			Expect(*template.LastGeneratedDate).To(Equal(day(2024, 3, 12)))
		})
	})

	When("a yearly template is two years behind", func() {
		BeforeEach(func() {
			template.RecurrenceRule = Yearly
			template.LastGeneratedDate = ptr(day(2022, 3, 15))
		})

		It("generates two expenses", func() {
			Expect(count).To(Equal(2))
		})
	})

	When("a monthly template starts on the 31st", func() {
		BeforeEach(func() {
			template.LastGeneratedDate = ptr(day(2024, 1, 31))
			asOf = day(2024, 4, 30)
		})

		It("clamps and continues from the clamped day", func() {
			generated := writer.generated()
			Expect(generated).To(HaveLen(3))
			Expect(generated[0].Date).To(Equal(day(2024, 2, 29)))
			Expect(generated[1].Date).To(Equal(day(2024, 3, 29)))
			Expect(generated[2].Date).To(Equal(day(2024, 4, 29)))
		})
	})

	When("several templates are due", func() {
		BeforeEach(func() {
			other := &Expense{
				ID:                "rent",
				Merchant:          "Landlord",
				IsRecurring:       true,
				RecurrenceRule:    Monthly,
				LastGeneratedDate: ptr(day(2024, 2, 1)),
			}
			templates = append(templates, other, &Expense{ID: "plain", Merchant: "One-off"})
		})

		It("sums the generated counts", func() {
			Expect(count).To(Equal(3))
		})
	})

	When("the store rejects a write", func() {
		var saveErr error

		BeforeEach(func() {
			saveErr = errors.New("disk full")
			writer.saveErr = saveErr
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(saveErr))
		})

		It("leaves the template unchanged", func() {
			Expect(*template.LastGeneratedDate).To(Equal(day(2024, 1, 15)))
		})
	})
})
