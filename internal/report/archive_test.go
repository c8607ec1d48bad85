package report

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/expense-reports/internal/expense"
	"github.com/zombor/expense-reports/internal/money"
)

// diskReceipts resolves receipts under a documents root
type diskReceipts struct {
	root string
}

func (d diskReceipts) Path(rel string) (string, error) {
	return filepath.Join(d.root, filepath.FromSlash(rel)), nil
}

func archiveEntries(path string) []string {
	zr, err := zip.OpenReader(path)
	Expect(err).NotTo(HaveOccurred())
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		if !f.FileInfo().IsDir() {
			names = append(names, f.Name)
		}
	}
	return names
}

func withPrefix(names []string, prefix string) []string {
	out := make([]string, 0)
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			out = append(out, n)
		}
	}
	return out
}

func withSuffix(names []string, suffix string) []string {
	out := make([]string, 0)
	for _, n := range names {
		if strings.HasSuffix(n, suffix) {
			out = append(out, n)
		}
	}
	return out
}

var _ = Describe("Archive", func() {
	var (
		outDir   string
		docs     string
		staging  string
		exporter *Exporter
		request  Request
		format   Format
		path     string
		err      error
	)

	BeforeEach(func() {
		outDir = GinkgoT().TempDir()
		docs = GinkgoT().TempDir()
		staging = GinkgoT().TempDir()
		Expect(os.MkdirAll(filepath.Join(docs, "Receipts"), 0755)).To(Succeed())

		var newErr error
		exporter, newErr = NewExporter(outDir, "Acme", money.DefaultFormatter(), diskReceipts{root: docs})
		Expect(newErr).NotTo(HaveOccurred())
		exporter.now = func() time.Time { return time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC) }
		exporter.stagingRoot = staging

		request = Request{Expenses: []*expense.Expense{
			newExpense("1", "Cafe", "25.00", time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)),
		}}
		format = PDF
	})

	JustBeforeEach(func() {
		path, err = exporter.Archive(request, format)
	})

	When("no expense has a receipt", func() {
		It("names the archive after the prefix and timestamp", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(filepath.Base(path)).To(Equal("Acme_Report_2024-02-03_040506.zip"))
		})

		It("holds exactly one report and no Receipts entry", func() {
			zr, openErr := zip.OpenReader(path)
			Expect(openErr).NotTo(HaveOccurred())
			defer zr.Close()
			for _, f := range zr.File {
				Expect(f.Name).NotTo(HavePrefix("Receipts"))
			}
			Expect(withSuffix(archiveEntries(path), ".pdf")).To(HaveLen(1))
		})

		It("starts with the zip signature", func() {
			data, readErr := os.ReadFile(path)
			Expect(readErr).NotTo(HaveOccurred())
			Expect(data[:2]).To(Equal([]byte("PK")))
		})

		It("removes the staging directory", func() {
			entries, readErr := os.ReadDir(staging)
			Expect(readErr).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})
	})

	When("one expense has a receipt on disk", func() {
		BeforeEach(func() {
			Expect(os.WriteFile(filepath.Join(docs, "Receipts", "abc.jpg"), []byte{0xFF, 0xD8, 0xFF}, 0644)).To(Succeed())
			request.Expenses[0].ReceiptImagePath = "Receipts/abc.jpg"
		})

		It("contains exactly that receipt", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(withPrefix(archiveEntries(path), "Receipts/")).To(Equal([]string{"Receipts/abc.jpg"}))
		})

		It("copies the receipt bytes", func() {
			zr, openErr := zip.OpenReader(path)
			Expect(openErr).NotTo(HaveOccurred())
			defer zr.Close()
			rc, openErr := zr.Open("Receipts/abc.jpg")
			Expect(openErr).NotTo(HaveOccurred())
			defer rc.Close()
			info, statErr := rc.Stat()
			Expect(statErr).NotTo(HaveOccurred())
			Expect(info.Size()).To(Equal(int64(3)))
		})
	})

	When("other receipts exist in the documents directory", func() {
		BeforeEach(func() {
			Expect(os.WriteFile(filepath.Join(docs, "Receipts", "mine.jpg"), []byte("a"), 0644)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(docs, "Receipts", "other.jpg"), []byte("b"), 0644)).To(Succeed())
			request.Expenses[0].ReceiptImagePath = "Receipts/mine.jpg"
		})

		It("includes only the requested expenses' receipts", func() {
			Expect(withPrefix(archiveEntries(path), "Receipts/")).To(Equal([]string{"Receipts/mine.jpg"}))
		})
	})

	When("a referenced receipt is missing", func() {
		BeforeEach(func() {
			request.Expenses[0].ReceiptImagePath = "Receipts/gone.jpg"
		})

		It("skips it", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(withPrefix(archiveEntries(path), "Receipts")).To(BeEmpty())
		})
	})

	When("the format is CSV", func() {
		BeforeEach(func() {
			format = CSV
		})

		It("holds exactly one CSV report", func() {
			Expect(err).NotTo(HaveOccurred())
			names := archiveEntries(path)
			Expect(withSuffix(names, ".csv")).To(Equal([]string{"Acme_Expenses_2024-02-03_040506.csv"}))
			Expect(withSuffix(names, ".pdf")).To(BeEmpty())
		})
	})

	When("the staging directory cannot be created", func() {
		BeforeEach(func() {
			blocker := filepath.Join(staging, "not-a-dir")
			Expect(os.WriteFile(blocker, nil, 0644)).To(Succeed())
			exporter.stagingRoot = blocker
		})

		It("returns a staging directory error", func() {
			Expect(err).To(MatchError(ErrStagingDirectory))
		})
	})

	When("the archive cannot be written", func() {
		BeforeEach(func() {
			exporter.dir = filepath.Join(outDir, "missing", "nested")
		})

		It("returns an archive creation error", func() {
			Expect(err).To(MatchError(ErrArchiveCreation))
		})

		It("still removes the staging directory", func() {
			entries, readErr := os.ReadDir(staging)
			Expect(readErr).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})
	})
})
