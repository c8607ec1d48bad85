package report

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zombor/expense-reports/internal/expense"
)

var (
	// ErrStagingDirectory is returned when the archive staging directory cannot be created
	ErrStagingDirectory = errors.New("failed to create staging directory for archive export")

	// ErrArchiveCreation is returned when the zip archive cannot be written
	ErrArchiveCreation = errors.New("failed to create zip archive")
)

// Archive writes <Prefix>_Report_<timestamp>.zip holding the report in the
// given format and, under Receipts/, the images of the requested expenses
// that still exist on disk
func (x *Exporter) Archive(r Request, format Format) (string, error) {
	now := x.now()
	name := fmt.Sprintf("%s_Report_%s", x.prefix, now.Format(TimestampLayout))

	staging, err := os.MkdirTemp(x.stagingRoot, name+"-*")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStagingDirectory, err)
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			slog.Warn("Failed to remove staging directory", "path", staging, "error", err)
		}
	}()

	if _, err := x.writeReport(staging, r, format, now); err != nil {
		return "", err
	}

	copied, err := x.stageReceipts(staging, r.Expenses)
	if err != nil {
		return "", err
	}

	path := filepath.Join(x.dir, name+".zip")
	if err := zipDirectory(staging, path); err != nil {
		return "", fmt.Errorf("%w: %w", ErrArchiveCreation, err)
	}

	slog.Info("Created report archive", "path", path, "format", format, "expenses", len(r.Expenses), "receipts", copied)
	return path, nil
}

// stageReceipts copies the receipts of expenses into staging/Receipts
func (x *Exporter) stageReceipts(staging string, expenses []*expense.Expense) (int, error) {
	if x.receipts == nil {
		return 0, nil
	}

	dir := filepath.Join(staging, expense.ReceiptsDir)
	seen := make(map[string]bool)
	copied := 0
	for _, e := range expenses {
		if e.ReceiptImagePath == "" || seen[e.ReceiptImagePath] {
			continue
		}
		seen[e.ReceiptImagePath] = true

		src, err := x.receipts.Path(e.ReceiptImagePath)
		if err != nil {
			slog.Warn("Skipping receipt with invalid path", "expense", e.ID, "path", e.ReceiptImagePath)
			continue
		}
		info, err := os.Stat(src)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		if copied == 0 {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return 0, fmt.Errorf("creating receipts directory: %w", err)
			}
		}
		if err := copyFile(src, filepath.Join(dir, filepath.Base(src))); err != nil {
			return 0, fmt.Errorf("copying receipt %s: %w", e.ReceiptImagePath, err)
		}
		copied++
	}
	return copied, nil
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

// zipDirectory deflates every file under dir into a zip at dst. Entry names
// are relative to dir. The archive appears at dst only once complete.
func zipDirectory(dir, dst string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	zw := zip.NewWriter(tmp)
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			_, err := zw.Create(rel + "/")
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = rel
		header.Method = zip.Deflate

		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if walkErr != nil {
		zw.Close()
		tmp.Close()
		return walkErr
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
