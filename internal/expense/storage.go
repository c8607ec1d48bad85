package expense

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ReceiptsDir is the directory under the documents root holding receipt images
const ReceiptsDir = "Receipts"

const jpegQuality = 80

// ErrReceiptNotFound is returned when a receipt image does not exist
var ErrReceiptNotFound = errors.New("receipt image not found")

// Storage defines the interface for receipt image storage
type Storage interface {
	// Save encodes img as JPEG and returns its path relative to the root
	Save(img image.Image) (string, error)

	// Open opens a stored receipt by relative path
	Open(rel string) (io.ReadCloser, error)

	// Delete removes a stored receipt
	Delete(rel string) error

	// Path resolves a relative receipt path to an absolute filesystem path
	Path(rel string) (string, error)
}

// LocalStorage implements the Storage interface using local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage rooted at basePath
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(filepath.Join(basePath, ReceiptsDir), 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Save writes img to Receipts/<uuid>.jpg. The file appears only once fully
// written.
func (l *LocalStorage) Save(img image.Image) (string, error) {
	rel := path.Join(ReceiptsDir, uuid.NewString()+".jpg")
	dir := filepath.Join(l.basePath, ReceiptsDir)

	tmp, err := os.CreateTemp(dir, ".receipt-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := jpeg.Encode(tmp, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		tmp.Close()
		return "", fmt.Errorf("encoding jpeg: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(l.basePath, filepath.FromSlash(rel))); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return rel, nil
}

// Open opens a stored receipt for reading
func (l *LocalStorage) Open(rel string) (io.ReadCloser, error) {
	full, err := l.Path(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrReceiptNotFound, rel)
	}
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return f, nil
}

// Delete removes a file from local storage
func (l *LocalStorage) Delete(rel string) error {
	full, err := l.Path(rel)
	if err != nil {
		return err
	}
	err = os.Remove(full)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrReceiptNotFound, rel)
	}
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// Path resolves rel to a file inside the Receipts directory of the documents
// root. Anything else under the root, such as backups, is not a receipt.
func (l *LocalStorage) Path(rel string) (string, error) {
	local := filepath.FromSlash(rel)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: invalid path %q", ErrReceiptNotFound, rel)
	}
	dir, name, ok := strings.Cut(filepath.ToSlash(filepath.Clean(local)), "/")
	if !ok || dir != ReceiptsDir || name == "" {
		return "", fmt.Errorf("%w: invalid path %q", ErrReceiptNotFound, rel)
	}
	return filepath.Join(l.basePath, local), nil
}

// Exists reports whether a stored receipt is present
func (l *LocalStorage) Exists(rel string) bool {
	full, err := l.Path(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && info.Mode().IsRegular()
}
