package scanning

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidImage is returned when uploaded bytes cannot be decoded to an image
var ErrInvalidImage = errors.New("could not read the image for text recognition")

// ErrRecognizerUnavailable is returned when no recognition engine is configured
var ErrRecognizerUnavailable = errors.New("text recognition is not configured")

// ErrRecognitionFailed wraps every error returned by a recognition engine
var ErrRecognitionFailed = errors.New("text recognition failed")

// Observation is one recognized line of text, in reading order
type Observation struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result contains the recognized text and the fields guessed from it.
// Any of Amount, Date and Merchant may be nil when nothing matched.
type Result struct {
	Text       string           `json:"text"`
	Confidence float64          `json:"confidence"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Date       *time.Time       `json:"date,omitempty"`
	Merchant   *string          `json:"merchant,omitempty"`
}

// Recognizer defines the interface for text recognition engines
type Recognizer interface {
	// Recognize returns the text lines found in img, preserving reading order
	Recognize(ctx context.Context, img image.Image) ([]Observation, error)
	// Close closes the recognizer and releases resources
	Close() error
}

// Scanner decodes receipt uploads and turns recognized text into a Result
type Scanner struct {
	recognizer Recognizer
}

// NewScanner creates a Scanner backed by the given recognizer
func NewScanner(recognizer Recognizer) *Scanner {
	return &Scanner{recognizer: recognizer}
}

// Decode converts uploaded bytes into an image. Errors wrap ErrInvalidImage.
func (s *Scanner) Decode(data []byte, contentType string) (image.Image, error) {
	return decodeImage(data, contentType)
}

// Recognize runs the recognition engine over img and extracts fields
func (s *Scanner) Recognize(ctx context.Context, img image.Image) (*Result, error) {
	if img == nil {
		return nil, ErrInvalidImage
	}
	observations, err := s.recognizer.Recognize(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRecognitionFailed, err)
	}
	result := Assemble(observations)
	slog.Debug("Recognized receipt text",
		"lines", len(observations),
		"confidence", result.Confidence,
		"amount_found", result.Amount != nil,
		"date_found", result.Date != nil,
		"merchant_found", result.Merchant != nil,
	)
	return result, nil
}

// Scan decodes data and recognizes it in one step
func (s *Scanner) Scan(ctx context.Context, data []byte, contentType string) (*Result, error) {
	img, err := s.Decode(data, contentType)
	if err != nil {
		return nil, err
	}
	return s.Recognize(ctx, img)
}

// Close closes the underlying recognizer
func (s *Scanner) Close() error {
	return s.recognizer.Close()
}

// Assemble joins observed lines into the full text, averages their
// confidence and runs the amount, date and merchant extractors.
func Assemble(observations []Observation) *Result {
	lines := make([]string, len(observations))
	var total float64
	for i, o := range observations {
		lines[i] = o.Text
		total += o.Confidence
	}

	result := &Result{
		Text: strings.Join(lines, "\n"),
	}
	if len(observations) > 0 {
		result.Confidence = total / float64(len(observations))
	}

	if amount, ok := ExtractAmount(result.Text); ok {
		result.Amount = &amount
	}
	if date, ok := ExtractDate(result.Text); ok {
		result.Date = &date
	}
	if merchant, ok := ExtractMerchant(lines); ok {
		result.Merchant = &merchant
	}
	return result
}

// Unavailable is a Recognizer used when no engine is configured
type Unavailable struct{}

// Recognize always fails with ErrRecognizerUnavailable
func (Unavailable) Recognize(context.Context, image.Image) ([]Observation, error) {
	return nil, ErrRecognizerUnavailable
}

// Close is a no-op
func (Unavailable) Close() error {
	return nil
}
