package scanning

import (
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/shopspring/decimal"
)

// amountPatterns are tried in order over the whole text. The first pattern
// with any match wins, so a labelled total beats an earlier bare dollar figure.
var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:total|amount|sum|due)\s*:?\s*\$?\s*(\d+[,\d]*\.\d{2})`),
	regexp.MustCompile(`\$\s*(\d+[,\d]*\.\d{2})`),
}

const monthNames = `jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec|` +
	`january|february|march|april|june|july|august|september|october|november|december`

// datePattern finds date-looking substrings; candidates are validated by parseDate
var datePattern = regexp.MustCompile(`(?i)\b(?:` +
	`\d{4}-\d{1,2}-\d{1,2}` +
	`|\d{1,2}[/-]\d{1,2}[/-](?:\d{4}|\d{2})` +
	`|(?:` + monthNames + `)\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}` +
	`|\d{1,2}(?:st|nd|rd|th)?\s+(?:` + monthNames + `)\.?,?\s+\d{4}` +
	`)\b`)

var ordinalSuffix = regexp.MustCompile(`(?i)(\d)(?:st|nd|rd|th)\b`)

// fallbackLayouts cover candidates dateparse rejects
var fallbackLayouts = []string{
	"1/2/2006",
	"1-2-2006",
	"1/2/06",
	"1-2-06",
	"2006-1-2",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
}

// ExtractAmount finds the receipt total in text
func ExtractAmount(text string) (decimal.Decimal, bool) {
	for _, pattern := range amountPatterns {
		match := pattern.FindStringSubmatch(text)
		if len(match) < 2 {
			continue
		}
		raw := strings.ReplaceAll(match[1], ",", "")
		if value, err := decimal.NewFromString(raw); err == nil {
			return value, true
		}
	}
	return decimal.Decimal{}, false
}

// ExtractDate returns the first date found anywhere in text, read with US
// conventions (month before day). Dates are in the local time zone.
func ExtractDate(text string) (time.Time, bool) {
	for _, candidate := range datePattern.FindAllString(text, -1) {
		if t, ok := parseDate(candidate, time.Local); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseDate(candidate string, loc *time.Location) (time.Time, bool) {
	cleaned := ordinalSuffix.ReplaceAllString(candidate, "$1")
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if t, err := dateparse.ParseIn(cleaned, loc); err == nil {
		return t, true
	}

	titled := titleMonth(cleaned)
	for _, layout := range fallbackLayouts {
		if t, err := time.ParseInLocation(layout, titled, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// titleMonth rewrites "JAN" or "jan" as "Jan" so time.Parse accepts it
func titleMonth(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == "" || (w[0] >= '0' && w[0] <= '9') {
			continue
		}
		trimmed := strings.TrimRight(w, ",")
		lower := strings.ToLower(trimmed)
		if lower == "sept" {
			lower = "sep"
		}
		words[i] = strings.ToUpper(lower[:1]) + lower[1:] + w[len(trimmed):]
	}
	return strings.Join(words, " ")
}

// ExtractMerchant returns the first line with visible content, trimmed
func ExtractMerchant(lines []string) (string, bool) {
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed, true
		}
	}
	return "", false
}
