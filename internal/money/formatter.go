// Package money formats and parses monetary amounts for display.
package money

import (
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// DefaultCurrency is the ISO code used until SetCurrency is called
const DefaultCurrency = "USD"

// rules is an immutable snapshot of everything needed to format one currency
type rules struct {
	code     string
	symbol   string
	group    string
	decimal  string
	language language.Tag
	// digits in the group next to the decimal separator, and in every
	// group further left (3 and 2 for Indian grouping)
	primary   int
	secondary int
}

// Formatter renders amounts in the active currency. A single Formatter is
// shared by every renderer; SetCurrency swaps the whole rule set at once so
// concurrent Format and Parse calls see either the old or the new currency.
type Formatter struct {
	active atomic.Pointer[rules]
}

// NewFormatter creates a Formatter for the given currency and locale
func NewFormatter(code string, tag language.Tag) (*Formatter, error) {
	r, err := buildRules(code, tag)
	if err != nil {
		return nil, err
	}
	f := &Formatter{}
	f.active.Store(r)
	return f, nil
}

// MustFormatter is NewFormatter for known-good inputs such as constants
func MustFormatter(code string, tag language.Tag) *Formatter {
	f, err := NewFormatter(code, tag)
	if err != nil {
		panic(err)
	}
	return f
}

// DefaultFormatter returns a USD formatter with US English separators
func DefaultFormatter() *Formatter {
	return MustFormatter(DefaultCurrency, language.AmericanEnglish)
}

func buildRules(code string, tag language.Tag) (*rules, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("parsing currency code %q: %w", code, err)
	}

	p := message.NewPrinter(tag)
	symbol := strings.TrimSpace(p.Sprint(currency.NarrowSymbol(unit)))
	if symbol == "" {
		symbol = unit.String()
	}

	group, dec := separators(p)
	primary, secondary := groupSizes(p, group)

	return &rules{
		code:      unit.String(),
		symbol:    symbol,
		group:     group,
		decimal:   dec,
		language:  tag,
		primary:   primary,
		secondary: secondary,
	}, nil
}

// separators derives the locale's grouping and decimal separators by
// formatting a known sample and reading back what surrounds the digits.
func separators(p *message.Printer) (string, string) {
	sample := p.Sprint(number.Decimal(1234.5, number.Scale(1)))
	i := strings.Index(sample, "1")
	j := strings.Index(sample, "234")
	k := strings.LastIndex(sample, "5")
	if i < 0 || j <= i || k <= j+3 {
		return ",", "."
	}
	group := sample[i+1 : j]
	dec := sample[j+3 : k]
	if dec == "" || dec == group {
		return ",", "."
	}
	return group, dec
}

// groupSizes reads the locale's grouping pattern from a formatted ten digit
// sample, e.g. "1,23,45,67,890" gives 3 and 2.
func groupSizes(p *message.Printer, sep string) (int, int) {
	if sep == "" {
		return 3, 3
	}
	chunks := strings.Split(p.Sprint(number.Decimal(1234567890)), sep)
	if len(chunks) < 3 {
		return 3, 3
	}
	for _, c := range chunks {
		if c == "" || strings.Trim(c, "0123456789") != "" {
			return 3, 3
		}
	}
	return len(chunks[len(chunks)-1]), len(chunks[len(chunks)-2])
}

// SetCurrency replaces the active currency. Strings already formatted are
// unaffected. The locale is kept.
func (f *Formatter) SetCurrency(code string) error {
	tag := language.AmericanEnglish
	if cur := f.active.Load(); cur != nil {
		tag = cur.language
	}
	r, err := buildRules(code, tag)
	if err != nil {
		return err
	}
	f.active.Store(r)
	return nil
}

// Code returns the active ISO currency code
func (f *Formatter) Code() string {
	if r := f.active.Load(); r != nil {
		return r.code
	}
	return DefaultCurrency
}

// Format renders amount with the currency symbol, grouping separators and
// exactly two fraction digits, e.g. "$1,234.56" or "-$50.00".
func (f *Formatter) Format(amount decimal.Decimal) string {
	r := f.active.Load()
	if r == nil {
		return amount.String()
	}

	fixed := amount.Abs().StringFixed(2)
	intPart, fracPart, ok := strings.Cut(fixed, ".")
	if !ok {
		return amount.String()
	}

	var b strings.Builder
	if amount.IsNegative() && !amount.Round(2).IsZero() {
		b.WriteString("-")
	}
	b.WriteString(r.symbol)
	b.WriteString(groupDigits(intPart, r.group, r.primary, r.secondary))
	b.WriteString(r.decimal)
	b.WriteString(fracPart)
	return b.String()
}

func groupDigits(digits, sep string, primary, secondary int) string {
	if primary <= 0 || len(digits) <= primary {
		return digits
	}
	if secondary <= 0 {
		secondary = primary
	}

	groups := []string{digits[len(digits)-primary:]}
	rest := digits[:len(digits)-primary]
	for len(rest) > secondary {
		groups = append(groups, rest[len(rest)-secondary:])
		rest = rest[:len(rest)-secondary]
	}
	groups = append(groups, rest)
	slices.Reverse(groups)
	return strings.Join(groups, sep)
}

// Parse reads an amount typed by a user or produced by Format. The active
// currency symbol and grouping separators are removed before parsing. The
// second return value is false for empty or unparsable input.
func (f *Formatter) Parse(s string) (decimal.Decimal, bool) {
	r := f.active.Load()
	if r == nil {
		r = &rules{symbol: "$", group: ",", decimal: "."}
	}

	cleaned := strings.ReplaceAll(s, r.symbol, "")
	if r.group != "" {
		cleaned = strings.ReplaceAll(cleaned, r.group, "")
	}
	// grouping can be a narrow no-break space in some locales
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = strings.TrimSpace(cleaned)
	if r.decimal != "." {
		cleaned = strings.ReplaceAll(cleaned, r.decimal, ".")
	}
	if cleaned == "" {
		return decimal.Decimal{}, false
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}
