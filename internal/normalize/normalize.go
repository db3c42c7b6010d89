// Package normalize holds the single coercion rule for each statement field.
// Parsers must go through these functions rather than converting inline.
package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/spice-reconcile/internal/model"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Field errors.
var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidDate   = errors.New("invalid date")
)

var amountStripper = strings.NewReplacer(
	",", "",
	"円", "",
	"¥", "",
	"\\", "",
	" ", "",
	"\t", "",
)

// Amount parses a printed amount into signed minor currency units.
// exponent is the number of decimal places in one major unit (0 for JPY).
// Blank cells and a lone "-" mean zero.
func Amount(s string, exponent int32) (int64, error) {
	cleaned := strings.TrimSpace(width.Narrow.String(s))
	cleaned = amountStripper.Replace(cleaned)

	negative := false
	if r, size := firstRune(cleaned); r == '▲' || r == '△' {
		negative = true
		cleaned = cleaned[size:]
	}
	cleaned = strings.TrimPrefix(cleaned, "+")

	if cleaned == "" || cleaned == "-" {
		return 0, nil
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if negative {
		d = d.Neg()
	}

	minor := d.Shift(exponent)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, s, exponent)
	}
	return minor.IntPart(), nil
}

func firstRune(s string) (rune, int) {
	for _, r := range s {
		return r, len(string(r))
	}
	return 0, 0
}

var (
	separatedDate = regexp.MustCompile(`^(\d{4})([-/.])(\d{1,2})([-/.])(\d{1,2})$`)
	compactDate   = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})$`)
	kanjiDate     = regexp.MustCompile(`^(\d{4})年(\d{1,2})月(\d{1,2})日$`)
)

// Date parses a statement date. Accepted forms are YYYY-MM-DD, YYYY/MM/DD,
// YYYY.MM.DD, YYYYMMDD and YYYY年M月D日, with full-width digits allowed.
// A trailing time component is ignored.
func Date(s string) (time.Time, error) {
	cleaned := strings.TrimSpace(width.Narrow.String(s))
	if i := strings.IndexAny(cleaned, " T"); i > 0 {
		cleaned = cleaned[:i]
	}

	var y, m, d string
	switch {
	case separatedDate.MatchString(cleaned):
		parts := separatedDate.FindStringSubmatch(cleaned)
		if parts[2] != parts[4] {
			return time.Time{}, fmt.Errorf("%w: mixed separators in %q", ErrInvalidDate, s)
		}
		y, m, d = parts[1], parts[3], parts[5]
	case compactDate.MatchString(cleaned):
		parts := compactDate.FindStringSubmatch(cleaned)
		y, m, d = parts[1], parts[2], parts[3]
	case kanjiDate.MatchString(cleaned):
		parts := kanjiDate.FindStringSubmatch(cleaned)
		y, m, d = parts[1], parts[2], parts[3]
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}

	return civil(y, m, d, s)
}

func civil(ys, ms, ds, original string) (time.Time, error) {
	y, _ := strconv.Atoi(ys)
	m, _ := strconv.Atoi(ms)
	d, _ := strconv.Atoi(ds)

	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, fmt.Errorf("%w: %q is not a calendar date", ErrInvalidDate, original)
	}
	return t, nil
}

// Content trims a bank description, substituting a placeholder when blank.
func Content(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return model.EmptyContentPlaceholder
	}
	return s
}

var (
	customerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^振込[＊*]?[\s　]*(.+)`),
		regexp.MustCompile(`^フリコミ[＊*]?[\s　]*(.+)`),
		regexp.MustCompile(`^ﾌﾘｺﾐ[＊*]?[\s　]*(.+)`),
		regexp.MustCompile(`^入金[\s　]*(.+)`),
	}
	parenthesized = regexp.MustCompile(`[（(].*?[）)]`)
)

// CustomerName extracts the remitter from a transfer description, or "".
func CustomerName(content string) string {
	for _, pattern := range customerPatterns {
		if match := pattern.FindStringSubmatch(content); match != nil {
			return strings.TrimSpace(parenthesized.ReplaceAllString(match[1], ""))
		}
	}
	return ""
}

// Fold canonicalizes free text for comparison: NFKC, internal whitespace
// collapsed to one space, trimmed, Unicode case-folded.
func Fold(s string) string {
	s = norm.NFKC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	return cases.Fold().String(s)
}
