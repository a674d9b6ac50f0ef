package ingest

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	spaceRe = regexp.MustCompile(`\s+`)
	emailRe = regexp.MustCompile(`^[^@]+@[^@]+\.[^@]+$`)
)

// stripDiacritics removes combining marks after NFKD decomposition, so
// "Côtes-du-Rhône" and "Cotes-du-Rhone" normalize identically.
var stripDiacritics = transform.Chain(
	norm.NFKD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// NormalizeText trims and collapses whitespace runs.
func NormalizeText(s string) string {
	return spaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
}

// NormalizeEmail lower-cases and strips all whitespace. Returns an error
// when the result is non-empty but not minimally email-shaped.
func NormalizeEmail(s string) (string, error) {
	e := strings.ToLower(spaceRe.ReplaceAllString(s, ""))
	if e == "" {
		return "", nil
	}
	if !emailRe.MatchString(e) {
		return "", fmt.Errorf("ingest: invalid email %q", s)
	}
	return e, nil
}

// NormalizePhone trims but preserves formatting.
func NormalizePhone(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeDate accepts ISO YYYY-MM-DD or DD/MM/YYYY and emits ISO.
func NormalizeDate(s string) (string, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return "", nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t.Format("2006-01-02"), nil
	}
	if t, err := time.Parse("02/01/2006", v); err == nil {
		return t.Format("2006-01-02"), nil
	}
	return "", fmt.Errorf("ingest: unparseable date %q", s)
}

// ParseDate returns the calendar date behind a normalized or raw value.
func ParseDate(s string) (time.Time, error) {
	iso, err := NormalizeDate(s)
	if err != nil {
		return time.Time{}, err
	}
	if iso == "" {
		return time.Time{}, fmt.Errorf("ingest: empty date")
	}
	return time.Parse("2006-01-02", iso)
}

// NormalizeDecimal accepts "." or "," as the decimal separator.
func NormalizeDecimal(s string) (float64, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return 0, nil
	}
	v = strings.ReplaceAll(v, " ", "")
	v = strings.ReplaceAll(v, ",", ".")
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, fmt.Errorf("ingest: unparseable amount %q: %w", s, err)
	}
	f, _ := d.Float64()
	return f, nil
}

// NormalizeLabel produces label_norm: diacritic-stripped, lower-cased,
// trimmed, with whitespace runs collapsed.
func NormalizeLabel(s string) string {
	out, _, err := transform.String(stripDiacritics, s)
	if err != nil {
		out = s
	}
	return NormalizeText(strings.ToLower(out))
}

// NormalizeColumn maps a source column header to snake_case ASCII, the
// shape the validators key on.
func NormalizeColumn(s string) string {
	out, _, err := transform.String(stripDiacritics, s)
	if err != nil {
		out = s
	}
	out = strings.ToLower(strings.TrimSpace(out))
	out = spaceRe.ReplaceAllString(out, "_")
	return strings.ReplaceAll(out, "-", "_")
}
