package schema

// convert.go turns imported text cells into typed column values.
//
// Spreadsheet exports are messy: currency symbols and thousands separators
// in numbers, yes/no booleans, several date layouts and Excel formula
// prefixes. Empty cells become nil so the store writes NULL.

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years more than this many years in the future go to the previous century.
var TwoDigitYearPivot = 20

var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"Jan 2, 2006", "2 Jan 2006",
		"20060102",
	}
	timestampLayouts = []string{
		time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05",
	}
)

// Convert parses a cell for a column of type t. Empty input yields nil.
func Convert(t FieldType, raw string) (any, error) {
	s := CleanCell(raw)
	if s == "" {
		return nil, nil
	}
	switch t {
	case FieldInt:
		n, err := strconv.ParseInt(cleanNumber(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", raw)
		}
		return n, nil
	case FieldNumeric:
		s = cleanNumber(s)
		if !numericRegex.MatchString(s) {
			return nil, fmt.Errorf("invalid number %q", raw)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", raw)
		}
		return f, nil
	case FieldBool:
		b, ok := parseBool(s)
		if !ok {
			return nil, fmt.Errorf("invalid boolean %q", raw)
		}
		return b, nil
	case FieldDate:
		d, ok := parseDate(s)
		if !ok {
			return nil, fmt.Errorf("invalid date %q", raw)
		}
		return d, nil
	case FieldTimestamp:
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, nil
			}
		}
		if d, ok := parseDate(s); ok {
			return d, nil
		}
		return nil, fmt.Errorf("invalid date %q", raw)
	}
	return s, nil
}

// cleanNumber strips currency symbols and thousands separators, and turns
// accounting negatives "(123.45)" into "-123.45".
func cleanNumber(s string) string {
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "").Replace(s)
	s = strings.TrimSpace(s)
	if negative {
		s = "-" + s
	}
	return s
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	}
	return false, false
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range fourDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range twoDigitYearLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return t, true
		}
	}
	return time.Time{}, false
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// surrounding whitespace, Excel formula prefixes (="...") and quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.TrimSpace(strings.Trim(s, `"'`))
}
