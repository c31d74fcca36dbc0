package util

import (
	"strings"
	"time"
)

// DateLayout is the suffix format of rolling-date indices.
const DateLayout = "2006.01.02"

// DateSuffix formats t as a rolling-date suffix, always in UTC.
func DateSuffix(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDateSuffix extracts the date of a rolling-date index "<family>-YYYY.MM.DD".
// It reports false for names that are not dated members of family.
func ParseDateSuffix(family, name string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(name, family+"-")
	if !ok || len(rest) != len(DateLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, rest)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
