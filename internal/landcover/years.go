package landcover

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Collection 9 covers 1985 through 2023.
const (
	FirstYear   = 1985
	LastYear    = 2023
	DefaultYear = 2023
)

// AvailableYears lists every year in [first, last].
func AvailableYears(first, last int) []int {
	if last < first {
		return nil
	}
	out := make([]int, 0, last-first+1)
	for y := first; y <= last; y++ {
		out = append(out, y)
	}
	return out
}

// ParseYears parses a selection such as "1985,2000-2003". An empty selection
// yields DefaultYear, clamped to last. The result is sorted and de-duplicated.
func ParseYears(s string, first, last int) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ValidateYears([]int{min(DefaultYear, last)}, first, last)
	}

	seen := make(map[int]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, err := parseYearRange(part)
		if err != nil {
			return nil, err
		}
		for y := lo; y <= hi; y++ {
			seen[y] = true
		}
	}

	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	return ValidateYears(years, first, last)
}

func parseYearRange(part string) (int, int, error) {
	if lo, hi, ok := strings.Cut(part, "-"); ok {
		a, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return 0, 0, NewValidationError("years", fmt.Sprintf("bad year %q", lo))
		}
		b, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return 0, 0, NewValidationError("years", fmt.Sprintf("bad year %q", hi))
		}
		if b < a {
			return 0, 0, NewValidationError("years", fmt.Sprintf("descending range %q", part))
		}
		return a, b, nil
	}
	y, err := strconv.Atoi(part)
	if err != nil {
		return 0, 0, NewValidationError("years", fmt.Sprintf("bad year %q", part))
	}
	return y, y, nil
}

// ValidateYears checks every year lies in [first, last] and returns a sorted,
// de-duplicated copy.
func ValidateYears(years []int, first, last int) ([]int, error) {
	if len(years) == 0 {
		return nil, NewValidationError("years", "no years selected")
	}
	seen := make(map[int]bool, len(years))
	out := make([]int, 0, len(years))
	for _, y := range years {
		if y < first || y > last {
			return nil, NewValidationError("years", fmt.Sprintf("%d outside %d-%d", y, first, last))
		}
		if seen[y] {
			continue
		}
		seen[y] = true
		out = append(out, y)
	}
	sort.Ints(out)
	return out, nil
}

// ParseClasses parses a comma-separated class list. Empty input selects all
// six classes.
func ParseClasses(s string) ([]MacroClass, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return AllClasses(), nil
	}
	var raw []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, NewValidationError("classes", fmt.Sprintf("bad class %q", part))
		}
		raw = append(raw, v)
	}
	return ValidateClasses(raw)
}

// ValidateClasses converts ints to sorted, de-duplicated macro classes.
// An empty list selects all classes.
func ValidateClasses(raw []int) ([]MacroClass, error) {
	if len(raw) == 0 {
		return AllClasses(), nil
	}
	seen := make(map[MacroClass]bool, len(raw))
	out := make([]MacroClass, 0, len(raw))
	for _, v := range raw {
		c := MacroClass(v)
		if !c.Valid() {
			return nil, NewValidationError("classes", fmt.Sprintf("%d outside %d-%d", v, MinClass, MaxClass))
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
