package landcover

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Lookup maps ClassCodes to MacroClasses. A Lookup is immutable once built.
type Lookup struct {
	table  map[ClassCode]MacroClass
	strict bool
}

// LookupOption configures a Lookup.
type LookupOption func(*Lookup)

// WithStrict makes codes missing from the table a ValidationError instead of
// passing them through unchanged.
func WithStrict(strict bool) LookupOption {
	return func(l *Lookup) {
		l.strict = strict
	}
}

// NewLookup builds a lookup from parallel code/class slices. Repeating a code
// with the same target is allowed; repeating it with a different target is
// ambiguous and rejected.
func NewLookup(codes, classes []int, opts ...LookupOption) (*Lookup, error) {
	if len(codes) != len(classes) {
		return nil, NewValidationError("lookup", fmt.Sprintf("%d codes but %d classes", len(codes), len(classes)))
	}
	if len(codes) == 0 {
		return nil, NewValidationError("lookup", "empty table")
	}

	l := &Lookup{table: make(map[ClassCode]MacroClass, len(codes))}
	for _, opt := range opts {
		opt(l)
	}

	for i, code := range codes {
		target := MacroClass(classes[i])
		if !target.Valid() {
			return nil, NewValidationError("lookup", fmt.Sprintf("code %d maps to %d, outside %d..%d", code, classes[i], MinClass, MaxClass))
		}
		if prev, ok := l.table[ClassCode(code)]; ok && prev != target {
			return nil, NewValidationError("lookup", fmt.Sprintf("code %d maps to both %d and %d", code, prev, target))
		}
		l.table[ClassCode(code)] = target
	}
	return l, nil
}

// Strict reports whether unmapped codes are rejected.
func (l *Lookup) Strict() bool {
	return l.strict
}

// Len returns the number of distinct source codes.
func (l *Lookup) Len() int {
	return len(l.table)
}

// Apply returns the remapped value for a pixel value. Unmapped values pass
// through unchanged with ok=false.
func (l *Lookup) Apply(v int) (out int, ok bool) {
	class, ok := l.table[ClassCode(v)]
	if !ok {
		return v, false
	}
	return int(class), true
}

// Class returns the macro class for a code.
func (l *Lookup) Class(code ClassCode) (MacroClass, bool) {
	c, ok := l.table[code]
	return c, ok
}

// Pairs returns the table as parallel from/to slices ordered by source code,
// the form the compute service's remap primitive takes.
func (l *Lookup) Pairs() (from, to []int) {
	codes := make([]int, 0, len(l.table))
	for code := range l.table {
		codes = append(codes, int(code))
	}
	sort.Ints(codes)
	to = make([]int, len(codes))
	for i, code := range codes {
		to[i] = int(l.table[ClassCode(code)])
	}
	return codes, to
}

// Fingerprint returns a short hex digest of the table and strict mode. Lookups
// with equal fingerprints remap every value identically.
func (l *Lookup) Fingerprint() string {
	from, to := l.Pairs()
	var b strings.Builder
	for i := range from {
		b.WriteString(strconv.Itoa(from[i]))
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(to[i]))
		b.WriteByte(',')
	}
	b.WriteString(strconv.FormatBool(l.strict))
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}

// RemapValues substitutes every value through the lookup, returning a new
// slice. In strict mode the first unmapped value is a ValidationError.
func (l *Lookup) RemapValues(values []int) ([]int, error) {
	out := make([]int, len(values))
	for i, v := range values {
		mapped, ok := l.Apply(v)
		if !ok && l.strict {
			return nil, NewValidationError("pixel", fmt.Sprintf("code %d has no mapping", v))
		}
		out[i] = mapped
	}
	return out, nil
}
