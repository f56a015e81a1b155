// Package landcover remaps MapBiomas land-cover codes into macro classes and
// aggregates per-class areas inside a study region.
package landcover

import (
	"fmt"
	"sort"

	"golang.org/x/text/language"
)

// ClassCode is a fine-grained MapBiomas legend code.
type ClassCode int

// MacroClass is one of the six coarse land-cover classes.
type MacroClass int

// Macro classes, in display order.
const (
	Forest MacroClass = iota + 1
	Herbaceous
	Farming
	NonVegetated
	Water
	NotObserved
)

// MinClass and MaxClass bound the macro class range, used as the map
// visualization range.
const (
	MinClass = Forest
	MaxClass = NotObserved
)

// AllClasses returns every macro class in ascending order.
func AllClasses() []MacroClass {
	return []MacroClass{Forest, Herbaceous, Farming, NonVegetated, Water, NotObserved}
}

// Valid reports whether c is within 1..6.
func (c MacroClass) Valid() bool {
	return c >= MinClass && c <= MaxClass
}

type classInfo struct {
	pt    string
	en    string
	color string
}

var classTable = map[MacroClass]classInfo{
	Forest:       {pt: "Floresta", en: "Forest", color: "#1f8d49"},
	Herbaceous:   {pt: "Vegetação Herbácea e Arbustiva", en: "Herbaceous and Shrubby Vegetation", color: "#ad975a"},
	Farming:      {pt: "Agropecuária", en: "Farming", color: "#FFFFB2"},
	NonVegetated: {pt: "Área não Vegetada", en: "Non-vegetated Area", color: "#d4271e"},
	Water:        {pt: "Corpo D'água", en: "Water", color: "#0000FF"},
	NotObserved:  {pt: "Não Observado", en: "Not Observed", color: "#ffffff"},
}

var supportedLangs = []language.Tag{language.BrazilianPortuguese, language.English}

var langMatcher = language.NewMatcher(supportedLangs)

// MatchLanguage resolves a requested language (e.g. "pt", "en-US") to one of
// the supported legend languages. Unknown input falls back to pt-BR.
func MatchLanguage(lang string) language.Tag {
	if lang == "" {
		return language.BrazilianPortuguese
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return language.BrazilianPortuguese
	}
	_, idx, _ := langMatcher.Match(tag)
	return supportedLangs[idx]
}

// Name returns the class name in the given language.
func (c MacroClass) Name(tag language.Tag) string {
	info, ok := classTable[c]
	if !ok {
		return fmt.Sprintf("class %d", int(c))
	}
	if base, _ := tag.Base(); base.String() == "en" {
		return info.en
	}
	return info.pt
}

// String returns the pt-BR class name.
func (c MacroClass) String() string {
	return c.Name(language.BrazilianPortuguese)
}

// Color returns the display color as a hex string.
func (c MacroClass) Color() string {
	return classTable[c].color
}

// Palette returns the six display colors in class order.
func Palette() []string {
	out := make([]string, 0, len(classTable))
	for _, c := range AllClasses() {
		out = append(out, c.Color())
	}
	return out
}

// LegendEntry describes one macro class for display.
type LegendEntry struct {
	Class MacroClass  `json:"class"`
	Name  string      `json:"name"`
	Color string      `json:"color"`
	Codes []ClassCode `json:"codes"`
}

// Legend lists the macro classes with the source codes that map into them.
func Legend(l *Lookup, tag language.Tag) []LegendEntry {
	byClass := make(map[MacroClass][]ClassCode)
	for code, class := range l.table {
		byClass[class] = append(byClass[class], code)
	}
	entries := make([]LegendEntry, 0, len(classTable))
	for _, c := range AllClasses() {
		codes := byClass[c]
		sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
		entries = append(entries, LegendEntry{
			Class: c,
			Name:  c.Name(tag),
			Color: c.Color(),
			Codes: codes,
		})
	}
	return entries
}

// Collection 9 legend, grouped by target class.
var (
	defaultCodes = []int{
		1, 3, 4, 5, 6, 49,
		10, 11, 12, 32, 29, 50,
		14, 15, 18, 19, 39, 20, 40, 62, 41, 36, 46, 47, 35, 48, 9, 21,
		22, 23, 24, 30, 25,
		26, 33, 31,
		27,
	}
	defaultClasses = []int{
		1, 1, 1, 1, 1, 1,
		2, 2, 2, 2, 2, 2,
		3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3,
		4, 4, 4, 4, 4,
		5, 5, 5,
		6,
	}
)

// DefaultLookup returns the MapBiomas Collection 9 remap table.
func DefaultLookup(opts ...LookupOption) *Lookup {
	l, err := NewLookup(defaultCodes, defaultClasses, opts...)
	if err != nil {
		// The built-in table is fixed; failing here is a programming error.
		panic(err)
	}
	return l
}
