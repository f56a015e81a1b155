package report

import (
	"sort"

	"github.com/sells-group/mapbiomas-cli/internal/landcover"
)

// ClassSeries is one macro class's area over the selected years. Failed
// marks points whose reduction did not complete; their value is not an area.
type ClassSeries struct {
	Class  landcover.MacroClass `json:"class"`
	Color  string               `json:"color"`
	Years  []int                `json:"years"`
	Values []float64            `json:"values"`
	Failed []bool               `json:"failed,omitempty"`
}

// Series pivots a result into one series per class, classes ascending, every
// series sharing the same ascending year axis. Points absent from the records
// are 0 unless the result lists them as failures. A chart only makes sense
// when the axis has more than one year.
func Series(res *landcover.AreaResult) []ClassSeries {
	if res == nil {
		return nil
	}
	yearSet := make(map[int]bool)
	classSet := make(map[landcover.MacroClass]bool)
	area := make(map[[2]int]float64)
	failed := make(map[[2]int]bool)
	for _, r := range res.Records {
		yearSet[r.Year] = true
		classSet[r.Class] = true
		area[[2]int{r.Year, int(r.Class)}] = r.AreaKm2
	}
	for _, f := range res.Failures {
		yearSet[f.Year] = true
		classSet[f.Class] = true
		failed[[2]int{f.Year, int(f.Class)}] = true
	}

	years := make([]int, 0, len(yearSet))
	for y := range yearSet {
		years = append(years, y)
	}
	sort.Ints(years)

	var out []ClassSeries
	for _, c := range landcover.AllClasses() {
		if !classSet[c] {
			continue
		}
		s := ClassSeries{Class: c, Color: c.Color(), Years: years, Values: make([]float64, len(years))}
		for i, y := range years {
			k := [2]int{y, int(c)}
			s.Values[i] = area[k]
			if failed[k] {
				if s.Failed == nil {
					s.Failed = make([]bool, len(years))
				}
				s.Failed[i] = true
			}
		}
		out = append(out, s)
	}
	return out
}

// SeriesYears returns the shared year axis.
func SeriesYears(series []ClassSeries) []int {
	if len(series) == 0 {
		return nil
	}
	return series[0].Years
}

// Chartable reports whether the series span more than one year.
func Chartable(series []ClassSeries) bool {
	return len(SeriesYears(series)) > 1
}
