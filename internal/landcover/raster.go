package landcover

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultAsset is the MapBiomas Collection 9 integration image.
const DefaultAsset = "projects/mapbiomas-public/assets/brazil/lulc/collection9/mapbiomas_collection90_integration_v1"

const bandPrefix = "classification_"

// BandName returns the band name for a year.
func BandName(year int) string {
	return bandPrefix + strconv.Itoa(year)
}

// ParseBandName extracts the year from a classification band name.
func ParseBandName(name string) (int, bool) {
	if !strings.HasPrefix(name, bandPrefix) {
		return 0, false
	}
	year, err := strconv.Atoi(strings.TrimPrefix(name, bandPrefix))
	if err != nil {
		return 0, false
	}
	return year, true
}

// YearBand is one yearly classification band. Remaps is the ordered chain of
// lookups applied to the band's source values; it is empty for raw bands.
type YearBand struct {
	Year   int
	Name   string
	Remaps []*Lookup
}

// Remapped reports whether any lookup has been applied.
func (b YearBand) Remapped() bool {
	return len(b.Remaps) > 0
}

// Evaluate resolves a source pixel value through the band's remap chain.
func (b YearBand) Evaluate(v int) (int, error) {
	for _, l := range b.Remaps {
		mapped, ok := l.Apply(v)
		if !ok && l.Strict() {
			return 0, NewValidationError(b.Name, fmt.Sprintf("code %d has no mapping", v))
		}
		v = mapped
	}
	return v, nil
}

// Raster is an ordered set of YearBands sharing one spatial grid. It is a
// value: Remap derives a new Raster and never mutates its input.
type Raster struct {
	Asset string
	Bands []YearBand
}

// NewRaster builds a raw raster over the given years in order.
func NewRaster(asset string, years []int) Raster {
	bands := make([]YearBand, 0, len(years))
	for _, y := range years {
		bands = append(bands, YearBand{Year: y, Name: BandName(y)})
	}
	return Raster{Asset: asset, Bands: bands}
}

// RasterFromBandNames builds a raw raster from the band names reported by the
// compute service, skipping bands that are not yearly classifications.
func RasterFromBandNames(asset string, names []string) Raster {
	r := Raster{Asset: asset}
	for _, n := range names {
		year, ok := ParseBandName(n)
		if !ok {
			continue
		}
		r.Bands = append(r.Bands, YearBand{Year: year, Name: n})
	}
	return r
}

// Band returns the band for year.
func (r Raster) Band(year int) (YearBand, bool) {
	for _, b := range r.Bands {
		if b.Year == year {
			return b, true
		}
	}
	return YearBand{}, false
}

// Years lists the band years in raster order.
func (r Raster) Years() []int {
	out := make([]int, len(r.Bands))
	for i, b := range r.Bands {
		out[i] = b.Year
	}
	return out
}

// Remap returns a new raster whose every band has lookup appended to its
// remap chain. Band count, names, and order are preserved.
func Remap(r Raster, lookup *Lookup) Raster {
	out := Raster{Asset: r.Asset, Bands: make([]YearBand, len(r.Bands))}
	for i, b := range r.Bands {
		chain := make([]*Lookup, len(b.Remaps), len(b.Remaps)+1)
		copy(chain, b.Remaps)
		out.Bands[i] = YearBand{
			Year:   b.Year,
			Name:   b.Name,
			Remaps: append(chain, lookup),
		}
	}
	return out
}
