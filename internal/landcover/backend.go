package landcover

import (
	"context"

	"github.com/twpayne/go-geom"
)

// StudyRegion is the caller-supplied area of interest. internal/region
// provides the concrete implementation.
type StudyRegion interface {
	// Geometry returns the region as a multipolygon in EPSG:4326.
	Geometry() *geom.MultiPolygon
	// Bounds returns the lon/lat bounding box.
	Bounds() *geom.Bounds
	// Contains reports whether the point lies inside the region.
	Contains(lon, lat float64) bool
	// Empty reports whether the region has no area.
	Empty() bool
}

// AreaQuery asks the backend for the summed per-pixel area of one class in
// one band within a region.
type AreaQuery struct {
	Asset     string
	Band      YearBand
	Class     MacroClass
	Region    StudyRegion
	ScaleM    float64
	MaxPixels int64
}

// Backend is the geospatial compute service the aggregator delegates to.
type Backend interface {
	// BandNames lists the bands of a raster asset.
	BandNames(ctx context.Context, asset string) ([]string, error)
	// ReduceArea returns the total area in square meters of pixels of
	// q.Class in q.Band inside q.Region. No matching pixels is 0, not an error.
	ReduceArea(ctx context.Context, q AreaQuery) (float64, error)
}

// Visualization styles a remapped band as a map layer.
type Visualization struct {
	Palette []string
	Min     int
	Max     int
}

// DefaultVisualization is the six-color macro class palette over 1..6.
func DefaultVisualization() Visualization {
	return Visualization{Palette: Palette(), Min: int(MinClass), Max: int(MaxClass)}
}

// Layer is a renderable map layer for one band.
type Layer struct {
	Year        int    `json:"year"`
	Band        string `json:"band"`
	Title       string `json:"title"`
	TileURL     string `json:"tile_url"`
	Attribution string `json:"attribution,omitempty"`
}

// LayerSource is implemented by backends that can publish map tiles.
type LayerSource interface {
	Layer(ctx context.Context, asset string, band YearBand, clip StudyRegion, vis Visualization) (*Layer, error)
}

// Coordinates returns mp as nested lon/lat arrays, the layout GeoJSON and the
// compute service expect. A nil multipolygon yields nil.
func Coordinates(mp *geom.MultiPolygon) [][][][]float64 {
	if mp == nil {
		return nil
	}
	out := make([][][][]float64, 0, mp.NumPolygons())
	for _, poly := range mp.Coords() {
		rings := make([][][]float64, 0, len(poly))
		for _, ring := range poly {
			pts := make([][]float64, 0, len(ring))
			for _, c := range ring {
				pts = append(pts, []float64{c.X(), c.Y()})
			}
			rings = append(rings, pts)
		}
		out = append(out, rings)
	}
	return out
}
