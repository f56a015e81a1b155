// Package grid is an in-memory geographic raster that evaluates area
// reductions locally. It backs fixtures and tests; production data stays on
// the remote compute service.
package grid

import (
	"context"
	"fmt"
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mapbiomas-cli/internal/landcover"
)

// EarthRadiusM is the mean Earth radius in meters.
const EarthRadiusM = 6371008.8

// NoData marks pixels outside the classified area. MapBiomas uses 0.
const NoData = 0

// Grid is an EPSG:4326 raster with square pixels of PixelDeg degrees.
// Row 0 is the northern edge; column 0 the western edge.
type Grid struct {
	Asset     string
	WestLon   float64
	NorthLat  float64
	PixelDeg  float64
	Width     int
	Height    int
	bandOrder []string
	bands     map[string][]int
	rowAreas  []float64
}

var _ landcover.Backend = (*Grid)(nil)

// New creates an empty grid.
func New(asset string, westLon, northLat, pixelDeg float64, width, height int) (*Grid, error) {
	if pixelDeg <= 0 || width <= 0 || height <= 0 {
		return nil, eris.Errorf("grid: invalid shape %dx%d at %g°", width, height, pixelDeg)
	}
	if northLat > 90 || northLat-float64(height)*pixelDeg < -90 {
		return nil, eris.Errorf("grid: latitude extent out of range")
	}
	g := &Grid{
		Asset:    asset,
		WestLon:  westLon,
		NorthLat: northLat,
		PixelDeg: pixelDeg,
		Width:    width,
		Height:   height,
		bands:    make(map[string][]int),
		rowAreas: make([]float64, height),
	}
	dLon := pixelDeg * math.Pi / 180
	for row := 0; row < height; row++ {
		top := (northLat - float64(row)*pixelDeg) * math.Pi / 180
		bottom := (northLat - float64(row+1)*pixelDeg) * math.Pi / 180
		g.rowAreas[row] = EarthRadiusM * EarthRadiusM * dLon * math.Abs(math.Sin(top)-math.Sin(bottom))
	}
	return g, nil
}

// SetBand stores row-major pixel values for a band.
func (g *Grid) SetBand(name string, values []int) error {
	if len(values) != g.Width*g.Height {
		return eris.Errorf("grid: band %s has %d values, want %d", name, len(values), g.Width*g.Height)
	}
	if _, ok := g.bands[name]; !ok {
		g.bandOrder = append(g.bandOrder, name)
	}
	g.bands[name] = append([]int(nil), values...)
	return nil
}

// FillBand sets every pixel of a band to v.
func (g *Grid) FillBand(name string, v int) {
	values := make([]int, g.Width*g.Height)
	for i := range values {
		values[i] = v
	}
	_ = g.SetBand(name, values)
}

// Set writes one pixel. The band must exist.
func (g *Grid) Set(name string, row, col, v int) error {
	values, ok := g.bands[name]
	if !ok {
		return eris.Errorf("grid: unknown band %s", name)
	}
	if row < 0 || row >= g.Height || col < 0 || col >= g.Width {
		return eris.Errorf("grid: pixel (%d, %d) outside %dx%d", row, col, g.Width, g.Height)
	}
	values[row*g.Width+col] = v
	return nil
}

// Value returns the raw pixel value.
func (g *Grid) Value(name string, row, col int) (int, bool) {
	values, ok := g.bands[name]
	if !ok || row < 0 || row >= g.Height || col < 0 || col >= g.Width {
		return 0, false
	}
	return values[row*g.Width+col], true
}

// PixelAreaM2 returns the area of a pixel in the given row.
func (g *Grid) PixelAreaM2(row int) float64 {
	return g.rowAreas[row]
}

// ExtentAreaKm2 returns the total area of the grid.
func (g *Grid) ExtentAreaKm2() float64 {
	var sum float64
	for _, a := range g.rowAreas {
		sum += a
	}
	return sum * float64(g.Width) / 1e6
}

// Close is a no-op; Grid holds no external resources.
func (g *Grid) Close() error {
	return nil
}

// BandNames lists the grid's bands in insertion order.
func (g *Grid) BandNames(_ context.Context, asset string) ([]string, error) {
	if asset != g.Asset {
		return nil, &landcover.UpstreamError{Op: "band names", Err: eris.Errorf("asset %q not found", asset)}
	}
	return append([]string(nil), g.bandOrder...), nil
}

// ReduceArea sums the spherical area of pixels whose centers fall inside the
// region and whose remapped value equals the requested class. Pixels outside
// the grid contribute nothing. The grid evaluates at its native resolution;
// q.ScaleM is not used.
func (g *Grid) ReduceArea(ctx context.Context, q landcover.AreaQuery) (float64, error) {
	if q.Asset != g.Asset {
		return 0, &landcover.UpstreamError{Op: "reduce", Err: eris.Errorf("asset %q not found", q.Asset)}
	}
	values, ok := g.bands[q.Band.Name]
	if !ok {
		return 0, &landcover.UpstreamError{Op: "reduce", Err: eris.Errorf("band %q not found", q.Band.Name)}
	}

	b := q.Region.Bounds()
	row0, row1, col0, col1, ok := g.window(b.Min(0), b.Min(1), b.Max(0), b.Max(1))
	if !ok {
		return 0, nil
	}
	pixels := int64(row1-row0) * int64(col1-col0)
	if q.MaxPixels > 0 && pixels > q.MaxPixels {
		return 0, &landcover.UpstreamError{
			Op:  "reduce",
			Err: eris.Errorf("too many pixels in region: %d > maxPixels %d", pixels, q.MaxPixels),
		}
	}

	var sum float64
	for row := row0; row < row1; row++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		lat := g.NorthLat - (float64(row)+0.5)*g.PixelDeg
		for col := col0; col < col1; col++ {
			v := values[row*g.Width+col]
			if v == NoData {
				continue
			}
			lon := g.WestLon + (float64(col)+0.5)*g.PixelDeg
			if !q.Region.Contains(lon, lat) {
				continue
			}
			mapped, err := q.Band.Evaluate(v)
			if err != nil {
				return 0, err
			}
			if mapped == int(q.Class) {
				sum += g.rowAreas[row]
			}
		}
	}
	return sum, nil
}

// window clips a lon/lat box to the grid's pixel index ranges [row0,row1)
// and [col0,col1).
func (g *Grid) window(minLon, minLat, maxLon, maxLat float64) (row0, row1, col0, col1 int, ok bool) {
	col0 = clamp(int(math.Floor((minLon-g.WestLon)/g.PixelDeg)), 0, g.Width)
	col1 = clamp(int(math.Ceil((maxLon-g.WestLon)/g.PixelDeg)), 0, g.Width)
	row0 = clamp(int(math.Floor((g.NorthLat-maxLat)/g.PixelDeg)), 0, g.Height)
	row1 = clamp(int(math.Ceil((g.NorthLat-minLat)/g.PixelDeg)), 0, g.Height)
	return row0, row1, col0, col1, row1 > row0 && col1 > col0
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// String describes the grid shape.
func (g *Grid) String() string {
	return fmt.Sprintf("grid %s %dx%d @ %g° from (%g, %g)", g.Asset, g.Width, g.Height, g.PixelDeg, g.WestLon, g.NorthLat)
}
