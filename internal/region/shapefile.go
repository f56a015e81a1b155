package region

import (
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/sells-group/mapbiomas-cli/internal/landcover"
)

func isShapefile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".shp")
}

// LoadShapefile reads every polygon shape in a shapefile into one region.
// Coordinates must already be lon/lat (EPSG:4326).
func LoadShapefile(path string) (*Region, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "region: open shapefile %s", path)
	}
	defer r.Close() //nolint:errcheck

	mp := geom.NewMultiPolygon(geom.XY)
	for r.Next() {
		n, shape := r.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			zap.L().Debug("region: skipping non-polygon shape", zap.Int("shape", n))
			continue
		}
		appendShapePolygon(mp, poly)
	}
	if err := r.Err(); err != nil {
		return nil, eris.Wrapf(err, "region: read shapefile %s", path)
	}
	if mp.NumPolygons() == 0 {
		return nil, landcover.NewValidationError("region", "shapefile has no polygons")
	}
	return New(mp)
}

// appendShapePolygon splits a shapefile polygon into shells and holes.
// Shapefile shells wind clockwise; a counter-clockwise part is a hole of the
// most recent shell.
func appendShapePolygon(mp *geom.MultiPolygon, p *shp.Polygon) {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return
	}

	var current [][]geom.Coord
	flush := func() {
		if len(current) == 0 {
			return
		}
		poly, err := geom.NewPolygon(geom.XY).SetCoords(current)
		if err != nil {
			zap.L().Debug("region: skipping malformed shapefile polygon", zap.Error(err))
		} else if err := mp.Push(poly); err != nil {
			zap.L().Debug("region: skipping malformed shapefile polygon", zap.Error(err))
		}
		current = nil
	}

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}

		ring := make([]geom.Coord, 0, end-start)
		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			ring = append(ring, geom.Coord{p.Points[j].X, p.Points[j].Y})
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		if len(ring) < 4 {
			continue
		}

		if xy.IsRingCounterClockwise(geom.XY, flat) && len(current) > 0 {
			current = append(current, ring)
			continue
		}
		flush()
		current = [][]geom.Coord{ring}
	}
	flush()
}
