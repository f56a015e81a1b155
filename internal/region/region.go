// Package region parses and validates the caller-supplied study area.
package region

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/golang/geo/s2"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"

	"github.com/sells-group/mapbiomas-cli/internal/landcover"
)

// EarthRadiusKm is the mean Earth radius used for spherical areas.
const EarthRadiusKm = 6371.0088

// Region is a validated polygonal study area in EPSG:4326.
type Region struct {
	mp     *geom.MultiPolygon
	bounds *geom.Bounds
}

var _ landcover.StudyRegion = (*Region)(nil)

// New validates mp and wraps it as a Region.
func New(mp *geom.MultiPolygon) (*Region, error) {
	if mp == nil || mp.NumPolygons() == 0 {
		return nil, landcover.NewValidationError("region", "geometry is empty")
	}
	clean := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for i := 0; i < mp.NumPolygons(); i++ {
		poly, err := cleanPolygon(mp.Polygon(i), i)
		if err != nil {
			return nil, err
		}
		if err := clean.Push(poly); err != nil {
			return nil, &landcover.ValidationError{Field: "region", Reason: "invalid polygon", Err: err}
		}
	}
	return &Region{mp: clean, bounds: clean.Bounds()}, nil
}

// FromPolygon wraps a single polygon.
func FromPolygon(p *geom.Polygon) (*Region, error) {
	if p == nil {
		return nil, landcover.NewValidationError("region", "geometry is empty")
	}
	mp := geom.NewMultiPolygon(p.Layout())
	if err := mp.Push(p); err != nil {
		return nil, &landcover.ValidationError{Field: "region", Reason: "invalid polygon", Err: err}
	}
	return New(mp)
}

// Rectangle builds an axis-aligned lon/lat box region.
func Rectangle(minLon, minLat, maxLon, maxLat float64) (*Region, error) {
	p, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{{
		{minLon, minLat}, {maxLon, minLat}, {maxLon, maxLat}, {minLon, maxLat}, {minLon, minLat},
	}})
	if err != nil {
		return nil, eris.Wrap(err, "region: build rectangle")
	}
	return FromPolygon(p)
}

// cleanPolygon re-lays a polygon as XY and checks its rings.
func cleanPolygon(p *geom.Polygon, idx int) (*geom.Polygon, error) {
	if p.NumLinearRings() == 0 {
		return nil, landcover.NewValidationError("region", fmt.Sprintf("polygon %d has no rings", idx))
	}
	rings := make([][]geom.Coord, 0, p.NumLinearRings())
	for r := 0; r < p.NumLinearRings(); r++ {
		src := p.LinearRing(r).Coords()
		if len(src) < 4 {
			return nil, landcover.NewValidationError("region", fmt.Sprintf("polygon %d ring %d has %d points, need at least 4", idx, r, len(src)))
		}
		ring := make([]geom.Coord, len(src))
		for k, c := range src {
			lon, lat := c[0], c[1]
			if math.IsNaN(lon) || math.IsNaN(lat) || lon < -180 || lon > 180 || lat < -90 || lat > 90 {
				return nil, landcover.NewValidationError("region", fmt.Sprintf("coordinate (%g, %g) out of range", lon, lat))
			}
			ring[k] = geom.Coord{lon, lat}
		}
		first, last := ring[0], ring[len(ring)-1]
		if first[0] != last[0] || first[1] != last[1] {
			return nil, landcover.NewValidationError("region", fmt.Sprintf("polygon %d ring %d is not closed", idx, r))
		}
		rings = append(rings, ring)
	}
	out, err := geom.NewPolygon(geom.XY).SetCoords(rings)
	if err != nil {
		return nil, &landcover.ValidationError{Field: "region", Reason: "invalid polygon", Err: err}
	}
	if out.Area() == 0 {
		return nil, landcover.NewValidationError("region", fmt.Sprintf("polygon %d has zero area", idx))
	}
	return out, nil
}

// Geometry returns the region as a multipolygon.
func (r *Region) Geometry() *geom.MultiPolygon {
	return r.mp
}

// Bounds returns the lon/lat bounding box.
func (r *Region) Bounds() *geom.Bounds {
	return r.bounds
}

// Empty reports whether the region has no polygons.
func (r *Region) Empty() bool {
	return r == nil || r.mp == nil || r.mp.NumPolygons() == 0
}

// Center returns the bounding box center as lon, lat.
func (r *Region) Center() (lon, lat float64) {
	return (r.bounds.Min(0) + r.bounds.Max(0)) / 2, (r.bounds.Min(1) + r.bounds.Max(1)) / 2
}

// Contains reports whether (lon, lat) lies in a shell and outside its holes.
// Points on a boundary count as inside.
func (r *Region) Contains(lon, lat float64) bool {
	if !r.bounds.OverlapsPoint(geom.XY, geom.Coord{lon, lat}) {
		return false
	}
	pt := geom.Coord{lon, lat}
	for i := 0; i < r.mp.NumPolygons(); i++ {
		poly := r.mp.Polygon(i)
		if xy.LocatePointInRing(geom.XY, pt, poly.LinearRing(0).FlatCoords()) == location.Exterior {
			continue
		}
		inHole := false
		for h := 1; h < poly.NumLinearRings(); h++ {
			if xy.LocatePointInRing(geom.XY, pt, poly.LinearRing(h).FlatCoords()) == location.Interior {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}

// AreaKm2 returns the spherical area of the region in square kilometers.
func (r *Region) AreaKm2() float64 {
	var steradians float64
	for i := 0; i < r.mp.NumPolygons(); i++ {
		poly := r.mp.Polygon(i)
		for k := 0; k < poly.NumLinearRings(); k++ {
			a := ringLoop(poly.LinearRing(k).Coords()).Area()
			if k == 0 {
				steradians += a
			} else {
				steradians -= a
			}
		}
	}
	return steradians * EarthRadiusKm * EarthRadiusKm
}

// ringLoop converts a closed lon/lat ring into a normalized S2 loop.
func ringLoop(ring []geom.Coord) *s2.Loop {
	pts := make([]s2.Point, 0, len(ring))
	for _, c := range ring[:len(ring)-1] {
		pts = append(pts, s2.PointFromLatLng(s2.LatLngFromDegrees(c[1], c[0])))
	}
	loop := s2.LoopFromPoints(pts)
	loop.Normalize()
	return loop
}

// Coordinates returns the multipolygon as nested lon/lat arrays, the layout
// GeoJSON and the compute service expect.
func (r *Region) Coordinates() [][][][]float64 {
	return landcover.Coordinates(r.mp)
}

// EWKB encodes the region as little-endian EWKB with SRID 4326.
func (r *Region) EWKB() ([]byte, error) {
	data, err := ewkb.Marshal(r.mp, binary.LittleEndian)
	if err != nil {
		return nil, eris.Wrap(err, "region: encode EWKB")
	}
	return data, nil
}

// Hash returns the hex SHA-256 of the region's EWKB, used as a cache key.
func (r *Region) Hash() (string, error) {
	data, err := r.EWKB()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", sha256.Sum256(data)), nil
}

// GeoJSON encodes the region geometry as GeoJSON.
func (r *Region) GeoJSON() ([]byte, error) {
	data, err := geojson.Marshal(r.mp)
	if err != nil {
		return nil, eris.Wrap(err, "region: encode geojson")
	}
	return data, nil
}
