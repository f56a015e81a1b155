package region

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/mapbiomas-cli/internal/landcover"
)

// envelope probes the top-level shape of a GeoJSON document.
type envelope struct {
	Type     string            `json:"type"`
	Geometry json.RawMessage   `json:"geometry"`
	Features []json.RawMessage `json:"features"`
}

// Parse reads a study region from GeoJSON. Accepted inputs are an object
// carrying a "geometry" key (a Feature or a bare wrapper), a
// FeatureCollection whose polygons are merged, or a Polygon/MultiPolygon
// geometry. Blank input returns landcover.ErrNoRegion; anything malformed is
// a *landcover.ValidationError.
func Parse(data []byte) (*Region, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, landcover.ErrNoRegion
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &landcover.ValidationError{Field: "region", Reason: "malformed GeoJSON", Err: err}
	}

	mp := geom.NewMultiPolygon(geom.XY)
	switch {
	case env.Type == "FeatureCollection":
		if len(env.Features) == 0 {
			return nil, landcover.NewValidationError("region", "feature collection has no features")
		}
		for i, raw := range env.Features {
			var fe envelope
			if err := json.Unmarshal(raw, &fe); err != nil {
				return nil, &landcover.ValidationError{Field: "region", Reason: fmt.Sprintf("feature %d malformed", i), Err: err}
			}
			if err := decodeInto(mp, fe.Geometry); err != nil {
				return nil, err
			}
		}
	case env.Geometry != nil:
		if err := decodeInto(mp, env.Geometry); err != nil {
			return nil, err
		}
	case env.Type == "Polygon" || env.Type == "MultiPolygon" || env.Type == "GeometryCollection":
		if err := decodeInto(mp, data); err != nil {
			return nil, err
		}
	default:
		return nil, landcover.NewValidationError("region", `missing "geometry" key`)
	}

	return New(mp)
}

// ParseFile reads a region from a GeoJSON file, or a shapefile when the path
// ends in .shp.
func ParseFile(path string) (*Region, error) {
	if isShapefile(path) {
		return LoadShapefile(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "region: read %s", path)
	}
	return Parse(data)
}

// decodeInto decodes one GeoJSON geometry and appends its polygons to mp.
func decodeInto(mp *geom.MultiPolygon, raw json.RawMessage) error {
	if len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return landcover.NewValidationError("region", "geometry is null")
	}
	var g geom.T
	if err := geojson.Unmarshal(raw, &g); err != nil {
		return &landcover.ValidationError{Field: "region", Reason: "malformed geometry", Err: err}
	}
	return appendPolygons(mp, g)
}

func appendPolygons(mp *geom.MultiPolygon, g geom.T) error {
	switch t := g.(type) {
	case *geom.Polygon:
		return pushPolygon(mp, t)
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			if err := pushPolygon(mp, t.Polygon(i)); err != nil {
				return err
			}
		}
		return nil
	case *geom.GeometryCollection:
		for _, sub := range t.Geoms() {
			if err := appendPolygons(mp, sub); err != nil {
				return err
			}
		}
		return nil
	case nil:
		return landcover.NewValidationError("region", "geometry is null")
	default:
		return landcover.NewValidationError("region", fmt.Sprintf("unsupported geometry type %T", g))
	}
}

// pushPolygon copies p as XY into mp so mixed input layouts merge cleanly.
func pushPolygon(mp *geom.MultiPolygon, p *geom.Polygon) error {
	rings := make([][]geom.Coord, 0, p.NumLinearRings())
	for r := 0; r < p.NumLinearRings(); r++ {
		src := p.LinearRing(r).Coords()
		ring := make([]geom.Coord, len(src))
		for k, c := range src {
			ring[k] = geom.Coord{c[0], c[1]}
		}
		rings = append(rings, ring)
	}
	xyPoly, err := geom.NewPolygon(geom.XY).SetCoords(rings)
	if err != nil {
		return &landcover.ValidationError{Field: "region", Reason: "invalid polygon", Err: err}
	}
	if err := mp.Push(xyPoly); err != nil {
		return &landcover.ValidationError{Field: "region", Reason: "invalid polygon", Err: err}
	}
	return nil
}
