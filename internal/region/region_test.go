package region

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mapbiomas-cli/internal/landcover"
)

// squareFeature returns a Feature holding a lon/lat square of side km
// centered on (lon, lat).
func squareFeature(lon, lat, km float64) string {
	dLat := km / 111.195 / 2
	dLon := km / (111.195 * math.Cos(lat*math.Pi/180)) / 2
	return fmt.Sprintf(`{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":[[[%f,%f],[%f,%f],[%f,%f],[%f,%f],[%f,%f]]]}}`,
		lon-dLon, lat-dLat, lon+dLon, lat-dLat, lon+dLon, lat+dLat, lon-dLon, lat+dLat, lon-dLon, lat-dLat)
}

func TestParse_Feature(t *testing.T) {
	r, err := Parse([]byte(squareFeature(-55, -15, 10)))
	require.NoError(t, err)
	assert.False(t, r.Empty())
	assert.Equal(t, 1, r.Geometry().NumPolygons())
	assert.InDelta(t, 100, r.AreaKm2(), 1.0)

	lon, lat := r.Center()
	assert.InDelta(t, -55, lon, 1e-6)
	assert.InDelta(t, -15, lat, 1e-6)
}

func TestParse_GeometryWrapper(t *testing.T) {
	in := `{"geometry":{"type":"Polygon","coordinates":[[[-55,-15],[-54,-15],[-54,-14],[-55,-14],[-55,-15]]]}}`
	r, err := Parse([]byte(in))
	require.NoError(t, err)
	assert.True(t, r.Contains(-54.5, -14.5))
	assert.False(t, r.Contains(-53.5, -14.5))
}

func TestParse_BareMultiPolygon(t *testing.T) {
	in := `{"type":"MultiPolygon","coordinates":[[[[0,0],[1,0],[1,1],[0,1],[0,0]]],[[[2,2],[3,2],[3,3],[2,3],[2,2]]]]}`
	r, err := Parse([]byte(in))
	require.NoError(t, err)
	assert.Equal(t, 2, r.Geometry().NumPolygons())
	assert.True(t, r.Contains(2.5, 2.5))
	assert.False(t, r.Contains(1.5, 1.5))
}

func TestParse_FeatureCollectionMerges(t *testing.T) {
	in := fmt.Sprintf(`{"type":"FeatureCollection","features":[%s,%s]}`,
		squareFeature(-55, -15, 10), squareFeature(-50, -10, 10))
	r, err := Parse([]byte(in))
	require.NoError(t, err)
	assert.Equal(t, 2, r.Geometry().NumPolygons())
	assert.InDelta(t, 200, r.AreaKm2(), 2.0)
}

func TestParse_Blank(t *testing.T) {
	_, err := Parse([]byte("  \n"))
	assert.True(t, errors.Is(err, landcover.ErrNoRegion))
	assert.False(t, landcover.IsValidation(err))
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"malformed json", `{"geometry":`},
		{"missing geometry", `{"type":"Feature","properties":{}}`},
		{"null geometry", `{"type":"Feature","geometry":null}`},
		{"point", `{"geometry":{"type":"Point","coordinates":[1,2]}}`},
		{"unknown type", `{"geometry":{"type":"Blob","coordinates":[]}}`},
		{"too few points", `{"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[0,0]]]}}`},
		{"unclosed ring", `{"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1]]]}}`},
		{"out of range", `{"geometry":{"type":"Polygon","coordinates":[[[0,0],[200,0],[200,1],[0,1],[0,0]]]}}`},
		{"zero area", `{"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[2,0],[0,0]]]}}`},
		{"empty polygon", `{"geometry":{"type":"Polygon","coordinates":[]}}`},
		{"empty collection", `{"type":"FeatureCollection","features":[]}`},
		{"array", `[1,2,3]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Parse([]byte(tt.input))
			require.Error(t, err)
			assert.Nil(t, r)
			assert.True(t, landcover.IsValidation(err), "expected ValidationError, got %v", err)
			assert.False(t, errors.Is(err, landcover.ErrNoRegion))
		})
	}
}

func TestContains_Hole(t *testing.T) {
	in := `{"geometry":{"type":"Polygon","coordinates":[
		[[0,0],[10,0],[10,10],[0,10],[0,0]],
		[[4,4],[6,4],[6,6],[4,6],[4,4]]]}}`
	r, err := Parse([]byte(in))
	require.NoError(t, err)

	assert.True(t, r.Contains(1, 1))
	assert.False(t, r.Contains(5, 5))
	assert.True(t, r.Contains(0, 5), "boundary counts as inside")
	assert.False(t, r.Contains(11, 5))
}

func TestAreaKm2_HoleSubtracted(t *testing.T) {
	outer, err := Rectangle(0, 0, 1, 1)
	require.NoError(t, err)

	in := `{"geometry":{"type":"Polygon","coordinates":[
		[[0,0],[1,0],[1,1],[0,1],[0,0]],
		[[0.25,0.25],[0.75,0.25],[0.75,0.75],[0.25,0.75],[0.25,0.25]]]}}`
	holed, err := Parse([]byte(in))
	require.NoError(t, err)

	assert.InDelta(t, outer.AreaKm2()*0.75, holed.AreaKm2(), outer.AreaKm2()*0.01)
}

func TestAreaKm2_ShrinksWithLatitude(t *testing.T) {
	eq, err := Rectangle(0, 0, 1, 1)
	require.NoError(t, err)
	south, err := Rectangle(0, -60, 1, -59)
	require.NoError(t, err)

	// A one-degree cell near the equator is ~12,300 km²; at 60°S about half.
	assert.InDelta(t, 12364, eq.AreaKm2(), 50)
	assert.Less(t, south.AreaKm2(), eq.AreaKm2()*0.55)
}

func TestHash(t *testing.T) {
	a, err := Rectangle(0, 0, 1, 1)
	require.NoError(t, err)
	b, err := Rectangle(0, 0, 1, 1)
	require.NoError(t, err)
	c, err := Rectangle(0, 0, 2, 1)
	require.NoError(t, err)

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	hc, err := c.Hash()
	require.NoError(t, err)

	assert.Len(t, ha, 64)
	assert.Equal(t, ha, hb)
	assert.NotEqual(t, ha, hc)
}

func TestCoordinatesAndGeoJSON(t *testing.T) {
	r, err := Rectangle(-55, -15, -54, -14)
	require.NoError(t, err)

	coords := r.Coordinates()
	require.Len(t, coords, 1)
	require.Len(t, coords[0], 1)
	assert.Len(t, coords[0][0], 5)
	assert.Equal(t, []float64{-55, -15}, coords[0][0][0])

	data, err := r.GeoJSON()
	require.NoError(t, err)
	back, err := Parse(data)
	require.NoError(t, err)
	assert.InDelta(t, r.AreaKm2(), back.AreaKm2(), 1e-6)
}

func TestLoadShapefile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "area.shp")
	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)

	// Clockwise shell with a counter-clockwise hole.
	shell := []shp.Point{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 0}}
	hole := []shp.Point{{X: 4, Y: 4}, {X: 6, Y: 4}, {X: 6, Y: 6}, {X: 4, Y: 6}, {X: 4, Y: 4}}
	poly := shp.Polygon(*shp.NewPolyLine([][]shp.Point{shell, hole}))
	w.Write(&poly)
	w.Close()

	r, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Geometry().NumPolygons())
	assert.Equal(t, 2, r.Geometry().Polygon(0).NumLinearRings())
	assert.True(t, r.Contains(1, 1))
	assert.False(t, r.Contains(5, 5))
}

func TestParseFile_Missing(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "nope.geojson"))
	require.Error(t, err)
}
