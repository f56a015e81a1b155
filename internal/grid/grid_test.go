package grid

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mapbiomas-cli/internal/landcover"
	"github.com/sells-group/mapbiomas-cli/internal/region"
)

const testAsset = "test/mapbiomas"

func newTestGrid(t *testing.T, width, height int) *Grid {
	t.Helper()
	g, err := New(testAsset, -55, -14, 0.01, width, height)
	require.NoError(t, err)
	return g
}

func rawBand(year int) landcover.YearBand {
	return landcover.YearBand{Year: year, Name: landcover.BandName(year)}
}

func TestNew_InvalidShape(t *testing.T) {
	_, err := New(testAsset, 0, 0, 0, 10, 10)
	assert.Error(t, err)
	_, err = New(testAsset, 0, 0, 0.1, 0, 10)
	assert.Error(t, err)
	_, err = New(testAsset, 0, -89, 1, 10, 10)
	assert.Error(t, err)
}

func TestPixelArea_VariesWithLatitude(t *testing.T) {
	g, err := New(testAsset, 0, 80, 1, 1, 80)
	require.NoError(t, err)

	// Row 79 spans 0..1°N, row 0 spans 79..80°N.
	equator := g.PixelAreaM2(79)
	polar := g.PixelAreaM2(0)
	assert.InDelta(t, 12363.6e6, equator, 5e6)
	assert.Less(t, polar, equator*0.2)
}

func TestExtentAreaKm2(t *testing.T) {
	g, err := New(testAsset, 0, 1, 1, 1, 1)
	require.NoError(t, err)
	assert.InDelta(t, 12363.6, g.ExtentAreaKm2(), 5)
}

func TestBandNames(t *testing.T) {
	g := newTestGrid(t, 2, 2)
	g.FillBand(landcover.BandName(2022), 3)
	g.FillBand(landcover.BandName(2023), 3)

	names, err := g.BandNames(context.Background(), testAsset)
	require.NoError(t, err)
	assert.Equal(t, []string{"classification_2022", "classification_2023"}, names)

	_, err = g.BandNames(context.Background(), "other")
	assert.True(t, landcover.IsUpstream(err))
}

func TestReduceArea_RemapChain(t *testing.T) {
	g := newTestGrid(t, 10, 10)
	g.FillBand(landcover.BandName(2023), 15) // pasture → farming
	require.NoError(t, g.Set(landcover.BandName(2023), 0, 0, 3))

	r, err := region.Rectangle(-55, -14.1, -54.9, -14)
	require.NoError(t, err)

	remapped := landcover.Remap(landcover.NewRaster(testAsset, []int{2023}), landcover.DefaultLookup())
	band, _ := remapped.Band(2023)

	farming, err := g.ReduceArea(context.Background(), landcover.AreaQuery{
		Asset: testAsset, Band: band, Class: landcover.Farming, Region: r,
	})
	require.NoError(t, err)
	forest, err := g.ReduceArea(context.Background(), landcover.AreaQuery{
		Asset: testAsset, Band: band, Class: landcover.Forest, Region: r,
	})
	require.NoError(t, err)

	assert.InDelta(t, 99*g.PixelAreaM2(5), farming, g.PixelAreaM2(5))
	assert.InDelta(t, g.PixelAreaM2(0), forest, 1)
}

func TestReduceArea_NoDataIgnored(t *testing.T) {
	g := newTestGrid(t, 4, 4)
	g.FillBand(landcover.BandName(2023), NoData)
	r, err := region.Rectangle(-55, -14.04, -54.96, -14)
	require.NoError(t, err)

	for _, c := range landcover.AllClasses() {
		area, err := g.ReduceArea(context.Background(), landcover.AreaQuery{
			Asset: testAsset, Band: rawBand(2023), Class: c, Region: r,
		})
		require.NoError(t, err)
		assert.Zero(t, area)
	}
}

func TestReduceArea_OutsideExtent(t *testing.T) {
	g := newTestGrid(t, 10, 10)
	g.FillBand(landcover.BandName(2023), 1)
	r, err := region.Rectangle(10, 10, 11, 11)
	require.NoError(t, err)

	area, err := g.ReduceArea(context.Background(), landcover.AreaQuery{
		Asset: testAsset, Band: rawBand(2023), Class: landcover.Forest, Region: r,
	})
	require.NoError(t, err)
	assert.Zero(t, area)
}

func TestReduceArea_MaxPixels(t *testing.T) {
	g := newTestGrid(t, 100, 100)
	g.FillBand(landcover.BandName(2023), 1)
	r, err := region.Rectangle(-55, -15, -54, -14)
	require.NoError(t, err)

	_, err = g.ReduceArea(context.Background(), landcover.AreaQuery{
		Asset: testAsset, Band: rawBand(2023), Class: landcover.Forest, Region: r, MaxPixels: 100,
	})
	require.Error(t, err)
	assert.True(t, landcover.IsUpstream(err))
	assert.Contains(t, err.Error(), "too many pixels")
}

func TestReduceArea_StrictLookupRejectsUnmapped(t *testing.T) {
	g := newTestGrid(t, 2, 2)
	g.FillBand(landcover.BandName(2023), 99)
	r, err := region.Rectangle(-55, -14.02, -54.98, -14)
	require.NoError(t, err)

	strict := landcover.Remap(landcover.NewRaster(testAsset, []int{2023}), landcover.DefaultLookup(landcover.WithStrict(true)))
	band, _ := strict.Band(2023)
	_, err = g.ReduceArea(context.Background(), landcover.AreaQuery{
		Asset: testAsset, Band: band, Class: landcover.Forest, Region: r,
	})
	assert.True(t, landcover.IsValidation(err))
}

func TestReduceArea_UnknownBand(t *testing.T) {
	g := newTestGrid(t, 2, 2)
	r, err := region.Rectangle(-55, -14.02, -54.98, -14)
	require.NoError(t, err)
	_, err = g.ReduceArea(context.Background(), landcover.AreaQuery{
		Asset: testAsset, Band: rawBand(1990), Class: landcover.Forest, Region: r,
	})
	assert.True(t, landcover.IsUpstream(err))
}

func TestReduceArea_Canceled(t *testing.T) {
	g := newTestGrid(t, 10, 10)
	g.FillBand(landcover.BandName(2023), 1)
	r, err := region.Rectangle(-55, -14.1, -54.9, -14)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.ReduceArea(ctx, landcover.AreaQuery{
		Asset: testAsset, Band: rawBand(2023), Class: landcover.Forest, Region: r,
	})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLoadFixture(t *testing.T) {
	yml := `
asset: test/mapbiomas
west_lon: -55
north_lat: -14
pixel_deg: 0.5
width: 3
height: 2
bands:
  - years: [2022, 2023]
    fill: 15
    rows:
      - [3, 3]
  - year: 1985
    fill: 33
`
	path := filepath.Join(t.TempDir(), "grid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	g, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, g.Width)
	assert.Equal(t, 2, g.Height)

	names, err := g.BandNames(context.Background(), testAsset)
	require.NoError(t, err)
	assert.Equal(t, []string{"classification_2022", "classification_2023", "classification_1985"}, names)

	v, ok := g.Value("classification_2023", 0, 1)
	require.True(t, ok)
	assert.Equal(t, 3, v)
	v, _ = g.Value("classification_2023", 0, 2)
	assert.Equal(t, 15, v)
	v, _ = g.Value("classification_1985", 1, 2)
	assert.Equal(t, 33, v)
}

func TestLoadFixture_Errors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":  "width: [",
		"no year":   "pixel_deg: 1\nwidth: 1\nheight: 1\nbands:\n  - fill: 1\n",
		"wide row":  "pixel_deg: 1\nwidth: 1\nheight: 1\nbands:\n  - year: 2023\n    rows: [[1, 2]]\n",
		"bad shape": "pixel_deg: 0\nwidth: 1\nheight: 1\n",
		"tall rows": "pixel_deg: 1\nwidth: 1\nheight: 1\nbands:\n  - year: 2023\n    rows: [[1], [2]]\n",
	}
	for name, yml := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(yml))
			assert.Error(t, err)
		})
	}
}

func TestWindow(t *testing.T) {
	g := newTestGrid(t, 10, 10)
	row0, row1, col0, col1, ok := g.window(-54.955, -14.055, -54.925, -14.015)
	require.True(t, ok)
	assert.Equal(t, 1, row0)
	assert.Equal(t, 6, row1)
	assert.Equal(t, 4, col0)
	assert.Equal(t, 8, col1)

	_, _, _, _, ok = g.window(0, 0, 1, 1)
	assert.False(t, ok)
}
