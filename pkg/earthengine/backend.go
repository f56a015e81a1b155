package earthengine

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/mapbiomas-cli/internal/landcover"
)

// areaBand names the per-pixel area band in reduce results.
const areaBand = "area"

// Attribution credits the land-cover data on published layers.
const Attribution = "MapBiomas Collection 9"

// Backend runs land-cover queries on Earth Engine.
type Backend struct {
	client *Client
}

var (
	_ landcover.Backend     = (*Backend)(nil)
	_ landcover.LayerSource = (*Backend)(nil)
)

// NewBackend adapts client to the land-cover backend contracts.
func NewBackend(client *Client) *Backend {
	return &Backend{client: client}
}

// Client returns the underlying client.
func (b *Backend) Client() *Client {
	return b.client
}

// Close releases idle connections.
func (b *Backend) Close() error {
	b.client.httpClient.CloseIdleConnections()
	return nil
}

// BandNames lists the bands of asset.
func (b *Backend) BandNames(ctx context.Context, asset string) ([]string, error) {
	raw, err := b.client.ComputeValue(ctx, BandNames(ImageLoad(asset)))
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err != nil {
		return nil, &landcover.UpstreamError{Op: "band names", Err: eris.Wrap(err, "decode band names")}
	}
	return names, nil
}

// ReduceArea sums pixelArea over pixels of q.Class inside q.Region. A missing
// or null band in the result dictionary means no pixels matched.
func (b *Backend) ReduceArea(ctx context.Context, q landcover.AreaQuery) (float64, error) {
	if q.Region == nil {
		return 0, landcover.ErrNoRegion
	}
	img := BandImage(q.Asset, q.Band)
	mask := Eq(img, ImageConstant(int(q.Class)))
	area := Rename(Multiply(mask, PixelArea()), areaBand)
	expr := ReduceRegion(area, ReducerSum(), RegionGeometry(q.Region.Geometry()), q.ScaleM, q.MaxPixels)

	raw, err := b.client.ComputeValue(ctx, expr)
	if err != nil {
		return 0, err
	}
	var dict map[string]*float64
	if err := json.Unmarshal(raw, &dict); err != nil {
		return 0, &landcover.UpstreamError{Op: "reduce", Err: eris.Wrap(err, "decode reduce result")}
	}
	if v := dict[areaBand]; v != nil {
		return *v, nil
	}
	return 0, nil
}

// Layer publishes band as a styled tile layer, clipped to clip when given.
func (b *Backend) Layer(ctx context.Context, asset string, band landcover.YearBand, clip landcover.StudyRegion, vis landcover.Visualization) (*landcover.Layer, error) {
	img := BandImage(asset, band)
	if clip != nil && !clip.Empty() {
		img = Clip(img, RegionGeometry(clip.Geometry()))
	}
	m, err := b.client.CreateMap(ctx, img, VisParams{
		Min:     float64(vis.Min),
		Max:     float64(vis.Max),
		Palette: vis.Palette,
	})
	if err != nil {
		return nil, err
	}
	return &landcover.Layer{
		Year:        band.Year,
		Band:        band.Name,
		Title:       "MapBiomas " + strconv.Itoa(band.Year),
		TileURL:     m.TileURL,
		Attribution: Attribution,
	}, nil
}

// BandImage selects band from asset and applies its remap chain. A
// pass-through lookup restores unmapped pixels with unmask; a strict lookup
// leaves them masked.
func BandImage(asset string, band landcover.YearBand) *Node {
	img := Select(ImageLoad(asset), band.Name)
	for _, l := range band.Remaps {
		from, to := l.Pairs()
		remapped := Remap(img, from, to)
		if !l.Strict() {
			remapped = Unmask(remapped, img)
		}
		img = remapped
	}
	return img
}

// RegionGeometry converts a multipolygon to a geometry node.
func RegionGeometry(mp *geom.MultiPolygon) *Node {
	return MultiPolygon(landcover.Coordinates(mp))
}
