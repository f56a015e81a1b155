package report

import (
	"io"
	"strconv"

	geojson "github.com/paulmach/go.geojson"
	"github.com/rotisserie/eris"

	"github.com/sells-group/mapbiomas-cli/internal/landcover"
)

// writeGeoJSON emits the study region as one feature whose properties hold
// the per-year, per-class areas, keyed "area_<year>_<class>".
func writeGeoJSON(w io.Writer, res *landcover.AreaResult, opts Options) error {
	if opts.Region == nil {
		return landcover.NewValidationError("region", "geojson output needs a study region")
	}

	f := geojson.NewMultiPolygonFeature(opts.Region.Coordinates()...)
	f.SetProperty("region_area_km2", opts.Region.AreaKm2())
	years := make(map[int]bool)
	for _, rec := range res.Records {
		f.SetProperty("area_"+strconv.Itoa(rec.Year)+"_"+strconv.Itoa(int(rec.Class)), rec.AreaKm2)
		years[rec.Year] = true
	}
	for y := range years {
		f.SetProperty("total_"+strconv.Itoa(y), res.Total(y))
	}

	fc := geojson.NewFeatureCollection()
	fc.AddFeature(f)
	data, err := fc.MarshalJSON()
	if err != nil {
		return eris.Wrap(err, "report: marshal geojson")
	}
	_, err = w.Write(data)
	return eris.Wrap(err, "report: write geojson")
}
