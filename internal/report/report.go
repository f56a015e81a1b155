// Package report renders area results for people and other programs.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/mapbiomas-cli/internal/landcover"
)

// Format is an output encoding.
type Format string

// Supported formats.
const (
	FormatTable   Format = "table"
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatXLSX    Format = "xlsx"
	FormatGeoJSON Format = "geojson"
)

// Formats lists every supported format.
func Formats() []Format {
	return []Format{FormatTable, FormatCSV, FormatJSON, FormatXLSX, FormatGeoJSON}
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "" {
		return FormatTable, nil
	}
	for _, known := range Formats() {
		if f == known {
			return f, nil
		}
	}
	return "", eris.Errorf("report: unknown format %q", s)
}

// Region is the study area drawn in GeoJSON output.
type Region interface {
	Coordinates() [][][][]float64
	AreaKm2() float64
}

// Options controls rendering.
type Options struct {
	Lang language.Tag
	// Region is required for GeoJSON output.
	Region Region
}

func init() {
	pt := language.BrazilianPortuguese
	for key, msg := range map[string]string{
		"Year":       "Ano",
		"Class":      "Classe",
		"Name":       "Nome",
		"Area (km²)": "Área (km²)",
		"Total":      "Total",
		"Failed":     "Falhou",
	} {
		_ = message.SetString(pt, key, msg)
	}
}

// Write renders res to w in format f.
func Write(w io.Writer, f Format, res *landcover.AreaResult, opts Options) error {
	if res == nil {
		res = &landcover.AreaResult{}
	}
	if opts.Lang == language.Und {
		opts.Lang = language.BrazilianPortuguese
	}
	switch f {
	case FormatTable, "":
		return writeTable(w, res, opts.Lang)
	case FormatCSV:
		return writeCSV(w, res)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(res), "report: encode json")
	case FormatXLSX:
		return writeXLSX(w, res, opts.Lang)
	case FormatGeoJSON:
		return writeGeoJSON(w, res, opts)
	default:
		return eris.Errorf("report: unknown format %q", f)
	}
}

func writeTable(w io.Writer, res *landcover.AreaResult, tag language.Tag) error {
	p := message.NewPrinter(tag)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Sprintf("Year"), p.Sprintf("Class"), p.Sprintf("Name"), p.Sprintf("Area (km²)"))
	lastYear := 0
	for i, rec := range res.Records {
		if i > 0 && rec.Year != lastYear {
			fmt.Fprintf(tw, "%d\t\t%s\t%s\n", lastYear, p.Sprintf("Total"), p.Sprintf("%.2f", res.Total(lastYear)))
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", rec.Year, rec.Class, rec.Class.Name(tag), p.Sprintf("%.2f", rec.AreaKm2))
		lastYear = rec.Year
	}
	if len(res.Records) > 0 {
		fmt.Fprintf(tw, "%d\t\t%s\t%s\n", lastYear, p.Sprintf("Total"), p.Sprintf("%.2f", res.Total(lastYear)))
	}
	for _, f := range res.Failures {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", f.Year, f.Class, p.Sprintf("Failed"), f.Message)
	}
	return eris.Wrap(tw.Flush(), "report: write table")
}

func writeCSV(w io.Writer, res *landcover.AreaResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"year", "class", "name", "area_km2"}); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	for _, rec := range res.Records {
		row := []string{
			strconv.Itoa(rec.Year),
			strconv.Itoa(int(rec.Class)),
			rec.Name,
			strconv.FormatFloat(rec.AreaKm2, 'f', 4, 64),
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "report: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush csv")
}
