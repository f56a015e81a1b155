package report

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/mapbiomas-cli/internal/landcover"
)

// writeXLSX writes two sheets: one row per record, and a pivot of years by
// class for charting in a spreadsheet. Failed points read "failed" in the
// pivot.
func writeXLSX(w io.Writer, res *landcover.AreaResult, tag language.Tag) error {
	p := message.NewPrinter(tag)
	f := xlsx.NewFile()

	records, err := f.AddSheet("areas")
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}
	addStrings(records.AddRow(), p.Sprintf("Year"), p.Sprintf("Class"), p.Sprintf("Name"), p.Sprintf("Area (km²)"))
	for _, rec := range res.Records {
		row := records.AddRow()
		row.AddCell().SetInt(rec.Year)
		row.AddCell().SetInt(int(rec.Class))
		row.AddCell().SetString(rec.Class.Name(tag))
		row.AddCell().SetFloat(rec.AreaKm2)
	}

	pivot, err := f.AddSheet("series")
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}
	series := Series(res)
	header := pivot.AddRow()
	header.AddCell().SetString(p.Sprintf("Year"))
	for _, s := range series {
		header.AddCell().SetString(s.Class.Name(tag))
	}
	for i, year := range SeriesYears(series) {
		row := pivot.AddRow()
		row.AddCell().SetInt(year)
		for _, s := range series {
			if s.Failed != nil && s.Failed[i] {
				row.AddCell().SetString(p.Sprintf("failed"))
				continue
			}
			row.AddCell().SetFloat(s.Values[i])
		}
	}

	return eris.Wrap(f.Write(w), "xlsx: write")
}

func addStrings(row *xlsx.Row, values ...string) {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
