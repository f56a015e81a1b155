package grid

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/mapbiomas-cli/internal/landcover"
)

// Fixture is the YAML description of a local grid.
type Fixture struct {
	Asset    string        `yaml:"asset"`
	WestLon  float64       `yaml:"west_lon"`
	NorthLat float64       `yaml:"north_lat"`
	PixelDeg float64       `yaml:"pixel_deg"`
	Width    int           `yaml:"width"`
	Height   int           `yaml:"height"`
	Bands    []FixtureBand `yaml:"bands"`
}

// FixtureBand fills a band with a constant, then overlays explicit rows
// (row 0 is the northern edge). Years expand to classification_<year>.
type FixtureBand struct {
	Year  int     `yaml:"year"`
	Fill  int     `yaml:"fill"`
	Rows  [][]int `yaml:"rows"`
	Years []int   `yaml:"years"`
}

// LoadFile reads a YAML fixture and builds the grid.
func LoadFile(path string) (*Grid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "grid: read fixture %s", path)
	}
	return Load(data)
}

// Load builds a grid from YAML fixture bytes.
func Load(data []byte) (*Grid, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "grid: parse fixture")
	}
	if f.Asset == "" {
		f.Asset = landcover.DefaultAsset
	}
	g, err := New(f.Asset, f.WestLon, f.NorthLat, f.PixelDeg, f.Width, f.Height)
	if err != nil {
		return nil, err
	}

	for _, b := range f.Bands {
		years := b.Years
		if b.Year != 0 {
			years = append([]int{b.Year}, years...)
		}
		if len(years) == 0 {
			return nil, eris.New("grid: fixture band without year")
		}
		values, err := g.bandValues(b)
		if err != nil {
			return nil, err
		}
		for _, y := range years {
			if err := g.SetBand(landcover.BandName(y), values); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

func (g *Grid) bandValues(b FixtureBand) ([]int, error) {
	values := make([]int, g.Width*g.Height)
	for i := range values {
		values[i] = b.Fill
	}
	if len(b.Rows) > g.Height {
		return nil, eris.Errorf("grid: fixture has %d rows, grid height %d", len(b.Rows), g.Height)
	}
	for r, row := range b.Rows {
		if len(row) > g.Width {
			return nil, eris.Errorf("grid: fixture row %d has %d values, grid width %d", r, len(row), g.Width)
		}
		copy(values[r*g.Width:], row)
	}
	return values, nil
}
