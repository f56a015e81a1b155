package landcover

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
)

const squareMetersPerKm2 = 1e6

// AreaRecord is the area of one macro class in one year.
type AreaRecord struct {
	Year    int        `json:"year"`
	Class   MacroClass `json:"class"`
	Name    string     `json:"name"`
	AreaKm2 float64    `json:"area_km2"`
}

// Failure records a (year, class) reduction that did not complete.
type Failure struct {
	Year    int        `json:"year"`
	Class   MacroClass `json:"class"`
	Message string     `json:"message"`
	Err     error      `json:"-"`
}

// AreaResult is the outcome of one aggregation run. Records are ordered by
// year then class.
type AreaResult struct {
	Records  []AreaRecord `json:"records"`
	Failures []Failure    `json:"failures,omitempty"`
}

// Total returns the summed area for year across all records.
func (r *AreaResult) Total(year int) float64 {
	var sum float64
	for _, rec := range r.Records {
		if rec.Year == year {
			sum += rec.AreaKm2
		}
	}
	return sum
}

// AggregateConfig tunes the aggregator.
type AggregateConfig struct {
	// ScaleM is the analysis resolution in meters. Default: 30.
	ScaleM float64
	// MaxPixels caps the pixels a single reduction may touch. Default: 1e9.
	MaxPixels int64
	// Timeout bounds each (year, class) reduction. Default: 60s.
	Timeout time.Duration
	// Concurrency bounds in-flight reductions. Default: 4.
	Concurrency int
	// FailFast aborts the run on the first upstream or timeout error instead
	// of collecting failures.
	FailFast bool
	// Lang selects class names on records. Default: pt-BR.
	Lang language.Tag
}

// DefaultAggregateConfig returns the analysis defaults of the original viewer.
func DefaultAggregateConfig() AggregateConfig {
	return AggregateConfig{
		ScaleM:      30,
		MaxPixels:   1e9,
		Timeout:     60 * time.Second,
		Concurrency: 4,
		Lang:        language.BrazilianPortuguese,
	}
}

func (c AggregateConfig) withDefaults() AggregateConfig {
	d := DefaultAggregateConfig()
	if c.ScaleM <= 0 {
		c.ScaleM = d.ScaleM
	}
	if c.MaxPixels <= 0 {
		c.MaxPixels = d.MaxPixels
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Lang == language.Und {
		c.Lang = d.Lang
	}
	return c
}

// Aggregator reduces per-class pixel areas through a Backend.
type Aggregator struct {
	backend Backend
	cfg     AggregateConfig
}

// NewAggregator creates an Aggregator over backend.
func NewAggregator(backend Backend, cfg AggregateConfig) *Aggregator {
	return &Aggregator{backend: backend, cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (a *Aggregator) Config() AggregateConfig {
	return a.cfg
}

// Aggregate computes one AreaRecord per requested (year, class) pair inside
// region. A nil region returns ErrNoRegion with an empty result; an empty
// region, a year absent from the raster or a class outside 1..6 is a
// ValidationError. Classes default to all six.
func (a *Aggregator) Aggregate(ctx context.Context, raster Raster, region StudyRegion, years []int, classes []MacroClass) (*AreaResult, error) {
	if region == nil {
		return &AreaResult{}, ErrNoRegion
	}
	if region.Empty() {
		return &AreaResult{}, NewValidationError("region", "geometry has no area")
	}
	if len(years) == 0 {
		return &AreaResult{}, NewValidationError("years", "no years selected")
	}
	if len(classes) == 0 {
		classes = AllClasses()
	}
	for _, c := range classes {
		if !c.Valid() {
			return &AreaResult{}, NewValidationError("classes", fmt.Sprintf("%d outside %d-%d", c, MinClass, MaxClass))
		}
	}
	years = sortedUnique(years)
	classes = sortedUniqueClasses(classes)

	bands := make([]YearBand, len(years))
	for i, y := range years {
		b, ok := raster.Band(y)
		if !ok {
			return &AreaResult{}, NewValidationError("years", fmt.Sprintf("band %s not in raster", BandName(y)))
		}
		bands[i] = b
	}

	log := zap.L().With(zap.String("component", "landcover.aggregate"))
	start := time.Now()

	n := len(bands) * len(classes)
	records := make([]AreaRecord, n)
	done := make([]bool, n)

	var mu sync.Mutex
	var failures []Failure

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)

	for bi, band := range bands {
		for ci, class := range classes {
			idx := bi*len(classes) + ci
			band, class := band, class
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				areaM2, err := a.reduce(gctx, raster.Asset, band, class, region)
				if err != nil {
					if a.cfg.FailFast || IsValidation(err) || ctx.Err() != nil {
						return err
					}
					log.Warn("area reduction failed",
						zap.Int("year", band.Year),
						zap.Int("class", int(class)),
						zap.Error(err),
					)
					mu.Lock()
					failures = append(failures, Failure{Year: band.Year, Class: class, Message: err.Error(), Err: err})
					mu.Unlock()
					return nil
				}
				records[idx] = AreaRecord{
					Year:    band.Year,
					Class:   class,
					Name:    class.Name(a.cfg.Lang),
					AreaKm2: areaM2 / squareMetersPerKm2,
				}
				done[idx] = true
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return &AreaResult{}, err
	}

	result := &AreaResult{Records: make([]AreaRecord, 0, n)}
	for i := range records {
		if done[i] {
			result.Records = append(result.Records, records[i])
		}
	}
	sortFailures(failures)
	result.Failures = failures

	log.Info("area aggregation complete",
		zap.Int("years", len(bands)),
		zap.Int("classes", len(classes)),
		zap.Int("records", len(result.Records)),
		zap.Int("failures", len(failures)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// reduce runs a single bounded reduction and classifies its error.
func (a *Aggregator) reduce(ctx context.Context, asset string, band YearBand, class MacroClass, region StudyRegion) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	op := fmt.Sprintf("reduce %s class %d", band.Name, class)
	area, err := a.backend.ReduceArea(callCtx, AreaQuery{
		Asset:     asset,
		Band:      band,
		Class:     class,
		Region:    region,
		ScaleM:    a.cfg.ScaleM,
		MaxPixels: a.cfg.MaxPixels,
	})
	if err == nil {
		if area < 0 {
			return 0, &UpstreamError{Op: op, Err: eris.Errorf("negative area %f", area)}
		}
		return area, nil
	}

	switch {
	case ctx.Err() != nil:
		return 0, ctx.Err()
	case errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return 0, &TimeoutError{Op: op, Err: err}
	case IsValidation(err), IsUpstream(err), IsTimeout(err):
		return 0, err
	default:
		return 0, &UpstreamError{Op: op, Err: err}
	}
}

func sortFailures(fs []Failure) {
	sort.Slice(fs, func(i, j int) bool {
		if fs[i].Year != fs[j].Year {
			return fs[i].Year < fs[j].Year
		}
		return fs[i].Class < fs[j].Class
	})
}

func sortedUnique(years []int) []int {
	out := append([]int(nil), years...)
	sort.Ints(out)
	n := 0
	for i, y := range out {
		if i == 0 || y != out[n-1] {
			out[n] = y
			n++
		}
	}
	return out[:n]
}

func sortedUniqueClasses(classes []MacroClass) []MacroClass {
	out := append([]MacroClass(nil), classes...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 0
	for i, c := range out {
		if i == 0 || c != out[n-1] {
			out[n] = c
			n++
		}
	}
	return out[:n]
}
