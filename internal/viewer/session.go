// Package viewer ties the land-cover pieces into one session: it discovers
// the yearly bands, remaps them once, and answers area and layer requests.
package viewer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"github.com/sells-group/mapbiomas-cli/internal/landcover"
	"github.com/sells-group/mapbiomas-cli/internal/region"
	"github.com/sells-group/mapbiomas-cli/internal/store"
)

// Options configures a Session.
type Options struct {
	// Backend evaluates reductions. Required.
	Backend landcover.Backend
	// Asset is the classification image. Default: landcover.DefaultAsset.
	Asset string
	// Lookup maps source codes to macro classes. Default: the Collection 9
	// legend in pass-through mode.
	Lookup *landcover.Lookup
	// Aggregate tunes the area aggregator.
	Aggregate landcover.AggregateConfig
	// FirstYear and LastYear bound selectable years. Default: 1985..2023.
	FirstYear int
	LastYear  int
	// Store caches area runs. Optional.
	Store store.Store
	// CacheTTL is how long cached runs stay valid. Default: 24h.
	CacheTTL time.Duration
	// Vis styles map layers. Default: the macro class palette over 1..6.
	Vis *landcover.Visualization
}

// Session is an initialized viewer. Create with NewSession, release with
// Close. Safe for concurrent use.
type Session struct {
	backend landcover.Backend
	asset   string
	lookup  *landcover.Lookup
	raster  landcover.Raster
	agg     *landcover.Aggregator
	store   store.Store
	ttl     time.Duration
	vis     landcover.Visualization
	first   int
	last    int
	log     *zap.Logger
}

// NewSession discovers the asset's yearly bands and derives the remapped
// raster once.
func NewSession(ctx context.Context, opts Options) (*Session, error) {
	if opts.Backend == nil {
		return nil, eris.New("viewer: backend is required")
	}
	s := &Session{
		backend: opts.Backend,
		asset:   opts.Asset,
		lookup:  opts.Lookup,
		store:   opts.Store,
		ttl:     opts.CacheTTL,
		first:   opts.FirstYear,
		last:    opts.LastYear,
		log:     zap.L().With(zap.String("component", "viewer")),
	}
	if s.asset == "" {
		s.asset = landcover.DefaultAsset
	}
	if s.lookup == nil {
		s.lookup = landcover.DefaultLookup()
	}
	if s.ttl <= 0 {
		s.ttl = 24 * time.Hour
	}
	if s.first == 0 {
		s.first = landcover.FirstYear
	}
	if s.last == 0 {
		s.last = landcover.LastYear
	}
	if opts.Vis != nil {
		s.vis = *opts.Vis
	} else {
		s.vis = landcover.DefaultVisualization()
	}

	names, err := s.backend.BandNames(ctx, s.asset)
	if err != nil {
		return nil, eris.Wrap(err, "viewer: list bands")
	}
	raw := landcover.RasterFromBandNames(s.asset, names)
	kept := landcover.Raster{Asset: raw.Asset}
	for _, b := range raw.Bands {
		if b.Year >= s.first && b.Year <= s.last {
			kept.Bands = append(kept.Bands, b)
		}
	}
	if len(kept.Bands) == 0 {
		return nil, &landcover.UpstreamError{Op: "band names", Err: eris.Errorf("asset %s has no classification bands in %d-%d", s.asset, s.first, s.last)}
	}
	s.raster = landcover.Remap(kept, s.lookup)
	s.agg = landcover.NewAggregator(s.backend, opts.Aggregate)

	s.log.Info("session ready",
		zap.String("asset", s.asset),
		zap.Int("bands", len(s.raster.Bands)),
		zap.Bool("strict", s.lookup.Strict()),
		zap.Bool("cache", s.store != nil),
	)
	return s, nil
}

// Close releases the backend and store.
func (s *Session) Close() error {
	var errs []error
	if c, ok := s.backend.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return eris.Wrapf(errs[0], "viewer: close (%d errors)", len(errs))
	}
	return nil
}

// Asset returns the classification asset.
func (s *Session) Asset() string {
	return s.asset
}

// Years returns the selectable years, ascending.
func (s *Session) Years() []int {
	years, err := landcover.ValidateYears(s.raster.Years(), s.first, s.last)
	if err != nil {
		return nil
	}
	return years
}

// Store returns the run cache, or nil when caching is disabled.
func (s *Session) Store() store.Store {
	return s.store
}

// Raster returns the remapped raster.
func (s *Session) Raster() landcover.Raster {
	return s.raster
}

// Legend lists the macro classes in lang.
func (s *Session) Legend(lang language.Tag) []landcover.LegendEntry {
	return landcover.Legend(s.lookup, lang)
}

// AreaRequest selects what to aggregate. A nil Region asks for no
// statistics.
type AreaRequest struct {
	Years   []int
	Classes []landcover.MacroClass
	Region  *region.Region
	// Refresh bypasses the cache lookup; the fresh result is still stored.
	Refresh bool
}

// AreaResponse carries a result and where it came from.
type AreaResponse struct {
	Result *landcover.AreaResult `json:"result"`
	RunID  string                `json:"run_id,omitempty"`
	Cached bool                  `json:"cached"`
}

// Areas aggregates per-class areas. With no region it returns
// landcover.ErrNoRegion and an empty result.
func (s *Session) Areas(ctx context.Context, req AreaRequest) (*AreaResponse, error) {
	empty := &AreaResponse{Result: &landcover.AreaResult{}}
	if req.Region == nil {
		return empty, landcover.ErrNoRegion
	}
	years, err := s.selectYears(req.Years)
	if err != nil {
		return empty, err
	}
	classes := req.Classes
	if len(classes) == 0 {
		classes = landcover.AllClasses()
	}
	for _, c := range classes {
		if !c.Valid() {
			return empty, landcover.NewValidationError("classes", fmt.Sprintf("%d outside %d-%d", c, landcover.MinClass, landcover.MaxClass))
		}
	}

	key, keyed := s.runKey(req.Region, years, classes)
	if keyed && s.store != nil && !req.Refresh {
		run, err := s.store.FindRun(ctx, key)
		switch {
		case err != nil:
			s.log.Warn("run cache lookup failed", zap.Error(err))
		case run != nil:
			s.log.Debug("run cache hit", zap.String("run_id", run.ID))
			return &AreaResponse{Result: run.Result, RunID: run.ID, Cached: true}, nil
		}
	}

	res, err := s.agg.Aggregate(ctx, s.raster, req.Region, years, classes)
	if err != nil {
		return &AreaResponse{Result: res}, err
	}

	resp := &AreaResponse{Result: res}
	if keyed && s.store != nil && len(res.Failures) == 0 {
		run, err := s.store.SaveRun(ctx, key, res, s.ttl)
		if err != nil {
			s.log.Warn("run cache save failed", zap.Error(err))
		} else {
			resp.RunID = run.ID
		}
	}
	return resp, nil
}

// Layers publishes one map layer per year, clipped to clip when given.
func (s *Session) Layers(ctx context.Context, years []int, clip *region.Region) ([]landcover.Layer, error) {
	src, ok := s.backend.(landcover.LayerSource)
	if !ok {
		return nil, eris.New("viewer: backend cannot publish map layers")
	}
	years, err := s.selectYears(years)
	if err != nil {
		return nil, err
	}

	var clipRegion landcover.StudyRegion
	if clip != nil {
		clipRegion = clip
	}

	bands := make([]landcover.YearBand, len(years))
	for i, y := range years {
		band, ok := s.raster.Band(y)
		if !ok {
			return nil, landcover.NewValidationError("years", "band "+landcover.BandName(y)+" not in raster")
		}
		bands[i] = band
	}

	layers := make([]landcover.Layer, len(bands))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.agg.Config().Concurrency)
	for i, band := range bands {
		i, band := i, band
		g.Go(func() error {
			l, err := src.Layer(gctx, s.asset, band, clipRegion, s.vis)
			if err != nil {
				return err
			}
			layers[i] = *l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return layers, nil
}

// YearRange returns the configured first and last selectable years.
func (s *Session) YearRange() (first, last int) {
	return s.first, s.last
}

// selectYears validates years, defaulting to the newest year.
func (s *Session) selectYears(years []int) ([]int, error) {
	if len(years) == 0 {
		years = []int{min(landcover.DefaultYear, s.last)}
	}
	return landcover.ValidateYears(years, s.first, s.last)
}

func (s *Session) runKey(r *region.Region, years []int, classes []landcover.MacroClass) (store.RunKey, bool) {
	hash, err := r.Hash()
	if err != nil {
		s.log.Debug("region hash failed, cache disabled for request", zap.Error(err))
		return store.RunKey{}, false
	}
	cls := make([]int, len(classes))
	for i, c := range classes {
		cls[i] = int(c)
	}
	return store.RunKey{
		Asset:      s.asset,
		RegionHash: hash,
		Years:      years,
		Classes:    cls,
		Strict:     s.lookup.Strict(),
		Lookup:     s.lookup.Fingerprint(),
		ScaleM:     s.agg.Config().ScaleM,
		MaxPixels:  s.agg.Config().MaxPixels,
	}, true
}
