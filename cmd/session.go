package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mapbiomas-cli/internal/config"
	"github.com/sells-group/mapbiomas-cli/internal/grid"
	"github.com/sells-group/mapbiomas-cli/internal/landcover"
	"github.com/sells-group/mapbiomas-cli/internal/resilience"
	"github.com/sells-group/mapbiomas-cli/internal/store"
	"github.com/sells-group/mapbiomas-cli/internal/viewer"
	"github.com/sells-group/mapbiomas-cli/pkg/earthengine"
)

// initBackend builds the evaluator named by backend.kind and returns it with
// the asset it serves.
func initBackend(c *config.Config) (landcover.Backend, string, error) {
	switch c.Backend.Kind {
	case "local":
		g, err := grid.LoadFile(c.Backend.Fixture)
		if err != nil {
			return nil, "", err
		}
		zap.L().Info("using local grid backend", zap.String("fixture", c.Backend.Fixture), zap.String("grid", g.String()))
		return g, g.Asset, nil
	case "remote", "":
		ee := c.EarthEngine
		opts := []earthengine.Option{
			earthengine.WithToken(ee.Token),
			earthengine.WithRetry(resilience.RetryConfig{
				MaxAttempts:    ee.Retry.MaxAttempts,
				InitialBackoff: time.Duration(ee.Retry.InitialBackoffMs) * time.Millisecond,
				MaxBackoff:     time.Duration(ee.Retry.MaxBackoffMs) * time.Millisecond,
				OnRetry:        resilience.RetryLogger("earthengine"),
			}),
			earthengine.WithBreaker(resilience.NewBreaker(resilience.BreakerConfig{
				Name:             "earthengine",
				FailureThreshold: ee.Breaker.FailureThreshold,
				Cooldown:         time.Duration(ee.Breaker.CooldownSecs) * time.Second,
			})),
		}
		if ee.BaseURL != "" {
			opts = append(opts, earthengine.WithBaseURL(ee.BaseURL))
		}
		if ee.RateLimit > 0 {
			opts = append(opts, earthengine.WithRateLimit(ee.RateLimit))
		}
		client := earthengine.NewClient(ee.Project, opts...)
		asset := ee.Asset
		if asset == "" {
			asset = landcover.DefaultAsset
		}
		return earthengine.NewBackend(client), asset, nil
	default:
		return nil, "", eris.Errorf("unknown backend %q", c.Backend.Kind)
	}
}

// initStore opens the run cache and migrates it. A "none" driver yields nil.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	st, err := store.Open(ctx, c.Store.Driver, c.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, nil
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// sessionOptions maps config onto viewer options.
func sessionOptions(c *config.Config) viewer.Options {
	a := c.Analysis
	return viewer.Options{
		Lookup: landcover.DefaultLookup(landcover.WithStrict(a.StrictLookup)),
		Aggregate: landcover.AggregateConfig{
			ScaleM:      a.ScaleM,
			MaxPixels:   a.MaxPixels,
			Timeout:     a.Timeout(),
			Concurrency: a.Concurrency,
			FailFast:    a.FailFast,
			Lang:        landcover.MatchLanguage(c.Lang),
		},
		FirstYear: a.FirstYear,
		LastYear:  a.LastYear,
		CacheTTL:  c.Store.CacheTTL(),
	}
}

// initSession wires backend, store, and session from config. withStore
// controls whether the run cache is opened.
func initSession(ctx context.Context, c *config.Config, withStore bool) (*viewer.Session, error) {
	if err := c.Validate("analyze"); err != nil {
		return nil, err
	}
	backend, asset, err := initBackend(c)
	if err != nil {
		return nil, err
	}

	opts := sessionOptions(c)
	opts.Backend = backend
	opts.Asset = asset
	if withStore {
		st, err := initStore(ctx, c)
		if err != nil {
			return nil, err
		}
		if st != nil {
			opts.Store = st
		}
	}

	sess, err := viewer.NewSession(ctx, opts)
	if err != nil {
		if opts.Store != nil {
			_ = opts.Store.Close()
		}
		return nil, err
	}
	return sess, nil
}
