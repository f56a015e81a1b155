package landcover

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

type boxRegion struct {
	empty bool
}

func (b boxRegion) Geometry() *geom.MultiPolygon {
	return geom.NewMultiPolygon(geom.XY)
}

func (b boxRegion) Bounds() *geom.Bounds {
	return geom.NewBounds(geom.XY).Set(0, 0, 1, 1)
}

func (b boxRegion) Contains(lon, lat float64) bool {
	return lon >= 0 && lon <= 1 && lat >= 0 && lat <= 1
}

func (b boxRegion) Empty() bool {
	return b.empty
}

// fakeBackend returns area = year*10 + class in m² unless fn overrides it.
type fakeBackend struct {
	mu       sync.Mutex
	queries  []AreaQuery
	inFlight atomic.Int32
	peak     atomic.Int32
	fn       func(ctx context.Context, q AreaQuery) (float64, error)
}

func (f *fakeBackend) BandNames(context.Context, string) ([]string, error) {
	return nil, nil
}

func (f *fakeBackend) ReduceArea(ctx context.Context, q AreaQuery) (float64, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	if f.fn != nil {
		return f.fn(ctx, q)
	}
	return float64(q.Band.Year*10+int(q.Class)) * 1e6, nil
}

func testRaster(years ...int) Raster {
	return Remap(NewRaster(DefaultAsset, years), DefaultLookup())
}

func TestAggregate_OrderingAndUnits(t *testing.T) {
	fb := &fakeBackend{}
	agg := NewAggregator(fb, AggregateConfig{Concurrency: 3})

	res, err := agg.Aggregate(context.Background(), testRaster(2000, 2001), boxRegion{}, []int{2001, 2000}, []MacroClass{Water, Forest})
	require.NoError(t, err)
	require.Len(t, res.Records, 4)

	assert.Equal(t, AreaRecord{Year: 2000, Class: Forest, Name: "Floresta", AreaKm2: 20001}, res.Records[0])
	assert.Equal(t, AreaRecord{Year: 2000, Class: Water, Name: "Corpo D'água", AreaKm2: 20005}, res.Records[1])
	assert.Equal(t, 2001, res.Records[2].Year)
	assert.Equal(t, Forest, res.Records[2].Class)
	assert.Equal(t, Water, res.Records[3].Class)
	assert.InDelta(t, 20011+20015, res.Total(2001), 1e-9)

	for _, q := range fb.queries {
		assert.Equal(t, 30.0, q.ScaleM)
		assert.Equal(t, int64(1e9), q.MaxPixels)
		assert.True(t, q.Band.Remapped())
	}
	assert.LessOrEqual(t, fb.peak.Load(), int32(3))
}

func TestAggregate_DefaultsToAllClasses(t *testing.T) {
	agg := NewAggregator(&fakeBackend{}, AggregateConfig{})
	res, err := agg.Aggregate(context.Background(), testRaster(2023), boxRegion{}, []int{2023}, nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 6)
	for i, rec := range res.Records {
		assert.Equal(t, MacroClass(i+1), rec.Class)
	}
}

func TestAggregate_NoRegion(t *testing.T) {
	fb := &fakeBackend{}
	agg := NewAggregator(fb, AggregateConfig{})
	res, err := agg.Aggregate(context.Background(), testRaster(2023), nil, []int{2023}, nil)
	assert.True(t, errors.Is(err, ErrNoRegion))
	require.NotNil(t, res)
	assert.Empty(t, res.Records)
	assert.Empty(t, fb.queries)
}

func TestAggregate_ValidationErrors(t *testing.T) {
	agg := NewAggregator(&fakeBackend{}, AggregateConfig{})
	ctx := context.Background()

	_, err := agg.Aggregate(ctx, testRaster(2023), boxRegion{empty: true}, []int{2023}, nil)
	assert.True(t, IsValidation(err))

	_, err = agg.Aggregate(ctx, testRaster(2023), boxRegion{}, nil, nil)
	assert.True(t, IsValidation(err))

	_, err = agg.Aggregate(ctx, testRaster(2023), boxRegion{}, []int{1990}, nil)
	assert.True(t, IsValidation(err))
}

func TestAggregate_RejectsClassOutsideRange(t *testing.T) {
	fb := &fakeBackend{}
	agg := NewAggregator(fb, AggregateConfig{})

	for _, classes := range [][]MacroClass{{0}, {Forest, 7}} {
		res, err := agg.Aggregate(context.Background(), testRaster(2023), boxRegion{}, []int{2023}, classes)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve, "classes %v", classes)
		assert.Equal(t, "classes", ve.Field)
		assert.Empty(t, res.Records)
	}
	assert.Empty(t, fb.queries)
}

func TestAggregate_ZeroArea(t *testing.T) {
	fb := &fakeBackend{fn: func(context.Context, AreaQuery) (float64, error) { return 0, nil }}
	res, err := NewAggregator(fb, AggregateConfig{}).Aggregate(context.Background(), testRaster(2023), boxRegion{}, []int{2023}, nil)
	require.NoError(t, err)
	require.Len(t, res.Records, 6)
	assert.Zero(t, res.Total(2023))
}

func TestAggregate_UpstreamFailureCollected(t *testing.T) {
	fb := &fakeBackend{fn: func(_ context.Context, q AreaQuery) (float64, error) {
		if q.Class == Water {
			return 0, errors.New("boom")
		}
		return 1e6, nil
	}}
	res, err := NewAggregator(fb, AggregateConfig{}).Aggregate(context.Background(), testRaster(2022, 2023), boxRegion{}, []int{2022, 2023}, nil)
	require.NoError(t, err)
	assert.Len(t, res.Records, 10)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, 2022, res.Failures[0].Year)
	assert.Equal(t, 2023, res.Failures[1].Year)
	assert.True(t, IsUpstream(res.Failures[0].Err))
	assert.Contains(t, res.Failures[0].Message, "boom")
}

func TestAggregate_FailFast(t *testing.T) {
	fb := &fakeBackend{fn: func(context.Context, AreaQuery) (float64, error) {
		return 0, &UpstreamError{Op: "reduce", StatusCode: 500, Err: errors.New("internal")}
	}}
	res, err := NewAggregator(fb, AggregateConfig{FailFast: true}).Aggregate(context.Background(), testRaster(2023), boxRegion{}, []int{2023}, nil)
	assert.True(t, IsUpstream(err))
	assert.Empty(t, res.Records)
}

func TestAggregate_Timeout(t *testing.T) {
	fb := &fakeBackend{fn: func(ctx context.Context, _ AreaQuery) (float64, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}}
	agg := NewAggregator(fb, AggregateConfig{Timeout: 10 * time.Millisecond})
	res, err := agg.Aggregate(context.Background(), testRaster(2023), boxRegion{}, []int{2023}, []MacroClass{Forest})
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.True(t, IsTimeout(res.Failures[0].Err))

	agg = NewAggregator(fb, AggregateConfig{Timeout: 10 * time.Millisecond, FailFast: true})
	_, err = agg.Aggregate(context.Background(), testRaster(2023), boxRegion{}, []int{2023}, []MacroClass{Forest})
	assert.True(t, IsTimeout(err))
}

func TestAggregate_ParentCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAggregator(&fakeBackend{}, AggregateConfig{}).Aggregate(ctx, testRaster(2023), boxRegion{}, []int{2023}, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestAggregate_NegativeAreaIsUpstream(t *testing.T) {
	fb := &fakeBackend{fn: func(context.Context, AreaQuery) (float64, error) { return -1, nil }}
	res, err := NewAggregator(fb, AggregateConfig{}).Aggregate(context.Background(), testRaster(2023), boxRegion{}, []int{2023}, []MacroClass{Forest})
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.True(t, IsUpstream(res.Failures[0].Err))
}

func TestAggregate_ValidationFromBackendAborts(t *testing.T) {
	fb := &fakeBackend{fn: func(context.Context, AreaQuery) (float64, error) {
		return 0, NewValidationError("pixel", "code 99 has no mapping")
	}}
	_, err := NewAggregator(fb, AggregateConfig{}).Aggregate(context.Background(), testRaster(2023), boxRegion{}, []int{2023}, nil)
	assert.True(t, IsValidation(err))
}

func TestCoordinates(t *testing.T) {
	assert.Nil(t, Coordinates(nil))

	mp := geom.NewMultiPolygon(geom.XY).MustSetCoords([][][]geom.Coord{
		{{{-55, -15}, {-54, -15}, {-54, -14}, {-55, -15}}},
	})
	got := Coordinates(mp)
	require.Len(t, got, 1)
	require.Len(t, got[0], 1)
	assert.Equal(t, [][]float64{{-55, -15}, {-54, -15}, {-54, -14}, {-55, -15}}, got[0][0])
}
