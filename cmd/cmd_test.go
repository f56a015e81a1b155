package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/sells-group/mapbiomas-cli/internal/config"
	"github.com/sells-group/mapbiomas-cli/internal/landcover"
	"github.com/sells-group/mapbiomas-cli/internal/report"
	"github.com/sells-group/mapbiomas-cli/internal/store"
	"github.com/sells-group/mapbiomas-cli/pkg/earthengine"
)

const fixtureYAML = `
asset: test/mapbiomas
west_lon: -55.1
north_lat: -14.9
pixel_deg: 0.001
width: 200
height: 200
bands:
  - year: 2000
    fill: 3
  - year: 2023
    fill: 15
`

const regionGeoJSON = `{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[-55.05,-15.05],[-54.95,-15.05],[-54.95,-14.95],[-55.05,-14.95],[-55.05,-15.05]]]}}`

// localConfig points the global config at a temp fixture and returns the
// temp dir.
func localConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	fixture := filepath.Join(dir, "grid.yaml")
	require.NoError(t, os.WriteFile(fixture, []byte(fixtureYAML), 0o644))

	c := &config.Config{Lang: "en"}
	c.Backend.Kind = "local"
	c.Backend.Fixture = fixture
	c.Analysis.ScaleM = 30
	c.Analysis.MaxPixels = 1e9
	c.Analysis.TimeoutSecs = 60
	c.Analysis.Concurrency = 4
	c.Analysis.FirstYear = 1985
	c.Analysis.LastYear = 2023
	c.Store.Driver = "none"
	c.Store.CacheTTLHours = 24
	c.Server.Port = 8080

	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
	return dir
}

func writeRegion(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "region.geojson")
	require.NoError(t, os.WriteFile(path, []byte(regionGeoJSON), 0o644))
	return path
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"legend", "areas", "layers", "serve", "runs", "migrate"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "mapbiomas", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("lang"))
}

func TestAreasCommand_Flags(t *testing.T) {
	for _, name := range []string{"years", "classes", "region", "format", "output", "refresh"} {
		assert.NotNil(t, areasCmd.Flags().Lookup(name), "areas should have --%s", name)
	}
	assert.Equal(t, "table", areasCmd.Flags().Lookup("format").DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "purge"} {
		assert.True(t, names[name], "runs should have subcommand %q", name)
	}
}

func TestResolvePort(t *testing.T) {
	assert.Equal(t, 9090, resolvePort(9090, 8080))
	assert.Equal(t, 8080, resolvePort(0, 8080))
}

func TestWriteLegend(t *testing.T) {
	entries := landcover.Legend(landcover.DefaultLookup(), language.English)

	var buf bytes.Buffer
	require.NoError(t, writeLegend(&buf, entries, false))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 7)
	assert.True(t, strings.HasPrefix(lines[0], "CLASS"))
	assert.Contains(t, lines[1], "Forest")
	assert.Contains(t, lines[1], "1,3,4,5,6,49")

	buf.Reset()
	require.NoError(t, writeLegend(&buf, entries, true))
	var back []landcover.LegendEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Len(t, back, 6)
}

func TestSessionOptions(t *testing.T) {
	localConfig(t)
	cfg.Analysis.StrictLookup = true
	cfg.Analysis.FailFast = true

	opts := sessionOptions(cfg)
	assert.True(t, opts.Lookup.Strict())
	assert.True(t, opts.Aggregate.FailFast)
	assert.Equal(t, 60*time.Second, opts.Aggregate.Timeout)
	assert.Equal(t, language.English, opts.Aggregate.Lang)
	assert.Equal(t, 24*time.Hour, opts.CacheTTL)
}

func TestInitBackend_Remote(t *testing.T) {
	c := &config.Config{}
	c.Backend.Kind = "remote"
	c.EarthEngine.Project = "my-project"

	b, asset, err := initBackend(c)
	require.NoError(t, err)
	ee, ok := b.(*earthengine.Backend)
	require.True(t, ok)
	assert.Equal(t, "my-project", ee.Client().Project())
	assert.Equal(t, landcover.DefaultAsset, asset)

	c.Backend.Kind = "cloud"
	_, _, err = initBackend(c)
	assert.Error(t, err)
}

func TestRunAreas_Table(t *testing.T) {
	dir := localConfig(t)
	sess, err := initSession(context.Background(), cfg, false)
	require.NoError(t, err)
	defer sess.Close() //nolint:errcheck

	var out, status bytes.Buffer
	err = runAreas(context.Background(), sess, areasOptions{
		Years:      []int{2000, 2023},
		Classes:    []landcover.MacroClass{landcover.Forest, landcover.Farming},
		RegionPath: writeRegion(t, dir),
		Format:     report.FormatTable,
		Lang:       language.English,
	}, &out, &status)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Forest")
	assert.Contains(t, out.String(), "Farming")
	assert.Empty(t, status.String())
}

func TestRunAreas_CSV(t *testing.T) {
	dir := localConfig(t)
	sess, err := initSession(context.Background(), cfg, false)
	require.NoError(t, err)
	defer sess.Close() //nolint:errcheck

	var out bytes.Buffer
	err = runAreas(context.Background(), sess, areasOptions{
		Years:      []int{2023},
		Classes:    []landcover.MacroClass{landcover.Farming},
		RegionPath: writeRegion(t, dir),
		Format:     report.FormatCSV,
		Lang:       language.English,
	}, &out, &bytes.Buffer{})
	require.NoError(t, err)

	rows, err := csv.NewReader(&out).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"2023", "3", "Farming"}, rows[1][:3])
}

func TestRunAreas_NoRegion(t *testing.T) {
	localConfig(t)
	sess, err := initSession(context.Background(), cfg, false)
	require.NoError(t, err)
	defer sess.Close() //nolint:errcheck

	var out, status bytes.Buffer
	err = runAreas(context.Background(), sess, areasOptions{Years: []int{2023}, Format: report.FormatTable}, &out, &status)
	require.NoError(t, err)
	assert.Empty(t, out.String())
	assert.Contains(t, status.String(), "No study region supplied")
}

func TestRunAreas_BadRegion(t *testing.T) {
	dir := localConfig(t)
	sess, err := initSession(context.Background(), cfg, false)
	require.NoError(t, err)
	defer sess.Close() //nolint:errcheck

	path := filepath.Join(dir, "bad.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"Feature"}`), 0o644))

	err = runAreas(context.Background(), sess, areasOptions{Years: []int{2023}, RegionPath: path}, &bytes.Buffer{}, &bytes.Buffer{})
	assert.True(t, landcover.IsValidation(err))
}

func TestRunAreas_CachedWithSQLite(t *testing.T) {
	dir := localConfig(t)
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = filepath.Join(dir, "runs.db")

	sess, err := initSession(context.Background(), cfg, true)
	require.NoError(t, err)
	defer sess.Close() //nolint:errcheck
	require.NotNil(t, sess.Store())

	opts := areasOptions{
		Years:      []int{2000},
		Classes:    []landcover.MacroClass{landcover.Forest},
		RegionPath: writeRegion(t, dir),
		Format:     report.FormatJSON,
	}
	require.NoError(t, runAreas(context.Background(), sess, opts, &bytes.Buffer{}, &bytes.Buffer{}))
	require.NoError(t, runAreas(context.Background(), sess, opts, &bytes.Buffer{}, &bytes.Buffer{}))

	runs, err := sess.Store().ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRunLayers_LocalBackendHasNoTiles(t *testing.T) {
	localConfig(t)
	sess, err := initSession(context.Background(), cfg, false)
	require.NoError(t, err)
	defer sess.Close() //nolint:errcheck

	err = runLayers(context.Background(), sess, []int{2023}, "", false, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestInitSession_InvalidConfig(t *testing.T) {
	localConfig(t)
	cfg.Backend.Fixture = ""
	_, err := initSession(context.Background(), cfg, false)
	assert.ErrorContains(t, err, "backend.fixture")
}

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	runs := []store.Run{
		{
			ID:        "0f8fad5b-d9cb-469f-a165-70867728950e",
			Key:       store.RunKey{RegionHash: "abcdef0123456789", Years: []int{1985, 1986, 1987, 1988, 1989}, Classes: []int{1, 3}},
			Result:    &landcover.AreaResult{Records: make([]landcover.AreaRecord, 10)},
			CreatedAt: now.Add(-time.Hour),
			ExpiresAt: now.Add(time.Hour),
		},
		{
			ID:        "short",
			Key:       store.RunKey{RegionHash: "abc", Years: []int{2023}},
			CreatedAt: now.Add(-48 * time.Hour),
			ExpiresAt: now.Add(-24 * time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs, now)
	out := buf.String()
	assert.Contains(t, out, "0f8fad5b")
	assert.NotContains(t, out, "0f8fad5b-d9cb")
	assert.Contains(t, out, "1985..1989 (5)")
	assert.Contains(t, out, "1,3")
	assert.Contains(t, out, "valid")
	assert.Contains(t, out, "expired")
}

func TestJoinListAndTruncateID(t *testing.T) {
	assert.Equal(t, "", joinList(nil))
	assert.Equal(t, "2000,2023", joinList([]int{2000, 2023}))
	assert.Equal(t, "abc", truncateID("abc"))
	assert.Equal(t, "12345678", truncateID("1234567890"))
}
