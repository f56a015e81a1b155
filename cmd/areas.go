package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/sells-group/mapbiomas-cli/internal/landcover"
	"github.com/sells-group/mapbiomas-cli/internal/region"
	"github.com/sells-group/mapbiomas-cli/internal/report"
	"github.com/sells-group/mapbiomas-cli/internal/viewer"
)

var areasCmd = &cobra.Command{
	Use:   "areas",
	Short: "Compute per-class areas (km²) inside a study region",
	Long: `Computes the area of each macro class inside a study region for the
selected years. The region is a GeoJSON file (Feature, FeatureCollection,
Polygon or MultiPolygon) or an ESRI shapefile.`,
	Example: `  mapbiomas areas --region farm.geojson --years 1985,2000-2003 --classes 1,3
  mapbiomas areas --region farm.shp --format xlsx --output farm.xlsx`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		opts, err := areasOptionsFromFlags(cmd)
		if err != nil {
			return err
		}

		sess, err := initSession(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer sess.Close() //nolint:errcheck

		out, closeOut, err := openOutput(opts.Output)
		if err != nil {
			return err
		}
		defer closeOut()

		return runAreas(ctx, sess, opts, out, os.Stderr)
	},
}

type areasOptions struct {
	Years      []int
	Classes    []landcover.MacroClass
	RegionPath string
	Format     report.Format
	Output     string
	Refresh    bool
	Lang       language.Tag
}

func init() {
	areasCmd.Flags().String("years", "", "years to analyze, e.g. 1985,2000-2003 (default 2023)")
	areasCmd.Flags().String("classes", "", "macro classes 1-6, e.g. 1,3 (default all)")
	areasCmd.Flags().String("region", "", "study region file (.geojson, .json or .shp)")
	areasCmd.Flags().String("format", "table", "output format: table, csv, json, xlsx, geojson")
	areasCmd.Flags().StringP("output", "o", "", "write to file instead of stdout")
	areasCmd.Flags().Bool("refresh", false, "ignore cached runs")
	rootCmd.AddCommand(areasCmd)
}

func areasOptionsFromFlags(cmd *cobra.Command) (areasOptions, error) {
	var opts areasOptions

	yearsFlag, _ := cmd.Flags().GetString("years")
	years, err := landcover.ParseYears(yearsFlag, cfg.Analysis.FirstYear, cfg.Analysis.LastYear)
	if err != nil {
		return opts, err
	}
	classesFlag, _ := cmd.Flags().GetString("classes")
	classes, err := landcover.ParseClasses(classesFlag)
	if err != nil {
		return opts, err
	}
	formatFlag, _ := cmd.Flags().GetString("format")
	format, err := report.ParseFormat(formatFlag)
	if err != nil {
		return opts, err
	}

	opts.Years = years
	opts.Classes = classes
	opts.Format = format
	opts.RegionPath, _ = cmd.Flags().GetString("region")
	opts.Output, _ = cmd.Flags().GetString("output")
	opts.Refresh, _ = cmd.Flags().GetBool("refresh")
	opts.Lang = landcover.MatchLanguage(cfg.Lang)
	return opts, nil
}

// runAreas aggregates and renders. A missing region is not an error: the
// user is told and nothing is computed.
func runAreas(ctx context.Context, sess *viewer.Session, opts areasOptions, out, status io.Writer) error {
	var reg *region.Region
	if opts.RegionPath != "" {
		r, err := region.ParseFile(opts.RegionPath)
		if err != nil && !errors.Is(err, landcover.ErrNoRegion) {
			return err
		}
		reg = r
	}

	resp, err := sess.Areas(ctx, viewer.AreaRequest{
		Years:   opts.Years,
		Classes: opts.Classes,
		Region:  reg,
		Refresh: opts.Refresh,
	})
	if errors.Is(err, landcover.ErrNoRegion) {
		_, _ = fmt.Fprintln(status, "No study region supplied; nothing to compute. Pass --region <file>.")
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "areas")
	}

	if resp.Cached {
		zap.L().Info("served from run cache", zap.String("run_id", resp.RunID))
	}
	if n := len(resp.Result.Failures); n > 0 {
		_, _ = fmt.Fprintf(status, "%d of %d reductions failed; see the failure rows.\n", n, n+len(resp.Result.Records))
	}

	ropts := report.Options{Lang: opts.Lang}
	if reg != nil {
		ropts.Region = reg
	}
	return report.Write(out, opts.Format, resp.Result, ropts)
}

// openOutput returns stdout when path is empty.
func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "create %s", path)
	}
	return f, func() { _ = f.Close() }, nil
}
