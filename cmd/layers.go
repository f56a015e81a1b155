package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/mapbiomas-cli/internal/landcover"
	"github.com/sells-group/mapbiomas-cli/internal/region"
	"github.com/sells-group/mapbiomas-cli/internal/viewer"
)

var layersCmd = &cobra.Command{
	Use:   "layers",
	Short: "Publish remapped map layers and print their tile URLs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		yearsFlag, _ := cmd.Flags().GetString("years")
		years, err := landcover.ParseYears(yearsFlag, cfg.Analysis.FirstYear, cfg.Analysis.LastYear)
		if err != nil {
			return err
		}
		regionPath, _ := cmd.Flags().GetString("region")
		asJSON, _ := cmd.Flags().GetBool("json")

		sess, err := initSession(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer sess.Close() //nolint:errcheck

		return runLayers(ctx, sess, years, regionPath, asJSON, os.Stdout)
	},
}

func init() {
	layersCmd.Flags().String("years", "", "years to publish, e.g. 2000,2023 (default 2023)")
	layersCmd.Flags().String("region", "", "clip layers to this region file")
	layersCmd.Flags().Bool("json", false, "print JSON instead of a table")
	rootCmd.AddCommand(layersCmd)
}

func runLayers(ctx context.Context, sess *viewer.Session, years []int, regionPath string, asJSON bool, out io.Writer) error {
	var clip *region.Region
	if regionPath != "" {
		r, err := region.ParseFile(regionPath)
		if err != nil && !errors.Is(err, landcover.ErrNoRegion) {
			return err
		}
		clip = r
	}

	layers, err := sess.Layers(ctx, years, clip)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(layers)
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "YEAR\tTITLE\tTILE_URL")
	for _, l := range layers {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", l.Year, l.Title, l.TileURL)
	}
	return w.Flush()
}
