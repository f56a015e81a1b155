package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/mapbiomas-cli/internal/landcover"
)

var legendCmd = &cobra.Command{
	Use:   "legend",
	Short: "Show the six macro classes and the source codes mapped into them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		strict := cfg.Analysis.StrictLookup
		asJSON, _ := cmd.Flags().GetBool("json")
		lookup := landcover.DefaultLookup(landcover.WithStrict(strict))
		entries := landcover.Legend(lookup, landcover.MatchLanguage(cfg.Lang))
		return writeLegend(os.Stdout, entries, asJSON)
	},
}

func init() {
	legendCmd.Flags().Bool("json", false, "print JSON instead of a table")
	rootCmd.AddCommand(legendCmd)
}

func writeLegend(out io.Writer, entries []landcover.LegendEntry, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CLASS\tNAME\tCOLOR\tCODES")
	for _, e := range entries {
		codes := make([]string, len(e.Codes))
		for i, c := range e.Codes {
			codes[i] = strconv.Itoa(int(c))
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.Class, e.Name, e.Color, strings.Join(codes, ","))
	}
	return w.Flush()
}
