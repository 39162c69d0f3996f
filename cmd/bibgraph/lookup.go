// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/pdiddy/bibgraph/internal/store"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Query canonical papers in the store",
	Long: `Lookup queries the paper table with structured filters. An identifier
that lost a merge still works: it resolves through the canonical map to
the surviving entity.`,
	RunE: runLookup,
}

func init() {
	lookupCmd.Flags().String("id", "", "look up a single paper by id (superseded ids resolve)")
	lookupCmd.Flags().String("title", "", "filter by title substring")
	lookupCmd.Flags().String("author", "", "filter by author-name substring")
	lookupCmd.Flags().String("venue", "", "filter by venue-name substring")
	lookupCmd.Flags().String("after", "", "venue date lower bound (inclusive, ISO)")
	lookupCmd.Flags().String("before", "", "venue date upper bound (exclusive, ISO)")
	lookupCmd.Flags().Int("max-results", 0, "maximum results (0 = default 20)")
	lookupCmd.Flags().Bool("json", false, "output results as JSON")

	rootCmd.AddCommand(lookupCmd)
}

func runLookup(cmd *cobra.Command, args []string) error {
	opts := store.QueryOptions{}
	opts.ID, _ = cmd.Flags().GetString("id")
	opts.Title, _ = cmd.Flags().GetString("title")
	opts.Author, _ = cmd.Flags().GetString("author")
	opts.Venue, _ = cmd.Flags().GetString("venue")
	opts.After, _ = cmd.Flags().GetString("after")
	opts.Before, _ = cmd.Flags().GetString("before")
	opts.MaxResults, _ = cmd.Flags().GetInt("max-results")

	if opts.ID == "" && opts.Title == "" && opts.Author == "" &&
		opts.Venue == "" && opts.After == "" && opts.Before == "" {
		return fmt.Errorf("filter required: provide --id, --title, --author, --venue, --after, or --before")
	}

	cfg := engineConfig(cmd)
	st, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	results, err := st.SearchPapers(context.Background(), opts)
	if err != nil {
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	return formatLookupOutput(results, jsonOutput)
}

func formatLookupOutput(results []store.PaperSummary, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Authors", "Venues", "Cites", "Quality"})
	for _, r := range results {
		tw.AppendRow(table.Row{
			r.ID,
			truncate(r.Title, 50),
			truncate(strings.Join(r.Authors, ", "), 40),
			truncate(strings.Join(r.Venues, ", "), 25),
			r.CitationCount,
			fmt.Sprintf("%.1f", r.Quality),
		})
	}
	tw.Render()

	fmt.Fprintf(os.Stdout, "\n%d results\n", len(results))
	return nil
}

// truncate shortens s to n display runes; slicing bytes could split a
// multi-byte rune and emit invalid UTF-8 in the table.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
