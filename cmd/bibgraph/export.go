// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/bibgraph/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export canonical papers to YAML or JSON",
	Long: `Export writes the canonical paper set (or a filtered subset) to
<data-dir>/index/export.yaml or export.json. Supports the same filter
flags as lookup for partial exports.`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().String("format", "yaml", "export format: yaml or json")
	exportCmd.Flags().String("title", "", "filter by title substring")
	exportCmd.Flags().String("author", "", "filter by author-name substring")
	exportCmd.Flags().String("venue", "", "filter by venue-name substring")
	exportCmd.Flags().Int("limit", 0, "maximum papers to export (0 = all)")

	rootCmd.AddCommand(exportCmd)
}

// exportLimit stands in for "all" when no limit is given; lookup's
// default of 20 is too small for a full export.
const exportLimit = 1 << 20

func runExport(cmd *cobra.Command, args []string) error {
	opts := store.QueryOptions{}
	opts.Title, _ = cmd.Flags().GetString("title")
	opts.Author, _ = cmd.Flags().GetString("author")
	opts.Venue, _ = cmd.Flags().GetString("venue")
	opts.MaxResults, _ = cmd.Flags().GetInt("limit")
	if opts.MaxResults <= 0 {
		opts.MaxResults = exportLimit
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

	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "yaml", "":
		path := filepath.Join(cfg.Store.DataDir, "index", "export.yaml")
		data, err := yaml.Marshal(results)
		if err != nil {
			return fmt.Errorf("encoding export: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		fmt.Printf("Exported %d papers to %s\n", len(results), path)
	case "json":
		path := filepath.Join(cfg.Store.DataDir, "index", "export.json")
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding export: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		fmt.Printf("Exported %d papers to %s\n", len(results), path)
	default:
		return fmt.Errorf("unsupported format %q: use yaml or json", format)
	}

	return nil
}
