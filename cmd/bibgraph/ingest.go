// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/bibgraph/internal/index"
	"github.com/pdiddy/bibgraph/internal/ingest"
	"github.com/pdiddy/bibgraph/internal/store"
	"github.com/pdiddy/bibgraph/pkg/types"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [record-files...]",
	Short: "Import record files into the entity store",
	Long: `Ingest reads YAML record files, resolves every record against the
store (by content identity, shared links, and title similarity), and
inserts or updates accordingly. Each file imports as one atomic batch
and is appended to the history log on success.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().String("source", "", "provenance label for files that do not name one")
	ingestCmd.Flags().Float64("threshold", 0, "author-set similarity required to confirm a title match (default 0.8)")
	ingestCmd.Flags().Bool("no-history", false, "skip appending imported batches to the history log")

	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("provide one or more record files")
	}

	cfg := engineConfig(cmd)
	if src, _ := cmd.Flags().GetString("source"); src != "" {
		cfg.Ingest.Source = src
	}
	if th, _ := cmd.Flags().GetFloat64("threshold"); th > 0 {
		cfg.Finder.SimilarityThreshold = th
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	finder, err := index.Load(ctx, st, cfg.Finder.SimilarityThreshold)
	if err != nil {
		return err
	}

	pipeline := ingest.New(st, finder, cfg.Ingest.Source)
	if noHistory, _ := cmd.Flags().GetBool("no-history"); !noHistory {
		history, err := ingest.NewHistory(historyDir(cfg.Store))
		if err != nil {
			return err
		}
		pipeline = pipeline.WithHistory(history)
	}

	var total ingest.BatchResult
	for _, path := range args {
		rf, err := readRecordFile(path)
		if err != nil {
			return err
		}
		result, err := pipeline.ImportAll(ctx, rf.Source, rf.Records(), os.Stdout)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(os.Stdout, "%s: %d inserted, %d updated, %d skipped, %d excluded\n",
			path, result.Inserted, result.Updated, result.Skipped, result.Excluded)
		total.Inserted += result.Inserted
		total.Updated += result.Updated
		total.Skipped += result.Skipped
		total.Excluded += result.Excluded
	}

	if len(args) > 1 {
		fmt.Fprintf(os.Stdout, "total: %d records across %d files\n", total.Total(), len(args))
	}
	return nil
}

func readRecordFile(path string) (*types.RecordFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading record file: %w", err)
	}
	var rf types.RecordFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &rf, nil
}
