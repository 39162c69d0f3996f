// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/bibgraph/internal/ident"
	"github.com/pdiddy/bibgraph/internal/merge"
	"github.com/pdiddy/bibgraph/internal/store"
	"github.com/pdiddy/bibgraph/pkg/types"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <kind> <id> <id> [ids...]",
	Short: "Fuse duplicate entities into one canonical entity",
	Long: `Merge declares that the named entities are the same real-world thing.
One canonical identifier survives (fabricated if the group has none);
every relation referencing a losing id is redirected to it, scalar
fields are reconciled quality-first, and the canonical map guarantees
the losing ids keep resolving to the survivor forever.

Kinds: paper, author, institution, venue, topic.`,
	Args: cobra.MinimumNArgs(3),
	RunE: runMerge,
}

func init() {
	mergeCmd.Flags().Int("max-contributors", 0, "rows consulted when reconciling scalar fields (default 10)")

	rootCmd.AddCommand(mergeCmd)
}

func runMerge(cmd *cobra.Command, args []string) error {
	kind, ok := types.ParseKind(args[0])
	if !ok {
		return fmt.Errorf("unknown kind %q: use paper, author, institution, venue, or topic", args[0])
	}

	ids := make([]ident.ID, 0, len(args)-1)
	for _, arg := range args[1:] {
		id, err := ident.ParseHex(arg)
		if err != nil {
			return fmt.Errorf("parsing id %q: %w", arg, err)
		}
		ids = append(ids, id)
	}

	cfg := engineConfig(cmd)
	st, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	maxContributors, _ := cmd.Flags().GetInt("max-contributors")
	if maxContributors == 0 {
		maxContributors = cfg.Ingest.MaxContributors
	}

	engine := merge.New(st, maxContributors)
	canonical, err := engine.Merge(context.Background(), kind, ids, os.Stdout)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "canonical %s: %s\n", kind, canonical)
	return nil
}
