// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/bibgraph/internal/store"
	"github.com/pdiddy/bibgraph/pkg/types"
)

var excludeCmd = &cobra.Command{
	Use:   "exclude",
	Short: "Manage the exclusion list",
	Long: `Exclude manages the list of links whose records must never enter the
store. Ingestion rejects any record carrying an excluded link; the
rejection is counted, not fatal, so the rest of the batch proceeds.`,
}

var excludeAddCmd = &cobra.Command{
	Use:   "add <link-type> <link-value>",
	Short: "Add a link to the exclusion list",
	Args:  cobra.ExactArgs(2),
	RunE:  runExcludeAdd,
}

var excludeListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the exclusion list",
	Args:  cobra.NoArgs,
	RunE:  runExcludeList,
}

func init() {
	excludeCmd.AddCommand(excludeAddCmd)
	excludeCmd.AddCommand(excludeListCmd)

	rootCmd.AddCommand(excludeCmd)
}

func runExcludeAdd(cmd *cobra.Command, args []string) error {
	link := types.Link{Type: args[0], Value: args[1]}

	cfg := engineConfig(cmd)
	st, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	err = st.Transact(ctx, func(a store.Adapter) error {
		return store.Exclude(ctx, a, link)
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "excluded %s:%s\n", link.Type, link.Value)
	return nil
}

func runExcludeList(cmd *cobra.Command, args []string) error {
	cfg := engineConfig(cmd)
	st, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	links, err := store.Exclusions(context.Background(), st)
	if err != nil {
		return err
	}

	if len(links) == 0 {
		fmt.Println("No exclusions.")
		return nil
	}
	for _, link := range links {
		fmt.Fprintf(os.Stdout, "%s:%s\n", link.Type, link.Value)
	}
	return nil
}
