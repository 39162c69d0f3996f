// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the bibgraph CLI.
// Implements: prd001-identity, prd002-resolution, prd003-ingestion,
//             prd004-merge, prd005-storage (CLI surface).
// See docs/ARCHITECTURE § Engine Interface, § Project Structure.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/bibgraph/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// rootCmd is the base command for the bibgraph CLI.
var rootCmd = &cobra.Command{
	Use:   "bibgraph",
	Short: "Entity resolution and canonical merge for bibliographic records",
	Long: `bibgraph maintains a deduplicated store of bibliographic entities:
papers, authors, institutions, venues, and topics. Records ingested from
any source are resolved against the store by content identity, shared
links, and title similarity; duplicates discovered later are fused into
a single canonical entity without breaking previously issued identifiers.

Each engine operation is a subcommand: ingest, merge, lookup, replay,
exclude, and export.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./bibgraph.yaml or ~/.config/bibgraph/config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "base directory for the store (contains index/, history/)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("bibgraph")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "bibgraph"))
		}
	}

	viper.SetEnvPrefix("BIBGRAPH")
	viper.AutomaticEnv()

	viper.SetDefault("store.data_dir", "data")

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// engineConfig resolves the effective configuration: flags override the
// config file, which overrides defaults.
func engineConfig(cmd *cobra.Command) types.EngineConfig {
	cfg := types.EngineConfig{
		Store: types.StoreConfig{
			DataDir: viper.GetString("store.data_dir"),
		},
		Finder: types.FinderConfig{
			SimilarityThreshold: viper.GetFloat64("finder.similarity_threshold"),
		},
		Ingest: types.IngestConfig{
			Source:          viper.GetString("ingest.source"),
			MaxContributors: viper.GetInt("ingest.max_contributors"),
		},
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Store.DataDir = dir
	}
	return cfg
}

// historyDir is where ImportAll appends batch logs, alongside the index.
func historyDir(cfg types.StoreConfig) string {
	return filepath.Join(cfg.DataDir, "history")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
