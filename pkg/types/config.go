package types

// StoreConfig holds settings for the entity store.
// Per prd005-storage R1.2, R1.3.
type StoreConfig struct {
	// DataDir is the base directory for the store (contains index/, history/).
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// FinderConfig holds settings for the equivalence index.
// Per prd002-resolution R2.3.
type FinderConfig struct {
	// SimilarityThreshold is the minimum author-set similarity required
	// to confirm a normalized-title match (default 0.8).
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold"`
}

// IngestConfig holds settings for the ingestion pipeline.
// Per prd003-ingestion R4.1, R5.1.
type IngestConfig struct {
	// Source is the default provenance label stamped on records whose
	// batch does not name one.
	Source string `json:"source" yaml:"source"`

	// MaxContributors caps the quality-ranked row list consulted when
	// merge reconciles scalar fields (default 10).
	MaxContributors int `json:"max_contributors" yaml:"max_contributors"`
}

// EngineConfig groups all component configurations.
type EngineConfig struct {
	Store  StoreConfig  `json:"store" yaml:"store"`
	Finder FinderConfig `json:"finder" yaml:"finder"`
	Ingest IngestConfig `json:"ingest" yaml:"ingest"`
}
