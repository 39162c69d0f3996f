// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import "github.com/pdiddy/bibgraph/pkg/types"

// TableSpec describes the table owning an entity kind's rows.
type TableSpec struct {
	// Name is the table name.
	Name string

	// Key is the primary-key column holding the entity's hex id.
	Key string

	// Scalars lists the non-key scalar columns in reconciliation order.
	// The version column is excluded: merge takes the maximum version
	// rather than coalescing it.
	Scalars []string
}

// FKRef names a dependent table column referencing an entity kind's id.
// The set of FKRefs per kind is the redirect contract: a merge must
// rewrite every one of them, and only them.
type FKRef struct {
	Table  string
	Column string
}

// AliasRef names a kind's alias table, used to keep the current display
// name a member of the alias set after upserts and merges.
type AliasRef struct {
	Table  string
	Key    string
	Column string
}

var tables = map[types.Kind]TableSpec{
	types.KindPaper: {
		Name:    "papers",
		Key:     "id",
		Scalars: []string{"title", "abstract", "citation_count", "quality"},
	},
	types.KindAuthor: {
		Name:    "authors",
		Key:     "id",
		Scalars: []string{"name", "quality"},
	},
	types.KindInstitution: {
		Name:    "institutions",
		Key:     "id",
		Scalars: []string{"name", "category"},
	},
	types.KindVenue: {
		Name:    "venues",
		Key:     "id",
		Scalars: []string{"type", "name", "date", "date_precision", "volume", "publisher", "quality"},
	},
	types.KindTopic: {
		Name:    "topics",
		Key:     "id",
		Scalars: []string{"name"},
	},
}

// redirectTargets is the static per-kind redirect contract. Releases and
// links appear only as dependent tables; they are not merge subjects.
var redirectTargets = map[types.Kind][]FKRef{
	types.KindPaper: {
		{Table: "paper_authors", Column: "paper_id"},
		{Table: "paper_affiliations", Column: "paper_id"},
		{Table: "paper_topics", Column: "paper_id"},
		{Table: "paper_links", Column: "paper_id"},
		{Table: "releases", Column: "paper_id"},
	},
	types.KindAuthor: {
		{Table: "paper_authors", Column: "author_id"},
		{Table: "author_aliases", Column: "author_id"},
		{Table: "author_links", Column: "author_id"},
		{Table: "author_roles", Column: "author_id"},
	},
	types.KindInstitution: {
		{Table: "paper_affiliations", Column: "institution_id"},
		{Table: "author_roles", Column: "institution_id"},
		{Table: "institution_aliases", Column: "institution_id"},
	},
	types.KindVenue: {
		{Table: "releases", Column: "venue_id"},
		{Table: "venue_aliases", Column: "venue_id"},
		{Table: "venue_links", Column: "venue_id"},
	},
	types.KindTopic: {
		{Table: "paper_topics", Column: "topic_id"},
	},
}

var aliasTables = map[types.Kind]AliasRef{
	types.KindAuthor:      {Table: "author_aliases", Key: "author_id", Column: "alias"},
	types.KindInstitution: {Table: "institution_aliases", Key: "institution_id", Column: "alias"},
	types.KindVenue:       {Table: "venue_aliases", Key: "venue_id", Column: "alias"},
}

// linkTables maps each kind owning external links to its link table.
var linkTables = map[types.Kind]FKRef{
	types.KindPaper:  {Table: "paper_links", Column: "paper_id"},
	types.KindAuthor: {Table: "author_links", Column: "author_id"},
	types.KindVenue:  {Table: "venue_links", Column: "venue_id"},
}

// TableFor returns the owning table for a kind. Kinds without their own
// table (release, link) report ok=false.
func TableFor(k types.Kind) (TableSpec, bool) {
	spec, ok := tables[k]
	return spec, ok
}

// RedirectTargets returns the dependent table columns a merge of kind k
// must rewrite.
func RedirectTargets(k types.Kind) []FKRef {
	return redirectTargets[k]
}

// AliasTableFor returns the alias table for a kind, if it has one.
func AliasTableFor(k types.Kind) (AliasRef, bool) {
	ref, ok := aliasTables[k]
	return ref, ok
}

// LinkTableFor returns the link table for a kind, if it has one.
func LinkTableFor(k types.Kind) (FKRef, bool) {
	ref, ok := linkTables[k]
	return ref, ok
}

// Mergeable reports whether kind k is a valid merge subject.
func Mergeable(k types.Kind) bool {
	_, ok := tables[k]
	return ok
}

// schemaStatements creates every table the engine owns. Relation tables
// carry UNIQUE constraints so that re-attaching an existing child row is
// a no-op rather than a duplicate.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS papers (
		id TEXT PRIMARY KEY,
		title TEXT,
		abstract TEXT,
		citation_count INTEGER,
		quality REAL,
		version INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS authors (
		id TEXT PRIMARY KEY,
		name TEXT,
		quality REAL,
		version INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS institutions (
		id TEXT PRIMARY KEY,
		name TEXT,
		category TEXT,
		version INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS venues (
		id TEXT PRIMARY KEY,
		type TEXT,
		name TEXT,
		date TEXT,
		date_precision TEXT,
		volume TEXT,
		publisher TEXT,
		quality REAL,
		version INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS topics (
		id TEXT PRIMARY KEY,
		name TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS paper_authors (
		paper_id TEXT NOT NULL,
		author_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		UNIQUE(paper_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS paper_affiliations (
		paper_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		institution_id TEXT NOT NULL,
		UNIQUE(paper_id, position, institution_id)
	)`,
	`CREATE TABLE IF NOT EXISTS paper_topics (
		paper_id TEXT NOT NULL,
		topic_id TEXT NOT NULL,
		UNIQUE(paper_id, topic_id)
	)`,
	`CREATE TABLE IF NOT EXISTS paper_links (
		paper_id TEXT NOT NULL,
		type TEXT NOT NULL,
		value TEXT NOT NULL,
		UNIQUE(type, value)
	)`,
	`CREATE TABLE IF NOT EXISTS author_aliases (
		author_id TEXT NOT NULL,
		alias TEXT NOT NULL,
		UNIQUE(author_id, alias)
	)`,
	`CREATE TABLE IF NOT EXISTS author_links (
		author_id TEXT NOT NULL,
		type TEXT NOT NULL,
		value TEXT NOT NULL,
		UNIQUE(type, value)
	)`,
	`CREATE TABLE IF NOT EXISTS author_roles (
		author_id TEXT NOT NULL,
		institution_id TEXT NOT NULL,
		role TEXT,
		start_date TEXT,
		end_date TEXT,
		UNIQUE(author_id, institution_id, role)
	)`,
	`CREATE TABLE IF NOT EXISTS institution_aliases (
		institution_id TEXT NOT NULL,
		alias TEXT NOT NULL,
		UNIQUE(institution_id, alias)
	)`,
	`CREATE TABLE IF NOT EXISTS venue_aliases (
		venue_id TEXT NOT NULL,
		alias TEXT NOT NULL,
		UNIQUE(venue_id, alias)
	)`,
	`CREATE TABLE IF NOT EXISTS venue_links (
		venue_id TEXT NOT NULL,
		type TEXT NOT NULL,
		value TEXT NOT NULL,
		UNIQUE(type, value)
	)`,
	`CREATE TABLE IF NOT EXISTS releases (
		paper_id TEXT NOT NULL,
		venue_id TEXT NOT NULL,
		status TEXT,
		pages TEXT,
		UNIQUE(paper_id, venue_id)
	)`,
	`CREATE TABLE IF NOT EXISTS canonical_map (
		id TEXT PRIMARY KEY,
		canonical TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS exclusions (
		link_type TEXT NOT NULL,
		link_value TEXT NOT NULL,
		UNIQUE(link_type, link_value)
	)`,
	`CREATE TABLE IF NOT EXISTS provenance (
		id TEXT PRIMARY KEY,
		source TEXT,
		first_seen TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_paper_authors_author ON paper_authors(author_id)`,
	`CREATE INDEX IF NOT EXISTS idx_paper_topics_topic ON paper_topics(topic_id)`,
	`CREATE INDEX IF NOT EXISTS idx_releases_venue ON releases(venue_id)`,
	`CREATE INDEX IF NOT EXISTS idx_canonical_map_canonical ON canonical_map(canonical)`,
}
