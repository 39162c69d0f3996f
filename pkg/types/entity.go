// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the bibliographic entity model shared across the
// resolution engine: the closed set of entity kinds, the record structs
// produced by discovery collaborators, and pipeline configuration.
// Implements: prd001-entity-model; docs/ARCHITECTURE § Data Model.
package types

// Kind enumerates the entity kinds the engine stores, resolves, and
// merges. The set is closed: every per-kind operation (acquire, merge,
// redirect) switches exhaustively over it.
type Kind int

const (
	KindPaper Kind = iota
	KindAuthor
	KindInstitution
	KindVenue
	KindRelease
	KindTopic
	KindLink
)

func (k Kind) String() string {
	switch k {
	case KindPaper:
		return "paper"
	case KindAuthor:
		return "author"
	case KindInstitution:
		return "institution"
	case KindVenue:
		return "venue"
	case KindRelease:
		return "release"
	case KindTopic:
		return "topic"
	case KindLink:
		return "link"
	default:
		return "unknown"
	}
}

// ParseKind returns the Kind named by s, or ok=false for an unknown name.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "paper":
		return KindPaper, true
	case "author":
		return KindAuthor, true
	case "institution":
		return KindInstitution, true
	case "venue":
		return KindVenue, true
	case "release":
		return KindRelease, true
	case "topic":
		return KindTopic, true
	case "link":
		return KindLink, true
	default:
		return Kind(-1), false
	}
}

// Record is implemented by every entity kind that can be handed to the
// ingestion pipeline. The concrete types below are the complete set.
type Record interface {
	EntityKind() Kind
}

// Link is a (type, external-id) pair attached to an entity, e.g.
// ("doi", "10.1145/1234567.1234568"). The pair is unique per entity
// table and serves as an exact-match key during equivalence lookup.
type Link struct {
	// Type names the external identifier scheme (doi, arxiv, openalex, orcid...).
	Type string `json:"type" yaml:"type"`

	// Value is the identifier in that scheme.
	Value string `json:"value" yaml:"value"`
}

// EntityKind implements Record.
func (Link) EntityKind() Kind { return KindLink }

// Topic is a subject label. Topics are deduplicated by name alone.
type Topic struct {
	Name string `json:"name" yaml:"name"`
}

// EntityKind implements Record.
func (Topic) EntityKind() Kind { return KindTopic }

// Institution is an organization an author can be affiliated with.
type Institution struct {
	// Name is the current display name.
	Name string `json:"name" yaml:"name"`

	// Category classifies the institution (university, company, lab...).
	Category string `json:"category,omitempty" yaml:"category,omitempty"`

	// Aliases holds alternate names. The current name is always a member.
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`

	// Version is a monotonically increasing stamp set by the producing
	// source; a write with an older version never clobbers stored fields.
	Version int64 `json:"version,omitempty" yaml:"version,omitempty"`
}

// EntityKind implements Record.
func (Institution) EntityKind() Kind { return KindInstitution }

// Role records an author's affiliation with an institution over a time range.
type Role struct {
	Institution *Institution `json:"institution" yaml:"institution"`

	// Role is the position label (professor, student, researcher...).
	Role string `json:"role,omitempty" yaml:"role,omitempty"`

	// Start and End are ISO dates; either may be empty.
	Start string `json:"start,omitempty" yaml:"start,omitempty"`
	End   string `json:"end,omitempty" yaml:"end,omitempty"`
}

// Author is a person who writes papers. Identity is derived from the
// display name; variant spellings arrive as separate records and are
// reconciled by merge.
type Author struct {
	// Name is the current display name.
	Name string `json:"name" yaml:"name"`

	// Aliases holds alternate spellings. The current name is always a member.
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`

	// Quality is a trust/completeness proxy used only to break merge ties.
	Quality float64 `json:"quality,omitempty" yaml:"quality,omitempty"`

	// Version guards against stale re-fetches; see Institution.Version.
	Version int64 `json:"version,omitempty" yaml:"version,omitempty"`

	// Links are external identifiers for this author (orcid, openalex...).
	Links []Link `json:"links,omitempty" yaml:"links,omitempty"`

	// Roles are institutional affiliations with time ranges.
	Roles []Role `json:"roles,omitempty" yaml:"roles,omitempty"`
}

// EntityKind implements Record.
func (Author) EntityKind() Kind { return KindAuthor }

// Venue is a publication outlet: a journal, conference, or repository.
// Identity is derived from (type, name).
type Venue struct {
	// Type classifies the venue: journal, conference, workshop, repository.
	Type string `json:"type" yaml:"type"`

	// Name is the current display name.
	Name string `json:"name" yaml:"name"`

	// Aliases holds alternate names. The current name is always a member.
	Aliases []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`

	// Date is the event or issue date in ISO form, as precise as known.
	Date string `json:"date,omitempty" yaml:"date,omitempty"`

	// DatePrecision qualifies Date: year, month, or day.
	DatePrecision string `json:"date_precision,omitempty" yaml:"date_precision,omitempty"`

	// Volume is the journal volume or proceedings number.
	Volume string `json:"volume,omitempty" yaml:"volume,omitempty"`

	// Publisher names the publishing organization.
	Publisher string `json:"publisher,omitempty" yaml:"publisher,omitempty"`

	// Quality is a trust/completeness proxy used only to break merge ties.
	Quality float64 `json:"quality,omitempty" yaml:"quality,omitempty"`

	// Version guards against stale re-fetches.
	Version int64 `json:"version,omitempty" yaml:"version,omitempty"`

	// Links are external identifiers for this venue (issn, openalex...).
	Links []Link `json:"links,omitempty" yaml:"links,omitempty"`
}

// EntityKind implements Record.
func (Venue) EntityKind() Kind { return KindVenue }

// Release binds a paper to a venue with a publication status. Releases
// are owned by their paper and carry no standalone identity.
type Release struct {
	Venue *Venue `json:"venue" yaml:"venue"`

	// Status is the publication state: preprint or published.
	Status string `json:"status,omitempty" yaml:"status,omitempty"`

	// Pages is the page range within the venue, e.g. "117-128".
	Pages string `json:"pages,omitempty" yaml:"pages,omitempty"`
}

// EntityKind implements Record.
func (Release) EntityKind() Kind { return KindRelease }

// PaperAuthor is one slot in a paper's ordered author list. Position is
// zero-based and gap-free; co-author ordering is part of the record.
type PaperAuthor struct {
	Author *Author `json:"author" yaml:"author"`

	// Position is the zero-based index in the byline.
	Position int `json:"position" yaml:"position"`

	// Affiliations are the institutions credited for this author on
	// this paper, which may differ from the author's current roles.
	Affiliations []*Institution `json:"affiliations,omitempty" yaml:"affiliations,omitempty"`
}

// Paper is the central entity. Identity is derived from (title, abstract).
type Paper struct {
	// Title is the paper title as provided by the source.
	Title string `json:"title" yaml:"title"`

	// Abstract is the paper abstract; may be empty for sparse sources.
	Abstract string `json:"abstract,omitempty" yaml:"abstract,omitempty"`

	// CitationCount is the source's citation count; zero means unknown.
	CitationCount int64 `json:"citation_count,omitempty" yaml:"citation_count,omitempty"`

	// Quality is a trust/completeness proxy used only to break merge ties.
	Quality float64 `json:"quality,omitempty" yaml:"quality,omitempty"`

	// Version guards against stale re-fetches.
	Version int64 `json:"version,omitempty" yaml:"version,omitempty"`

	// Authors is the ordered byline.
	Authors []PaperAuthor `json:"authors,omitempty" yaml:"authors,omitempty"`

	// Releases bind this paper to the venues it appeared in.
	Releases []Release `json:"releases,omitempty" yaml:"releases,omitempty"`

	// Topics are subject labels.
	Topics []Topic `json:"topics,omitempty" yaml:"topics,omitempty"`

	// Links are external identifiers for this paper (doi, arxiv...).
	Links []Link `json:"links,omitempty" yaml:"links,omitempty"`
}

// EntityKind implements Record.
func (Paper) EntityKind() Kind { return KindPaper }

// AuthorNames returns the byline display names in position order.
func (p *Paper) AuthorNames() []string {
	names := make([]string, 0, len(p.Authors))
	for _, pa := range p.Authors {
		if pa.Author != nil {
			names = append(names, pa.Author.Name)
		}
	}
	return names
}

// RecordFile is the YAML document shape consumed by `bibgraph ingest`:
// a batch of typed records from one source.
type RecordFile struct {
	// Source names the producing collaborator (openalex, scraper-acm...).
	Source string `json:"source" yaml:"source"`

	Papers       []Paper       `json:"papers,omitempty" yaml:"papers,omitempty"`
	Authors      []Author      `json:"authors,omitempty" yaml:"authors,omitempty"`
	Institutions []Institution `json:"institutions,omitempty" yaml:"institutions,omitempty"`
	Venues       []Venue       `json:"venues,omitempty" yaml:"venues,omitempty"`
	Topics       []Topic       `json:"topics,omitempty" yaml:"topics,omitempty"`
}

// Records flattens the file into the pipeline's input order: standalone
// entities first, then papers (papers pull their owned relations along).
func (f *RecordFile) Records() []Record {
	var recs []Record
	for i := range f.Institutions {
		recs = append(recs, &f.Institutions[i])
	}
	for i := range f.Venues {
		recs = append(recs, &f.Venues[i])
	}
	for i := range f.Authors {
		recs = append(recs, &f.Authors[i])
	}
	for i := range f.Topics {
		recs = append(recs, &f.Topics[i])
	}
	for i := range f.Papers {
		recs = append(recs, &f.Papers[i])
	}
	return recs
}
