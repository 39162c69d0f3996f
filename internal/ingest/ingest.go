// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ingest implements the ingestion pipeline: it gives incoming
// records stable identity, decides insert-vs-update through the
// canonical map and the equivalence index, writes entity rows and
// relations additively, and records provenance. Batches are one
// transaction and are appended to the history log after commit.
// Implements: prd003-ingestion (R1-R5); docs/ARCHITECTURE § Ingestion.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pdiddy/bibgraph/internal/ident"
	"github.com/pdiddy/bibgraph/internal/index"
	"github.com/pdiddy/bibgraph/internal/store"
	"github.com/pdiddy/bibgraph/pkg/types"
)

// ErrExcluded marks a record rejected because one of its links is in
// the permanent exclusion set.
var ErrExcluded = errors.New("record bears an excluded link")

// ErrOwnedKind marks an attempt to ingest a release or link on its own;
// those are owned relations and arrive with their owning entity.
var ErrOwnedKind = errors.New("record kind is an owned relation")

// Pipeline upserts records into the store.
type Pipeline struct {
	store   *store.Store
	finder  *index.Finder
	history *History
	source  string
	now     func() time.Time
}

// New returns a Pipeline writing to st. The finder decides equivalence
// for papers whose content hash is unseen; source is the provenance
// label for single-record acquisition.
func New(st *store.Store, f *index.Finder, source string) *Pipeline {
	return &Pipeline{store: st, finder: f, source: source, now: time.Now}
}

// WithHistory makes ImportAll append committed batches to h.
func (p *Pipeline) WithHistory(h *History) *Pipeline {
	p.history = h
	return p
}

// BatchResult holds the outcome of a batch import.
type BatchResult struct {
	Inserted int
	Updated  int
	Skipped  int
	Excluded int
}

// Total returns the number of records processed.
func (r BatchResult) Total() int {
	return r.Inserted + r.Updated + r.Skipped + r.Excluded
}

// Acquire upserts a single record in its own transaction and returns
// its canonical id. Owned relations (authors, affiliations, releases,
// topics, links) are acquired recursively in the same transaction.
func (p *Pipeline) Acquire(ctx context.Context, rec types.Record, w io.Writer) (ident.ID, error) {
	var id ident.ID
	err := p.store.Transact(ctx, func(a store.Adapter) error {
		var err error
		id, _, err = p.acquire(ctx, a, rec, p.source, w)
		return err
	})
	return id, err
}

// ImportAll upserts a batch of records in one transaction: the whole
// batch commits or none of it does. Excluded records are dropped and
// counted without failing the batch; any other error rolls everything
// back. On successful commit the batch is appended to the history log
// when the pipeline has one.
func (p *Pipeline) ImportAll(ctx context.Context, source string, recs []types.Record, w io.Writer) (BatchResult, error) {
	result, err := p.importAll(ctx, source, recs, w)
	if err != nil {
		return result, err
	}

	if p.history != nil {
		if _, err := p.history.Append(source, recs, p.now()); err != nil {
			return result, fmt.Errorf("appending history: %w", err)
		}
	}
	return result, nil
}

// importAll runs the batch without touching the history log; replay
// uses it directly so re-applied batches are not logged twice.
func (p *Pipeline) importAll(ctx context.Context, source string, recs []types.Record, w io.Writer) (BatchResult, error) {
	if source == "" {
		source = p.source
	}

	var result BatchResult
	err := p.store.Transact(ctx, func(a store.Adapter) error {
		for _, rec := range recs {
			id, st, err := p.acquire(ctx, a, rec, source, w)
			switch {
			case errors.Is(err, ErrExcluded):
				fmt.Fprintf(w, "excluded %s\n", rec.EntityKind())
				result.Excluded++
				continue
			case err != nil:
				return fmt.Errorf("acquiring %s: %w", rec.EntityKind(), err)
			}
			switch st {
			case statusInserted:
				fmt.Fprintf(w, "inserted %s %s\n", rec.EntityKind(), id)
				result.Inserted++
			case statusUpdated:
				fmt.Fprintf(w, "updated  %s %s\n", rec.EntityKind(), id)
				result.Updated++
			default:
				fmt.Fprintf(w, "skipped  %s %s\n", rec.EntityKind(), id)
				result.Skipped++
			}
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, err
	}

	fmt.Fprintf(w, "\nBatch summary: %d inserted, %d updated, %d skipped, %d excluded (total: %d)\n",
		result.Inserted, result.Updated, result.Skipped, result.Excluded, result.Total())

	return result, nil
}

type status int

const (
	statusInserted status = iota
	statusUpdated
	statusSkipped
)

// acquire dispatches on the closed set of entity kinds.
func (p *Pipeline) acquire(ctx context.Context, a store.Adapter, rec types.Record, source string, w io.Writer) (ident.ID, status, error) {
	switch r := rec.(type) {
	case *types.Paper:
		return p.acquirePaper(ctx, a, r, source, w)
	case *types.Author:
		return p.acquireAuthor(ctx, a, r, source, w)
	case *types.Institution:
		return p.acquireInstitution(ctx, a, r, source)
	case *types.Venue:
		return p.acquireVenue(ctx, a, r, source)
	case *types.Topic:
		return p.acquireTopic(ctx, a, r, source)
	case *types.Release, *types.Link:
		return 0, statusSkipped, fmt.Errorf("%s: %w", rec.EntityKind(), ErrOwnedKind)
	default:
		return 0, statusSkipped, fmt.Errorf("unsupported record type %T", rec)
	}
}

// resolveOrRegister implements the identity step shared by all kinds:
// an already-registered transient id that still resolves to itself is a
// pure re-ingestion and short-circuits; a mapping onto another id means
// the entity was claimed by a merge or an earlier equivalence decision,
// and the record is re-examined against the resolved row. An unseen id
// is registered self-canonical and stamped with provenance.
func (p *Pipeline) resolveOrRegister(ctx context.Context, a store.Adapter, id ident.ID, source string) (ident.ID, status, error) {
	canonical, ok, err := store.Resolve(ctx, a, id)
	if err != nil {
		return 0, statusSkipped, err
	}
	if ok {
		if canonical == id {
			return id, statusSkipped, nil
		}
		return canonical, statusUpdated, nil
	}

	if err := store.SetCanonical(ctx, a, id, id); err != nil {
		return 0, statusSkipped, err
	}
	if err := store.StampProvenance(ctx, a, id, source, p.now()); err != nil {
		return 0, statusSkipped, err
	}
	return id, statusInserted, nil
}

// checkExcluded rejects any record bearing an excluded link.
func checkExcluded(ctx context.Context, a store.Adapter, links []types.Link) error {
	for _, l := range links {
		excluded, err := store.IsExcluded(ctx, a, l)
		if err != nil {
			return err
		}
		if excluded {
			return fmt.Errorf("link %s:%s: %w", l.Type, l.Value, ErrExcluded)
		}
	}
	return nil
}

// linkClosure gathers every link a paper record carries, its own and
// those of its owned relations. The exclusion check runs over the full
// closure before the first write, so a record rejected for any of its
// links leaves no rows behind.
func linkClosure(r *types.Paper) []types.Link {
	links := append([]types.Link(nil), r.Links...)
	for _, pa := range r.Authors {
		if pa.Author != nil {
			links = append(links, pa.Author.Links...)
		}
	}
	for _, rel := range r.Releases {
		if rel.Venue != nil {
			links = append(links, rel.Venue.Links...)
		}
	}
	return links
}

// lookupByLink finds an existing owner of any of the candidate's links
// in the kind's link table. Exact link matches decide equivalence for
// kinds the in-memory finder does not cover.
func lookupByLink(ctx context.Context, a store.Adapter, kind types.Kind, links []types.Link) (ident.ID, bool, error) {
	ref, ok := store.LinkTableFor(kind)
	if !ok {
		return 0, false, nil
	}
	for _, l := range links {
		rows, err := a.Select(ctx, ref.Table, store.Row{"type": l.Type, "value": l.Value})
		if err != nil {
			return 0, false, err
		}
		if len(rows) > 0 {
			id, err := ident.ParseHex(rows[0].Str(ref.Column))
			if err != nil {
				return 0, false, fmt.Errorf("%s row: %w", ref.Table, err)
			}
			return id, true, nil
		}
	}
	return 0, false, nil
}

// nullable maps Go zero values to SQL NULL so sparse sources do not
// overwrite known fields with emptiness during upsert and coalesce.
func nullable(v any) any {
	switch x := v.(type) {
	case string:
		if x == "" {
			return nil
		}
	case int64:
		if x == 0 {
			return nil
		}
	case float64:
		if x == 0 {
			return nil
		}
	}
	return v
}

// upsertGuarded writes the entity's own row. A fresh id inserts; an
// existing row merges field-wise, with the version stamp deciding
// whether incoming scalars may overwrite stored ones. Relations are
// reconciled additively by the callers regardless of version.
func upsertGuarded(ctx context.Context, a store.Adapter, kind types.Kind, id ident.ID, incoming store.Row, version int64) error {
	spec, ok := store.TableFor(kind)
	if !ok {
		return fmt.Errorf("kind %s has no entity table", kind)
	}

	existing, err := a.Select(ctx, spec.Name, store.Row{spec.Key: id.Hex()})
	if err != nil {
		return err
	}

	row := store.Row{spec.Key: id.Hex()}
	if len(existing) == 0 {
		for _, col := range spec.Scalars {
			row[col] = incoming[col]
		}
		if hasVersionColumn(kind) {
			row["version"] = version
		}
		return a.Upsert(ctx, spec.Name, []string{spec.Key}, row)
	}

	stored := existing[0]
	stale := hasVersionColumn(kind) && version < stored.Int("version")
	for _, col := range spec.Scalars {
		row[col] = stored[col]
		if !stale && nullable(incoming[col]) != nil {
			row[col] = incoming[col]
		}
	}
	if hasVersionColumn(kind) {
		row["version"] = max(version, stored.Int("version"))
	}
	return a.Upsert(ctx, spec.Name, []string{spec.Key}, row)
}

func hasVersionColumn(kind types.Kind) bool {
	return kind != types.KindTopic
}

// insertAliases keeps the alias set containing the current display name.
func insertAliases(ctx context.Context, a store.Adapter, kind types.Kind, id ident.ID, name string, aliases []string) error {
	ref, ok := store.AliasTableFor(kind)
	if !ok {
		return nil
	}
	all := append([]string{name}, aliases...)
	for _, alias := range all {
		if alias == "" {
			continue
		}
		err := a.InsertIgnore(ctx, ref.Table, store.Row{ref.Key: id.Hex(), ref.Column: alias})
		if err != nil {
			return err
		}
	}
	return nil
}

func insertLinks(ctx context.Context, a store.Adapter, kind types.Kind, id ident.ID, links []types.Link) error {
	ref, ok := store.LinkTableFor(kind)
	if !ok {
		return nil
	}
	for _, l := range links {
		err := a.InsertIgnore(ctx, ref.Table, store.Row{
			ref.Column: id.Hex(), "type": l.Type, "value": l.Value,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) acquirePaper(ctx context.Context, a store.Adapter, r *types.Paper, source string, w io.Writer) (ident.ID, status, error) {
	if err := validateByline(r.Authors); err != nil {
		return 0, statusSkipped, err
	}
	if err := checkExcluded(ctx, a, linkClosure(r)); err != nil {
		return 0, statusSkipped, err
	}

	id := ident.Paper(r.Title, r.Abstract)
	canonical, ok, err := store.Resolve(ctx, a, id)
	if err != nil {
		return 0, statusSkipped, err
	}

	var st status
	target := id
	switch {
	case ok && canonical == id:
		// Identical content already registered; nothing can have changed.
		return id, statusSkipped, nil
	case ok:
		target, st = canonical, statusUpdated
	default:
		// Unseen content: the equivalence index decides whether this is
		// a variant of a known paper or a genuinely new one. Either way
		// the transient id is being registered for the first time and
		// gets its provenance stamp.
		m, found, err := p.findEquivalent(ctx, a, r, w)
		if err != nil {
			return 0, statusSkipped, err
		}
		if found {
			target, st = m, statusUpdated
			if err := store.SetCanonical(ctx, a, id, target); err != nil {
				return 0, st, err
			}
		} else {
			st = statusInserted
			if err := store.SetCanonical(ctx, a, id, id); err != nil {
				return 0, st, err
			}
		}
		if err := store.StampProvenance(ctx, a, id, source, p.now()); err != nil {
			return 0, st, err
		}
	}

	row := store.Row{
		"title":          nullable(r.Title),
		"abstract":       nullable(r.Abstract),
		"citation_count": nullable(r.CitationCount),
		"quality":        nullable(r.Quality),
	}
	if err := upsertGuarded(ctx, a, types.KindPaper, target, row, r.Version); err != nil {
		return 0, st, err
	}

	for _, pa := range r.Authors {
		if pa.Author == nil {
			continue
		}
		aid, _, err := p.acquireAuthor(ctx, a, pa.Author, source, w)
		if err != nil {
			return 0, st, err
		}
		err = a.InsertIgnore(ctx, "paper_authors", store.Row{
			"paper_id": target.Hex(), "author_id": aid.Hex(), "position": int64(pa.Position),
		})
		if err != nil {
			return 0, st, err
		}
		for _, inst := range pa.Affiliations {
			iid, _, err := p.acquireInstitution(ctx, a, inst, source)
			if err != nil {
				return 0, st, err
			}
			err = a.InsertIgnore(ctx, "paper_affiliations", store.Row{
				"paper_id": target.Hex(), "position": int64(pa.Position), "institution_id": iid.Hex(),
			})
			if err != nil {
				return 0, st, err
			}
		}
	}

	for _, rel := range r.Releases {
		if rel.Venue == nil {
			return 0, st, fmt.Errorf("release without a venue on paper %s", target)
		}
		vid, _, err := p.acquireVenue(ctx, a, rel.Venue, source)
		if err != nil {
			return 0, st, err
		}
		err = a.InsertIgnore(ctx, "releases", store.Row{
			"paper_id": target.Hex(), "venue_id": vid.Hex(),
			"status": nullable(rel.Status), "pages": nullable(rel.Pages),
		})
		if err != nil {
			return 0, st, err
		}
	}

	for i := range r.Topics {
		tid, _, err := p.acquireTopic(ctx, a, &r.Topics[i], source)
		if err != nil {
			return 0, st, err
		}
		err = a.InsertIgnore(ctx, "paper_topics", store.Row{
			"paper_id": target.Hex(), "topic_id": tid.Hex(),
		})
		if err != nil {
			return 0, st, err
		}
	}

	if err := insertLinks(ctx, a, types.KindPaper, target, r.Links); err != nil {
		return 0, st, err
	}

	if p.finder != nil {
		p.finder.Replace(index.Entry{
			ID:      target,
			Title:   r.Title,
			Authors: r.AuthorNames(),
			Links:   r.Links,
		})
	}

	return target, st, nil
}

// findEquivalent consults the equivalence index and resolves the hit
// through the canonical map, since indexed entries may predate a merge.
func (p *Pipeline) findEquivalent(ctx context.Context, a store.Adapter, r *types.Paper, w io.Writer) (ident.ID, bool, error) {
	if p.finder == nil {
		return 0, false, nil
	}
	m, ok := p.finder.Find(index.Entry{
		Title:   r.Title,
		Authors: r.AuthorNames(),
		Links:   r.Links,
	}, w)
	if !ok {
		return 0, false, nil
	}
	canonical, found, err := store.Resolve(ctx, a, m.ID)
	if err != nil {
		return 0, false, err
	}
	if found {
		return canonical, true, nil
	}
	return m.ID, true, nil
}

// validateByline enforces gap-free, order-significant author positions.
func validateByline(byline []types.PaperAuthor) error {
	seen := make(map[int]bool, len(byline))
	for _, pa := range byline {
		if pa.Position < 0 || pa.Position >= len(byline) {
			return fmt.Errorf("byline position %d out of range [0,%d)", pa.Position, len(byline))
		}
		if seen[pa.Position] {
			return fmt.Errorf("duplicate byline position %d", pa.Position)
		}
		seen[pa.Position] = true
	}
	return nil
}

func (p *Pipeline) acquireAuthor(ctx context.Context, a store.Adapter, r *types.Author, source string, w io.Writer) (ident.ID, status, error) {
	if err := checkExcluded(ctx, a, r.Links); err != nil {
		return 0, statusSkipped, err
	}

	id := ident.Author(r.Name)
	target, st, err := p.resolveOrRegister(ctx, a, id, source)
	if err != nil {
		return 0, st, err
	}
	if st == statusSkipped {
		return target, st, nil
	}

	// A shared external id (e.g. orcid) identifies the same person under
	// a variant spelling; adopt the existing identity instead of
	// inserting a double.
	if st == statusInserted {
		if existing, found, err := lookupByLink(ctx, a, types.KindAuthor, r.Links); err != nil {
			return 0, st, err
		} else if found {
			resolved, ok, err := store.Resolve(ctx, a, existing)
			if err != nil {
				return 0, st, err
			}
			if ok {
				existing = resolved
			}
			if err := store.SetCanonical(ctx, a, id, existing); err != nil {
				return 0, st, err
			}
			target, st = existing, statusUpdated
		}
	}

	row := store.Row{"name": nullable(r.Name), "quality": nullable(r.Quality)}
	if err := upsertGuarded(ctx, a, types.KindAuthor, target, row, r.Version); err != nil {
		return 0, st, err
	}
	if err := insertAliases(ctx, a, types.KindAuthor, target, r.Name, r.Aliases); err != nil {
		return 0, st, err
	}
	if err := insertLinks(ctx, a, types.KindAuthor, target, r.Links); err != nil {
		return 0, st, err
	}

	for _, role := range r.Roles {
		if role.Institution == nil {
			continue
		}
		iid, _, err := p.acquireInstitution(ctx, a, role.Institution, source)
		if err != nil {
			return 0, st, err
		}
		err = a.InsertIgnore(ctx, "author_roles", store.Row{
			"author_id": target.Hex(), "institution_id": iid.Hex(),
			"role":       nullable(role.Role),
			"start_date": nullable(role.Start), "end_date": nullable(role.End),
		})
		if err != nil {
			return 0, st, err
		}
	}

	return target, st, nil
}

func (p *Pipeline) acquireInstitution(ctx context.Context, a store.Adapter, r *types.Institution, source string) (ident.ID, status, error) {
	id := ident.Institution(r.Name)
	target, st, err := p.resolveOrRegister(ctx, a, id, source)
	if err != nil || st == statusSkipped {
		return target, st, err
	}

	row := store.Row{"name": nullable(r.Name), "category": nullable(r.Category)}
	if err := upsertGuarded(ctx, a, types.KindInstitution, target, row, r.Version); err != nil {
		return 0, st, err
	}
	if err := insertAliases(ctx, a, types.KindInstitution, target, r.Name, r.Aliases); err != nil {
		return 0, st, err
	}
	return target, st, nil
}

func (p *Pipeline) acquireVenue(ctx context.Context, a store.Adapter, r *types.Venue, source string) (ident.ID, status, error) {
	if err := checkExcluded(ctx, a, r.Links); err != nil {
		return 0, statusSkipped, err
	}

	id := ident.Venue(r.Type, r.Name)
	target, st, err := p.resolveOrRegister(ctx, a, id, source)
	if err != nil || st == statusSkipped {
		return target, st, err
	}

	if st == statusInserted {
		if existing, found, err := lookupByLink(ctx, a, types.KindVenue, r.Links); err != nil {
			return 0, st, err
		} else if found {
			resolved, ok, err := store.Resolve(ctx, a, existing)
			if err != nil {
				return 0, st, err
			}
			if ok {
				existing = resolved
			}
			if err := store.SetCanonical(ctx, a, id, existing); err != nil {
				return 0, st, err
			}
			target, st = existing, statusUpdated
		}
	}

	row := store.Row{
		"type": nullable(r.Type), "name": nullable(r.Name),
		"date": nullable(r.Date), "date_precision": nullable(r.DatePrecision),
		"volume": nullable(r.Volume), "publisher": nullable(r.Publisher),
		"quality": nullable(r.Quality),
	}
	if err := upsertGuarded(ctx, a, types.KindVenue, target, row, r.Version); err != nil {
		return 0, st, err
	}
	if err := insertAliases(ctx, a, types.KindVenue, target, r.Name, r.Aliases); err != nil {
		return 0, st, err
	}
	if err := insertLinks(ctx, a, types.KindVenue, target, r.Links); err != nil {
		return 0, st, err
	}
	return target, st, nil
}

func (p *Pipeline) acquireTopic(ctx context.Context, a store.Adapter, r *types.Topic, source string) (ident.ID, status, error) {
	id := ident.Topic(r.Name)
	target, st, err := p.resolveOrRegister(ctx, a, id, source)
	if err != nil || st == statusSkipped {
		return target, st, err
	}

	row := store.Row{"name": nullable(r.Name)}
	if err := upsertGuarded(ctx, a, types.KindTopic, target, row, 0); err != nil {
		return 0, st, err
	}
	return target, st, nil
}
