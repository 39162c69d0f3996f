// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ingest

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/pdiddy/bibgraph/internal/ident"
	"github.com/pdiddy/bibgraph/internal/index"
	"github.com/pdiddy/bibgraph/internal/store"
	"github.com/pdiddy/bibgraph/pkg/types"
)

// --- test helpers ---

func testPipeline(t *testing.T) (*Pipeline, *store.Store) {
	t.Helper()
	st, err := store.Open(types.StoreConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, index.New(0), "test-source"), st
}

func samplePaper() *types.Paper {
	return &types.Paper{
		Title:         "Efficient Attention Mechanisms for Transformers",
		Abstract:      "We reduce attention cost from quadratic to log-linear.",
		CitationCount: 42,
		Quality:       3,
		Version:       1,
		Authors: []types.PaperAuthor{
			{
				Author:   &types.Author{Name: "Ada Lovelace", Quality: 2},
				Position: 0,
				Affiliations: []*types.Institution{
					{Name: "Analytical Engine Institute", Category: "lab"},
				},
			},
			{Author: &types.Author{Name: "Alan Turing", Quality: 2}, Position: 1},
		},
		Releases: []types.Release{
			{
				Venue:  &types.Venue{Type: "conference", Name: "NeurIPS", Date: "2025-12-08", DatePrecision: "day"},
				Status: "published",
				Pages:  "117-128",
			},
		},
		Topics: []types.Topic{{Name: "attention"}, {Name: "efficiency"}},
		Links:  []types.Link{{Type: "doi", Value: "10.1/attn"}, {Type: "arxiv", Value: "2301.07041"}},
	}
}

func countRows(t *testing.T, st *store.Store, table string) int {
	t.Helper()
	rows, err := st.Select(context.Background(), table, nil)
	if err != nil {
		t.Fatal(err)
	}
	return len(rows)
}

// --- tests ---

func TestAcquireIdempotence(t *testing.T) {
	p, st := testPipeline(t)
	ctx := context.Background()

	first, err := p.Acquire(ctx, samplePaper(), io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Acquire(ctx, samplePaper(), io.Discard)
	if err != nil {
		t.Fatal(err)
	}

	if first != second {
		t.Errorf("re-acquisition returned %s, want %s", second, first)
	}
	if got := countRows(t, st, "papers"); got != 1 {
		t.Errorf("papers rows = %d, want 1", got)
	}
	if got := countRows(t, st, "paper_authors"); got != 2 {
		t.Errorf("paper_authors rows = %d, want 2", got)
	}
	if got := countRows(t, st, "paper_links"); got != 2 {
		t.Errorf("paper_links rows = %d, want 2", got)
	}
}

func TestAcquireWritesRelations(t *testing.T) {
	p, st := testPipeline(t)
	ctx := context.Background()

	id, err := p.Acquire(ctx, samplePaper(), io.Discard)
	if err != nil {
		t.Fatal(err)
	}

	for table, want := range map[string]int{
		"authors":            2,
		"institutions":       1,
		"venues":             1,
		"topics":             2,
		"releases":           1,
		"paper_affiliations": 1,
		"paper_topics":       2,
	} {
		if got := countRows(t, st, table); got != want {
			t.Errorf("%s rows = %d, want %d", table, got, want)
		}
	}

	// Provenance stamped on first registration.
	source, _, ok, err := store.Provenance(ctx, st, id)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || source != "test-source" {
		t.Errorf("provenance = (%q, %v), want (test-source, true)", source, ok)
	}
}

func TestSharedVenueIsReusedNotDuplicated(t *testing.T) {
	p, st := testPipeline(t)
	ctx := context.Background()

	other := samplePaper()
	other.Title = "A Second Paper at the Same Venue"
	other.Links = []types.Link{{Type: "doi", Value: "10.1/second"}}

	if _, err := p.Acquire(ctx, samplePaper(), io.Discard); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Acquire(ctx, other, io.Discard); err != nil {
		t.Fatal(err)
	}

	if got := countRows(t, st, "venues"); got != 1 {
		t.Errorf("venues rows = %d, want 1 (relations form a DAG, not a tree)", got)
	}
	if got := countRows(t, st, "releases"); got != 2 {
		t.Errorf("releases rows = %d, want 2", got)
	}
}

func TestLinkUniqueness(t *testing.T) {
	p, st := testPipeline(t)
	ctx := context.Background()

	if _, err := p.Acquire(ctx, samplePaper(), io.Discard); err != nil {
		t.Fatal(err)
	}

	// A new paper arriving with an already-attached link matches the
	// existing entity; no duplicate link row appears either way.
	variant := samplePaper()
	variant.Abstract = "A revised abstract from a different scraper."
	if _, err := p.Acquire(ctx, variant, io.Discard); err != nil {
		t.Fatal(err)
	}

	rows, err := st.Select(ctx, "paper_links", store.Row{"type": "doi", "value": "10.1/attn"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("duplicate link rows: %d", len(rows))
	}
}

func TestFinderMatchUpdatesInsteadOfInserting(t *testing.T) {
	p, st := testPipeline(t)
	ctx := context.Background()

	first, err := p.Acquire(ctx, samplePaper(), io.Discard)
	if err != nil {
		t.Fatal(err)
	}

	// Same DOI, different abstract: a different content hash that the
	// equivalence index maps back onto the existing paper.
	variant := samplePaper()
	variant.Abstract = "Expanded camera-ready abstract."
	second, err := p.Acquire(ctx, variant, io.Discard)
	if err != nil {
		t.Fatal(err)
	}

	if second != first {
		t.Errorf("variant acquired as %s, want existing %s", second, first)
	}
	if got := countRows(t, st, "papers"); got != 1 {
		t.Errorf("papers rows = %d, want 1", got)
	}

	// The variant's hashid now resolves to the existing entity.
	variantID := ident.Paper(variant.Title, variant.Abstract)
	resolved, ok, err := store.Resolve(ctx, st, variantID)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || resolved != first {
		t.Errorf("resolve(variant) = (%s, %v), want (%s, true)", resolved, ok, first)
	}
}

func TestFinderMatchStampsVariantProvenance(t *testing.T) {
	p, st := testPipeline(t)
	ctx := context.Background()

	first, err := p.Acquire(ctx, samplePaper(), io.Discard)
	if err != nil {
		t.Fatal(err)
	}

	// The variant's hashid is registered for the first time when the
	// equivalence index maps it onto the existing paper; that first
	// registration carries its own provenance stamp.
	variant := samplePaper()
	variant.Abstract = "Expanded camera-ready abstract."
	if _, err := p.ImportAll(ctx, "scraper-acm", []types.Record{variant}, io.Discard); err != nil {
		t.Fatal(err)
	}

	variantID := ident.Paper(variant.Title, variant.Abstract)
	source, _, ok, err := store.Provenance(ctx, st, variantID)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || source != "scraper-acm" {
		t.Errorf("variant provenance = (%q, %v), want (scraper-acm, true)", source, ok)
	}

	// The original's stamp is untouched.
	source, _, ok, err = store.Provenance(ctx, st, first)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || source != "test-source" {
		t.Errorf("original provenance = (%q, %v), want (test-source, true)", source, ok)
	}
}

func TestTitleCollisionBelowThresholdStaysSeparate(t *testing.T) {
	p, st := testPipeline(t)
	ctx := context.Background()

	a := &types.Paper{
		Title:    "A Survey",
		Abstract: "First survey.",
		Authors: []types.PaperAuthor{
			{Author: &types.Author{Name: "Ada Lovelace"}, Position: 0},
			{Author: &types.Author{Name: "Alan Turing"}, Position: 1},
			{Author: &types.Author{Name: "Grace Hopper"}, Position: 2},
			{Author: &types.Author{Name: "Edsger Dijkstra"}, Position: 3},
			{Author: &types.Author{Name: "Donald Knuth"}, Position: 4},
		},
	}
	b := &types.Paper{
		Title:    "A Survey",
		Abstract: "An unrelated survey that happens to share the title.",
		Authors: []types.PaperAuthor{
			{Author: &types.Author{Name: "Ada Lovelace"}, Position: 0},
			{Author: &types.Author{Name: "Barbara Liskov"}, Position: 1},
			{Author: &types.Author{Name: "Tony Hoare"}, Position: 2},
			{Author: &types.Author{Name: "John Backus"}, Position: 3},
			{Author: &types.Author{Name: "Ken Thompson"}, Position: 4},
		},
	}

	idA, err := p.Acquire(ctx, a, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	idB, err := p.Acquire(ctx, b, io.Discard)
	if err != nil {
		t.Fatal(err)
	}

	if idA == idB {
		t.Error("author similarity below threshold must not be treated as equivalent")
	}
	if got := countRows(t, st, "papers"); got != 2 {
		t.Errorf("papers rows = %d, want 2", got)
	}
}

func TestExclusionRejectsIngestion(t *testing.T) {
	p, st := testPipeline(t)
	ctx := context.Background()

	if err := store.Exclude(ctx, st, types.Link{Type: "doi", Value: "10.1/attn"}); err != nil {
		t.Fatal(err)
	}

	_, err := p.Acquire(ctx, samplePaper(), io.Discard)
	if !errors.Is(err, ErrExcluded) {
		t.Fatalf("Acquire error = %v, want ErrExcluded", err)
	}
	if got := countRows(t, st, "papers"); got != 0 {
		t.Errorf("papers rows = %d, want 0", got)
	}

	// In a batch the exclusion is counted, not fatal.
	result, err := p.ImportAll(ctx, "", []types.Record{samplePaper()}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if result.Excluded != 1 {
		t.Errorf("Excluded = %d, want 1", result.Excluded)
	}
}

func TestExcludedRelationLinkRejectsWholeRecord(t *testing.T) {
	p, st := testPipeline(t)
	ctx := context.Background()

	if err := store.Exclude(ctx, st, types.Link{Type: "issn", Value: "1234-5678"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Exclude(ctx, st, types.Link{Type: "orcid", Value: "0000-0001-0002-0003"}); err != nil {
		t.Fatal(err)
	}

	// The excluded link sits on an owned relation, not the paper itself:
	// once on a release's venue, once on a byline author.
	viaVenue := samplePaper()
	viaVenue.Releases[0].Venue.Links = []types.Link{{Type: "issn", Value: "1234-5678"}}

	viaAuthor := samplePaper()
	viaAuthor.Title = "A Different Paper"
	viaAuthor.Links = []types.Link{{Type: "doi", Value: "10.1/other"}}
	viaAuthor.Authors[0].Author.Links = []types.Link{{Type: "orcid", Value: "0000-0001-0002-0003"}}

	result, err := p.ImportAll(ctx, "", []types.Record{viaVenue, viaAuthor}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if result.Excluded != 2 {
		t.Errorf("Excluded = %d, want 2", result.Excluded)
	}

	// A rejected record must leave nothing behind, not even the rows
	// written before its offending relation would have been reached.
	for _, table := range []string{"papers", "authors", "paper_authors", "venues", "releases", "paper_links"} {
		if got := countRows(t, st, table); got != 0 {
			t.Errorf("%s rows = %d after rejection, want 0", table, got)
		}
	}
}

func TestVersionGuard(t *testing.T) {
	p, st := testPipeline(t)
	ctx := context.Background()

	fresh := samplePaper()
	fresh.Version = 5
	id, err := p.Acquire(ctx, fresh, io.Discard)
	if err != nil {
		t.Fatal(err)
	}

	// A stale re-fetch (older version, matched by DOI) must not clobber
	// newer scalar values.
	stale := samplePaper()
	stale.Abstract = "Stale abstract from an old crawl."
	stale.CitationCount = 1
	stale.Version = 2
	if _, err := p.Acquire(ctx, stale, io.Discard); err != nil {
		t.Fatal(err)
	}

	rows, err := st.Select(ctx, "papers", store.Row{"id": id.Hex()})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("papers rows = %d, want 1", len(rows))
	}
	if got := rows[0].Int("citation_count"); got != 42 {
		t.Errorf("citation_count = %d, want 42 (stale write applied)", got)
	}
	if got := rows[0].Int("version"); got != 5 {
		t.Errorf("version = %d, want 5", got)
	}
}

func TestAuthorAdoptedThroughSharedLink(t *testing.T) {
	p, st := testPipeline(t)
	ctx := context.Background()

	orcid := types.Link{Type: "orcid", Value: "0000-0002-1825-0097"}
	first := &types.Author{Name: "A. M. Turing", Links: []types.Link{orcid}}
	second := &types.Author{Name: "Alan Turing", Links: []types.Link{orcid}}

	idFirst, err := p.Acquire(ctx, first, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	idSecond, err := p.Acquire(ctx, second, io.Discard)
	if err != nil {
		t.Fatal(err)
	}

	if idFirst != idSecond {
		t.Errorf("shared orcid acquired as %s and %s, want one identity", idFirst, idSecond)
	}
	if got := countRows(t, st, "authors"); got != 1 {
		t.Errorf("authors rows = %d, want 1", got)
	}

	// Both spellings are in the alias set.
	aliases, err := st.Select(ctx, "author_aliases", store.Row{"author_id": idFirst.Hex()})
	if err != nil {
		t.Fatal(err)
	}
	found := map[string]bool{}
	for _, row := range aliases {
		found[row.Str("alias")] = true
	}
	for _, want := range []string{"A. M. Turing", "Alan Turing"} {
		if !found[want] {
			t.Errorf("alias %q missing from %v", want, found)
		}
	}
}

func TestBylineMustBeGapFree(t *testing.T) {
	p, _ := testPipeline(t)
	ctx := context.Background()

	bad := &types.Paper{
		Title: "Bad Byline",
		Authors: []types.PaperAuthor{
			{Author: &types.Author{Name: "Solo Author"}, Position: 2},
		},
	}
	if _, err := p.Acquire(ctx, bad, io.Discard); err == nil {
		t.Fatal("gapped byline accepted")
	}
}

func TestImportAllIsAtomic(t *testing.T) {
	p, st := testPipeline(t)
	ctx := context.Background()

	bad := &types.Paper{
		Title: "Bad Byline",
		Authors: []types.PaperAuthor{
			{Author: &types.Author{Name: "Solo Author"}, Position: 7},
		},
	}
	_, err := p.ImportAll(ctx, "", []types.Record{samplePaper(), bad}, io.Discard)
	if err == nil {
		t.Fatal("batch with a malformed record committed")
	}

	// The sibling record must not have survived the rollback.
	if got := countRows(t, st, "papers"); got != 0 {
		t.Errorf("papers rows = %d, want 0 after rollback", got)
	}
	if got := countRows(t, st, "canonical_map"); got != 0 {
		t.Errorf("canonical_map rows = %d, want 0 after rollback", got)
	}
}

func TestOwnedKindsAreRejected(t *testing.T) {
	p, _ := testPipeline(t)
	ctx := context.Background()

	_, err := p.Acquire(ctx, &types.Release{Venue: &types.Venue{Type: "journal", Name: "Nature"}}, io.Discard)
	if !errors.Is(err, ErrOwnedKind) {
		t.Errorf("release error = %v, want ErrOwnedKind", err)
	}
	_, err = p.Acquire(ctx, &types.Link{Type: "doi", Value: "10.1/x"}, io.Discard)
	if !errors.Is(err, ErrOwnedKind) {
		t.Errorf("link error = %v, want ErrOwnedKind", err)
	}
}
