// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package merge

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/pdiddy/bibgraph/internal/ident"
	"github.com/pdiddy/bibgraph/internal/index"
	"github.com/pdiddy/bibgraph/internal/ingest"
	"github.com/pdiddy/bibgraph/internal/store"
	"github.com/pdiddy/bibgraph/pkg/types"
)

// --- test helpers ---

func testEngine(t *testing.T) (*Engine, *ingest.Pipeline, *store.Store) {
	t.Helper()
	st, err := store.Open(types.StoreConfig{DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, 0), ingest.New(st, index.New(0), "test-source"), st
}

func acquire(t *testing.T, p *ingest.Pipeline, rec types.Record) ident.ID {
	t.Helper()
	id, err := p.Acquire(context.Background(), rec, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func paperRow(t *testing.T, st *store.Store, id ident.ID) store.Row {
	t.Helper()
	rows, err := st.Select(context.Background(), "papers", store.Row{"id": id.Hex()})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("papers rows for %s = %d, want 1", id, len(rows))
	}
	return rows[0]
}

// --- tests ---

func TestMergeFabricatesCanonicalAndIsIdempotent(t *testing.T) {
	e, p, st := testEngine(t)
	ctx := context.Background()

	a := acquire(t, p, &types.Paper{Title: "Variant A", Abstract: "first", Quality: 5})
	b := acquire(t, p, &types.Paper{Title: "Variant B", Abstract: "second", Quality: 2})

	canonical, err := e.Merge(ctx, types.KindPaper, []ident.ID{a, b}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if !canonical.IsCanonical() {
		t.Error("fabricated id does not carry the canonical tag")
	}
	if want := ident.Canonical(ident.Min([]ident.ID{a, b})); canonical != want {
		t.Errorf("canonical = %s, want %s (derived from smallest candidate)", canonical, want)
	}

	firstRow := paperRow(t, st, canonical)

	again, err := e.Merge(ctx, types.KindPaper, []ident.ID{a, b}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if again != canonical {
		t.Errorf("repeat merge = %s, want %s", again, canonical)
	}
	secondRow := paperRow(t, st, canonical)
	for _, col := range []string{"title", "abstract", "quality", "version"} {
		if firstRow.Str(col) != secondRow.Str(col) {
			t.Errorf("column %s changed on repeat merge: %v -> %v", col, firstRow[col], secondRow[col])
		}
	}

	// Exactly one live row.
	rows, err := st.Select(ctx, "papers", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Errorf("papers rows = %d, want 1", len(rows))
	}
}

func TestQualityRankedCoalesce(t *testing.T) {
	e, p, st := testEngine(t)
	ctx := context.Background()

	// A: quality 5, has title X, lacks abstract. B: quality 2, title Y,
	// abstract Z. The merge takes X (best provider) and Z (gap filler).
	a := acquire(t, p, &types.Paper{Title: "X", Quality: 5})
	b := acquire(t, p, &types.Paper{Title: "Y", Abstract: "Z", Quality: 2})

	canonical, err := e.Merge(ctx, types.KindPaper, []ident.ID{a, b}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}

	row := paperRow(t, st, canonical)
	if got := row.Str("title"); got != "X" {
		t.Errorf("title = %q, want X (higher quality wins)", got)
	}
	if got := row.Str("abstract"); got != "Z" {
		t.Errorf("abstract = %q, want Z (lower quality fills the gap)", got)
	}
	if got := row.Float("quality"); got != 5 {
		t.Errorf("quality = %v, want 5", got)
	}
}

func TestRedirectCompleteness(t *testing.T) {
	e, p, st := testEngine(t)
	ctx := context.Background()

	a := acquire(t, p, &types.Paper{
		Title:    "Preprint Version",
		Abstract: "v1",
		Quality:  1,
		Links:    []types.Link{{Type: "arxiv", Value: "2301.07041"}},
	})
	b := acquire(t, p, &types.Paper{
		Title:    "Camera Ready Version",
		Abstract: "v2",
		Quality:  4,
		Authors: []types.PaperAuthor{
			{Author: &types.Author{Name: "Ada Lovelace"}, Position: 0},
			{Author: &types.Author{Name: "Alan Turing"}, Position: 1},
			{Author: &types.Author{Name: "Grace Hopper"}, Position: 2},
		},
		Links: []types.Link{{Type: "doi", Value: "10.1/final"}},
		Releases: []types.Release{
			{Venue: &types.Venue{Type: "conference", Name: "SOSP"}, Status: "published"},
		},
		Topics: []types.Topic{{Name: "systems"}},
	})

	canonical, err := e.Merge(ctx, types.KindPaper, []ident.ID{a, b}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}

	// Every dependent row now references the canonical id; nothing
	// references the losers.
	for _, target := range store.RedirectTargets(types.KindPaper) {
		for _, loser := range []ident.ID{a, b} {
			rows, err := st.Select(ctx, target.Table, store.Row{target.Column: loser.Hex()})
			if err != nil {
				t.Fatal(err)
			}
			if len(rows) != 0 {
				t.Errorf("%s still has %d rows for %s", target.Table, len(rows), loser)
			}
		}
	}

	byline, err := st.Select(ctx, "paper_authors", store.Row{"paper_id": canonical.Hex()})
	if err != nil {
		t.Fatal(err)
	}
	if len(byline) != 3 {
		t.Errorf("byline rows = %d, want 3", len(byline))
	}
	links, err := st.Select(ctx, "paper_links", store.Row{"paper_id": canonical.Hex()})
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 2 {
		t.Errorf("link rows = %d, want 2 (union of both versions)", len(links))
	}

	// The losers' own rows are gone.
	for _, loser := range []ident.ID{a, b} {
		rows, err := st.Select(ctx, "papers", store.Row{"id": loser.Hex()})
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) != 0 {
			t.Errorf("loser row %s survived the merge", loser)
		}
	}

	// Querying by the canonical id returns the fused record.
	results, err := st.SearchPapers(ctx, store.QueryOptions{ID: a.Hex()})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("lookup by superseded id returned %d papers, want 1", len(results))
	}
	if results[0].Title != "Camera Ready Version" {
		t.Errorf("title = %q, want the higher-quality version's", results[0].Title)
	}
	if len(results[0].Authors) != 3 || len(results[0].Venues) != 1 {
		t.Errorf("fused record incomplete: %+v", results[0])
	}
}

func TestMergeIntoExistingCanonicalExtendsGroup(t *testing.T) {
	e, p, _ := testEngine(t)
	ctx := context.Background()

	a := acquire(t, p, &types.Paper{Title: "A", Abstract: "a", Quality: 1})
	b := acquire(t, p, &types.Paper{Title: "B", Abstract: "b", Quality: 1})
	canonical, err := e.Merge(ctx, types.KindPaper, []ident.ID{a, b}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}

	// A later candidate joins the same group: the set {a, c} resolves
	// to {canonical, c}, one canonical member, no conflict.
	c := acquire(t, p, &types.Paper{Title: "C", Abstract: "c", Quality: 1})
	extended, err := e.Merge(ctx, types.KindPaper, []ident.ID{a, c}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if extended != canonical {
		t.Errorf("extension produced %s, want existing canonical %s", extended, canonical)
	}
}

func TestMergeAcrossDistinctGroupsIsAConflict(t *testing.T) {
	e, p, _ := testEngine(t)
	ctx := context.Background()

	a := acquire(t, p, &types.Paper{Title: "A", Abstract: "a"})
	b := acquire(t, p, &types.Paper{Title: "B", Abstract: "b"})
	c := acquire(t, p, &types.Paper{Title: "C", Abstract: "c"})
	d := acquire(t, p, &types.Paper{Title: "D", Abstract: "d"})

	if _, err := e.Merge(ctx, types.KindPaper, []ident.ID{a, b}, io.Discard); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Merge(ctx, types.KindPaper, []ident.ID{c, d}, io.Discard); err != nil {
		t.Fatal(err)
	}

	_, err := e.Merge(ctx, types.KindPaper, []ident.ID{a, c}, io.Discard)
	if !errors.Is(err, ErrCanonicalConflict) {
		t.Fatalf("cross-group merge error = %v, want ErrCanonicalConflict", err)
	}
}

func TestMergeAuthorsUnionsAliases(t *testing.T) {
	e, p, st := testEngine(t)
	ctx := context.Background()

	a := acquire(t, p, &types.Author{Name: "A. M. Turing", Quality: 1})
	b := acquire(t, p, &types.Author{Name: "Alan Turing", Quality: 3})

	canonical, err := e.Merge(ctx, types.KindAuthor, []ident.ID{a, b}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}

	rows, err := st.Select(ctx, "authors", store.Row{"id": canonical.Hex()})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("authors rows = %d, want 1", len(rows))
	}
	if got := rows[0].Str("name"); got != "Alan Turing" {
		t.Errorf("name = %q, want the higher-quality spelling", got)
	}

	aliases, err := st.Select(ctx, "author_aliases", store.Row{"author_id": canonical.Hex()})
	if err != nil {
		t.Fatal(err)
	}
	found := map[string]bool{}
	for _, row := range aliases {
		found[row.Str("alias")] = true
	}
	for _, want := range []string{"A. M. Turing", "Alan Turing"} {
		if !found[want] {
			t.Errorf("alias %q missing after merge", want)
		}
	}
}

func TestMergeRejectsOwnedKinds(t *testing.T) {
	e, _, _ := testEngine(t)
	ctx := context.Background()

	if _, err := e.Merge(ctx, types.KindRelease, []ident.ID{1, 2}, io.Discard); err == nil {
		t.Error("release accepted as merge subject")
	}
	if _, err := e.Merge(ctx, types.KindLink, []ident.ID{1, 2}, io.Discard); err == nil {
		t.Error("link accepted as merge subject")
	}
}

func TestMergeUnknownID(t *testing.T) {
	e, p, _ := testEngine(t)
	ctx := context.Background()

	a := acquire(t, p, &types.Paper{Title: "Known", Abstract: "k"})
	_, err := e.Merge(ctx, types.KindPaper, []ident.ID{a, ident.ID(0x1234)}, io.Discard)
	if !errors.Is(err, ErrUnknownID) {
		t.Fatalf("error = %v, want ErrUnknownID", err)
	}
}
