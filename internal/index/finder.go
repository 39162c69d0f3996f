// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package index implements the equivalence index: an in-memory lookup
// structure matching a candidate record to an already-known entity by
// exact external link first, then by normalized title confirmed with
// author-set similarity. The index is a cache over committed state; it
// owns no entities and must be rebuilt after any merge.
// Implements: prd002-resolution (R1-R3); docs/ARCHITECTURE § Finder.
package index

import (
	"context"
	"fmt"
	"io"

	"github.com/pdiddy/bibgraph/internal/ident"
	"github.com/pdiddy/bibgraph/internal/store"
	"github.com/pdiddy/bibgraph/pkg/types"
)

// DefaultThreshold is the author-set similarity required to confirm a
// normalized-title match.
const DefaultThreshold = 0.8

// Entry is the projection of an entity the index matches against.
type Entry struct {
	ID      ident.ID
	Title   string
	Authors []string
	Links   []types.Link
}

// Match describes how a candidate was matched.
type Match struct {
	ID ident.ID

	// Via is "link" for an exact external-id hit or "title" for a
	// normalized-title hit confirmed by author similarity.
	Via string

	// Similarity is the author-set score for title matches; 1 for link matches.
	Similarity float64
}

// Finder indexes known entities by external link and normalized title.
type Finder struct {
	threshold float64
	byLink    map[types.Link]ident.ID
	byTitle   map[string][]ident.ID
	entries   map[ident.ID]Entry
}

// New returns an empty Finder. A threshold of zero or below selects
// DefaultThreshold.
func New(threshold float64) *Finder {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Finder{
		threshold: threshold,
		byLink:    make(map[types.Link]ident.ID),
		byTitle:   make(map[string][]ident.ID),
		entries:   make(map[ident.ID]Entry),
	}
}

// Add indexes entries. Re-adding an id replaces its previous entry.
func (f *Finder) Add(entries ...Entry) {
	for _, e := range entries {
		if _, ok := f.entries[e.ID]; ok {
			f.Remove(e.ID)
		}
		f.entries[e.ID] = e
		for _, l := range e.Links {
			f.byLink[l] = e.ID
		}
		key := NormalizeTitle(e.Title)
		if key != "" {
			f.byTitle[key] = append(f.byTitle[key], e.ID)
		}
	}
}

// Remove drops an entry and its index keys.
func (f *Finder) Remove(id ident.ID) {
	e, ok := f.entries[id]
	if !ok {
		return
	}
	delete(f.entries, id)
	for _, l := range e.Links {
		if f.byLink[l] == id {
			delete(f.byLink, l)
		}
	}
	key := NormalizeTitle(e.Title)
	ids := f.byTitle[key]
	for i, other := range ids {
		if other == id {
			f.byTitle[key] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(f.byTitle[key]) == 0 {
		delete(f.byTitle, key)
	}
}

// Replace atomically swaps an entry, keeping the by-link and by-title
// maps consistent under edits.
func (f *Finder) Replace(e Entry) {
	f.Remove(e.ID)
	f.Add(e)
}

// Len returns the number of indexed entries.
func (f *Finder) Len() int { return len(f.entries) }

// Find returns the best match for the candidate, or ok=false. Exact
// link matches win; otherwise a normalized-title hit is accepted only
// when the author-set similarity meets the threshold. A rejected title
// hit is a likely collision, logged as a warning to w.
func (f *Finder) Find(c Entry, w io.Writer) (Match, bool) {
	for _, l := range c.Links {
		if id, ok := f.byLink[l]; ok {
			return Match{ID: id, Via: "link", Similarity: 1}, true
		}
	}

	key := NormalizeTitle(c.Title)
	if key == "" {
		return Match{}, false
	}
	for _, id := range f.byTitle[key] {
		e := f.entries[id]
		score := similarity(c.Authors, e.Authors)
		if score >= f.threshold {
			return Match{ID: id, Via: "title", Similarity: score}, true
		}
		fmt.Fprintf(w, "warning: title collision for %q: author similarity %.2f below %.2f, not merging with %s\n",
			c.Title, score, f.threshold, id)
	}
	return Match{}, false
}

// Load builds a Finder over the committed paper rows of the store.
// Callers rebuild after every merge, since merges change which id is
// authoritative.
func Load(ctx context.Context, a store.Adapter, threshold float64) (*Finder, error) {
	f := New(threshold)

	papers, err := a.Select(ctx, "papers", nil)
	if err != nil {
		return nil, fmt.Errorf("loading papers: %w", err)
	}

	for _, row := range papers {
		id, err := ident.ParseHex(row.Str("id"))
		if err != nil {
			return nil, fmt.Errorf("paper row: %w", err)
		}
		e := Entry{ID: id, Title: row.Str("title")}

		links, err := a.Select(ctx, "paper_links", store.Row{"paper_id": id.Hex()})
		if err != nil {
			return nil, fmt.Errorf("loading links for %s: %w", id, err)
		}
		for _, l := range links {
			e.Links = append(e.Links, types.Link{Type: l.Str("type"), Value: l.Str("value")})
		}

		byline, err := a.Select(ctx, "paper_authors", store.Row{"paper_id": id.Hex()})
		if err != nil {
			return nil, fmt.Errorf("loading byline for %s: %w", id, err)
		}
		for _, slot := range byline {
			authors, err := a.Select(ctx, "authors", store.Row{"id": slot.Str("author_id")})
			if err != nil {
				return nil, fmt.Errorf("loading author %s: %w", slot.Str("author_id"), err)
			}
			if len(authors) > 0 {
				e.Authors = append(e.Authors, authors[0].Str("name"))
			}
		}

		f.Add(e)
	}
	return f, nil
}
