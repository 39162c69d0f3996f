// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pdiddy/bibgraph/internal/ident"
	"github.com/pdiddy/bibgraph/pkg/types"
)

// The canonical map resolves any id ever seen to its current canonical
// id. Merges repoint every row that referenced a losing id directly at
// the winner, so resolution always completes in exactly one hop.

// Resolve returns the canonical id for id. ok is false when the id has
// never been registered.
func Resolve(ctx context.Context, a Adapter, id ident.ID) (ident.ID, bool, error) {
	rows, err := a.Select(ctx, "canonical_map", Row{"id": id.Hex()})
	if err != nil {
		return 0, false, err
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	canonical, err := ident.ParseHex(rows[0].Str("canonical"))
	if err != nil {
		return 0, false, fmt.Errorf("canonical map entry for %s: %w", id, err)
	}
	return canonical, true, nil
}

// SetCanonical registers or repoints a single map entry.
func SetCanonical(ctx context.Context, a Adapter, id, canonical ident.ID) error {
	return a.Upsert(ctx, "canonical_map", []string{"id"},
		Row{"id": id.Hex(), "canonical": canonical.Hex()})
}

// RepointCanonical rewrites every map entry resolving to one of the
// losing ids so that it resolves to canonical, keeps the losers
// resolvable, and ensures the canonical id maps to itself.
func RepointCanonical(ctx context.Context, a Adapter, losers []ident.ID, canonical ident.ID) error {
	hexes := make([]string, len(losers))
	for i, id := range losers {
		hexes[i] = id.Hex()
	}

	// Entries that already redirected through a loser follow it to the
	// new canonical id.
	if err := redirectCanonicalColumn(ctx, a, hexes, canonical.Hex()); err != nil {
		return err
	}

	for _, id := range losers {
		if err := SetCanonical(ctx, a, id, canonical); err != nil {
			return err
		}
	}
	return SetCanonical(ctx, a, canonical, canonical)
}

// redirectCanonicalColumn repoints canonical_map.canonical values. The
// map's primary key is the id column, so plain updates cannot collide;
// going through Select+Upsert keeps this within the Adapter capability
// set for backends without bulk update.
func redirectCanonicalColumn(ctx context.Context, a Adapter, from []string, to string) error {
	for _, f := range from {
		rows, err := a.Select(ctx, "canonical_map", Row{"canonical": f})
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := a.Upsert(ctx, "canonical_map", []string{"id"},
				Row{"id": row.Str("id"), "canonical": to}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Exclude adds a link to the permanent exclusion set. Re-excluding an
// already excluded link is a no-op.
func Exclude(ctx context.Context, a Adapter, link types.Link) error {
	return a.InsertIgnore(ctx, "exclusions",
		Row{"link_type": link.Type, "link_value": link.Value})
}

// IsExcluded reports whether the link is in the exclusion set.
func IsExcluded(ctx context.Context, a Adapter, link types.Link) (bool, error) {
	rows, err := a.Select(ctx, "exclusions",
		Row{"link_type": link.Type, "link_value": link.Value})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// Exclusions returns the full exclusion set, ordered for stable output.
func Exclusions(ctx context.Context, a Adapter) ([]types.Link, error) {
	rows, err := a.Select(ctx, "exclusions", nil)
	if err != nil {
		return nil, err
	}
	links := make([]types.Link, len(rows))
	for i, row := range rows {
		links[i] = types.Link{Type: row.Str("link_type"), Value: row.Str("link_value")}
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].Type != links[j].Type {
			return links[i].Type < links[j].Type
		}
		return links[i].Value < links[j].Value
	})
	return links, nil
}

// StampProvenance records (source, timestamp) for an id on first
// registration. Later stamps for the same id are ignored: the first
// sighting is the one that matters for audit and replay.
func StampProvenance(ctx context.Context, a Adapter, id ident.ID, source string, seen time.Time) error {
	return a.InsertIgnore(ctx, "provenance", Row{
		"id":         id.Hex(),
		"source":     source,
		"first_seen": seen.UTC().Format(time.RFC3339),
	})
}

// Provenance returns the recorded (source, first_seen) for an id.
func Provenance(ctx context.Context, a Adapter, id ident.ID) (source, firstSeen string, ok bool, err error) {
	rows, err := a.Select(ctx, "provenance", Row{"id": id.Hex()})
	if err != nil || len(rows) == 0 {
		return "", "", false, err
	}
	return rows[0].Str("source"), rows[0].Str("first_seen"), true, nil
}
