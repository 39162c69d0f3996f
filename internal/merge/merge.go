// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package merge implements canonicalization: fusing a set of entity ids
// believed to denote one real-world entity into a single canonical row.
// A merge chooses or fabricates the canonical id, redirects every
// dependent table named by the static schema contract, reconciles
// scalar fields by quality-ranked coalesce, repoints the canonical map,
// and deletes the superseded rows, all in one transaction.
// Implements: prd004-merge (R1-R5); docs/ARCHITECTURE § Canonicalize.
package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/pdiddy/bibgraph/internal/ident"
	"github.com/pdiddy/bibgraph/internal/store"
	"github.com/pdiddy/bibgraph/pkg/types"
)

// ErrCanonicalConflict marks a merge request spanning two groups that
// earlier merges made distinct. The engine never silently unifies such
// groups; the caller must decide and request the union explicitly by
// naming the canonical ids themselves.
var ErrCanonicalConflict = errors.New("candidate set spans distinct canonical groups")

// ErrUnknownID marks a candidate id that was never registered.
var ErrUnknownID = errors.New("unknown entity id")

// DefaultMaxContributors caps the quality-ranked row list consulted by
// field reconciliation.
const DefaultMaxContributors = 10

// Engine performs canonical merges against a store.
type Engine struct {
	store           *store.Store
	maxContributors int
}

// New returns an Engine over st. maxContributors of zero or below
// selects DefaultMaxContributors.
func New(st *store.Store, maxContributors int) *Engine {
	if maxContributors <= 0 {
		maxContributors = DefaultMaxContributors
	}
	return &Engine{store: st, maxContributors: maxContributors}
}

// Merge fuses the entities named by ids into one canonical entity and
// returns its id. The operation is idempotent: repeating it over the
// same set yields the same canonical id and the same row contents.
// Kind must be a merge subject (paper, author, institution, venue,
// topic); releases and links are owned relations and follow their
// owners. Callers should rebuild any equivalence index afterwards.
func (e *Engine) Merge(ctx context.Context, kind types.Kind, ids []ident.ID, w io.Writer) (ident.ID, error) {
	if !store.Mergeable(kind) {
		return 0, fmt.Errorf("kind %s is not a merge subject", kind)
	}
	if len(ids) == 0 {
		return 0, errors.New("empty candidate set")
	}

	var canonical ident.ID
	err := e.store.Transact(ctx, func(a store.Adapter) error {
		var err error
		canonical, err = e.merge(ctx, a, kind, ids, w)
		return err
	})
	return canonical, err
}

func (e *Engine) merge(ctx context.Context, a store.Adapter, kind types.Kind, ids []ident.ID, w io.Writer) (ident.ID, error) {
	spec, _ := store.TableFor(kind)

	resolved, err := resolveSet(ctx, a, ids)
	if err != nil {
		return 0, err
	}
	if len(resolved) == 1 {
		// Every candidate already resolves to the same entity.
		return resolved[0], nil
	}

	target, err := chooseCanonical(resolved)
	if err != nil {
		return 0, err
	}

	// Fabricated canonical ids need a root row; seed it from the
	// smallest candidate's current row.
	if !contains(resolved, target) {
		seed := ident.Min(resolved)
		rows, err := a.Select(ctx, spec.Name, store.Row{spec.Key: seed.Hex()})
		if err != nil {
			return 0, err
		}
		if len(rows) == 0 {
			return 0, fmt.Errorf("%s %s: %w", kind, seed, ErrUnknownID)
		}
		root := rows[0]
		root[spec.Key] = target.Hex()
		if err := a.Upsert(ctx, spec.Name, []string{spec.Key}, root); err != nil {
			return 0, err
		}
	}

	var losers []ident.ID
	for _, id := range resolved {
		if id != target {
			losers = append(losers, id)
		}
	}

	loserHexes := make([]string, len(losers))
	for i, id := range losers {
		loserHexes[i] = id.Hex()
	}

	// Collect contributors before the losers' rows go away.
	contributors, err := e.rankContributors(ctx, a, spec, resolved)
	if err != nil {
		return 0, err
	}

	// Redirect every dependent table in the kind's schema contract.
	for _, targetRef := range store.RedirectTargets(kind) {
		if err := a.Redirect(ctx, targetRef, loserHexes, target.Hex()); err != nil {
			return 0, err
		}
	}

	if err := e.reconcile(ctx, a, kind, spec, target, contributors); err != nil {
		return 0, err
	}

	if err := store.RepointCanonical(ctx, a, losers, target); err != nil {
		return 0, err
	}

	for _, hex := range loserHexes {
		if err := a.Delete(ctx, spec.Name, store.Row{spec.Key: hex}); err != nil {
			return 0, err
		}
	}

	fmt.Fprintf(w, "merged %d %s ids into %s\n", len(resolved), kind, target)
	return target, nil
}

// resolveSet maps every candidate through the canonical map and
// deduplicates, failing on ids that were never registered.
func resolveSet(ctx context.Context, a store.Adapter, ids []ident.ID) ([]ident.ID, error) {
	seen := make(map[ident.ID]bool, len(ids))
	var resolved []ident.ID
	for _, id := range ids {
		canonical, ok, err := store.Resolve(ctx, a, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%s: %w", id, ErrUnknownID)
		}
		if !seen[canonical] {
			seen[canonical] = true
			resolved = append(resolved, canonical)
		}
	}
	sort.Slice(resolved, func(i, j int) bool { return resolved[i] < resolved[j] })
	return resolved, nil
}

// chooseCanonical picks the already-canonical id when the set has
// exactly one; two distinct canonical groups are a conflict. With no
// canonical member, a new canonical id is fabricated from the smallest
// candidate so repeated requests over the same set agree.
func chooseCanonical(resolved []ident.ID) (ident.ID, error) {
	var canonicals []ident.ID
	for _, id := range resolved {
		if id.IsCanonical() {
			canonicals = append(canonicals, id)
		}
	}
	switch len(canonicals) {
	case 0:
		return ident.Canonical(ident.Min(resolved)), nil
	case 1:
		return canonicals[0], nil
	default:
		return 0, fmt.Errorf("%s and %s: %w", canonicals[0], canonicals[1], ErrCanonicalConflict)
	}
}

type contributor struct {
	id  ident.ID
	row store.Row
}

// rankContributors loads the candidate rows and ranks them by quality
// descending, ties broken by id order, capped to maxContributors.
func (e *Engine) rankContributors(ctx context.Context, a store.Adapter, spec store.TableSpec, resolved []ident.ID) ([]contributor, error) {
	var contributors []contributor
	for _, id := range resolved {
		rows, err := a.Select(ctx, spec.Name, store.Row{spec.Key: id.Hex()})
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			continue
		}
		contributors = append(contributors, contributor{id: id, row: rows[0]})
	}

	sort.Slice(contributors, func(i, j int) bool {
		qi, qj := contributors[i].row.Float("quality"), contributors[j].row.Float("quality")
		if qi != qj {
			return qi > qj
		}
		return contributors[i].id < contributors[j].id
	})

	if len(contributors) > e.maxContributors {
		contributors = contributors[:e.maxContributors]
	}
	return contributors, nil
}

// reconcile coalesces each scalar field across the ranked contributors
// and writes the result into the canonical row. A low-quality record
// still fills fields the best record lacks; when several provide a
// field, the best record's value wins. The version stamp takes the
// maximum so no contributor's later writes are considered stale.
func (e *Engine) reconcile(ctx context.Context, a store.Adapter, kind types.Kind, spec store.TableSpec, target ident.ID, contributors []contributor) error {
	row := store.Row{spec.Key: target.Hex()}
	for _, col := range spec.Scalars {
		row[col] = nil
		for _, c := range contributors {
			if !c.row.IsNull(col) {
				row[col] = c.row[col]
				break
			}
		}
	}

	if kind != types.KindTopic {
		var version int64
		for _, c := range contributors {
			if v := c.row.Int("version"); v > version {
				version = v
			}
		}
		row["version"] = version
	}

	if err := a.Upsert(ctx, spec.Name, []string{spec.Key}, row); err != nil {
		return err
	}

	// The reconciled display name joins the alias set.
	if ref, ok := store.AliasTableFor(kind); ok {
		if name, hasName := row["name"]; hasName && name != nil {
			err := a.InsertIgnore(ctx, ref.Table, store.Row{ref.Key: target.Hex(), ref.Column: name})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func contains(ids []ident.ID, id ident.ID) bool {
	for _, other := range ids {
		if other == id {
			return true
		}
	}
	return false
}
