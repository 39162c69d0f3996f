// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pdiddy/bibgraph/internal/ident"
)

// QueryOptions holds parameters for the lookup surface. This is thin
// glue over the entity tables; after a merge exactly one row per
// canonical entity is visible here.
type QueryOptions struct {
	// ID looks up a single paper by id, resolving through the
	// canonical map first.
	ID string

	// Title filters by case-insensitive title substring.
	Title string

	// Author filters by case-insensitive author-name substring.
	Author string

	// Venue filters by case-insensitive venue-name substring.
	Venue string

	// After and Before bound the venue date (ISO, inclusive/exclusive).
	After  string
	Before string

	// MaxResults limits result count. Zero uses the default (20).
	MaxResults int
}

const defaultMaxResults = 20

// PaperSummary is one lookup result row.
type PaperSummary struct {
	ID            string   `json:"id" yaml:"id"`
	Title         string   `json:"title" yaml:"title"`
	Abstract      string   `json:"abstract,omitempty" yaml:"abstract,omitempty"`
	Authors       []string `json:"authors,omitempty" yaml:"authors,omitempty"`
	Venues        []string `json:"venues,omitempty" yaml:"venues,omitempty"`
	Topics        []string `json:"topics,omitempty" yaml:"topics,omitempty"`
	CitationCount int64    `json:"citation_count" yaml:"citation_count"`
	Quality       float64  `json:"quality" yaml:"quality"`
}

// SearchPapers queries canonical paper rows with the given filters,
// sorted by quality descending then id for determinism.
func (s *Store) SearchPapers(ctx context.Context, opts QueryOptions) ([]PaperSummary, error) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	var (
		qb   strings.Builder
		args []any
	)
	qb.WriteString(`SELECT p.id, p.title, p.abstract, p.citation_count, p.quality
		FROM papers p WHERE 1=1`)

	if opts.ID != "" {
		id, err := ident.ParseHex(opts.ID)
		if err != nil {
			return nil, err
		}
		if canonical, ok, err := Resolve(ctx, &s.session, id); err != nil {
			return nil, err
		} else if ok {
			id = canonical
		}
		qb.WriteString(` AND p.id = ?`)
		args = append(args, id.Hex())
	}

	if opts.Title != "" {
		qb.WriteString(` AND p.title LIKE ? COLLATE NOCASE`)
		args = append(args, "%"+opts.Title+"%")
	}

	if opts.Author != "" {
		qb.WriteString(` AND EXISTS (
			SELECT 1 FROM paper_authors pa JOIN authors a ON a.id = pa.author_id
			WHERE pa.paper_id = p.id AND a.name LIKE ? COLLATE NOCASE)`)
		args = append(args, "%"+opts.Author+"%")
	}

	if opts.Venue != "" {
		qb.WriteString(` AND EXISTS (
			SELECT 1 FROM releases r JOIN venues v ON v.id = r.venue_id
			WHERE r.paper_id = p.id AND v.name LIKE ? COLLATE NOCASE)`)
		args = append(args, "%"+opts.Venue+"%")
	}

	if opts.After != "" {
		qb.WriteString(` AND EXISTS (
			SELECT 1 FROM releases r JOIN venues v ON v.id = r.venue_id
			WHERE r.paper_id = p.id AND v.date >= ?)`)
		args = append(args, opts.After)
	}

	if opts.Before != "" {
		qb.WriteString(` AND EXISTS (
			SELECT 1 FROM releases r JOIN venues v ON v.id = r.venue_id
			WHERE r.paper_id = p.id AND v.date < ?)`)
		args = append(args, opts.Before)
	}

	qb.WriteString(` ORDER BY p.quality DESC, p.id LIMIT ?`)
	args = append(args, maxResults)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying papers: %w", err)
	}
	defer rows.Close()

	var results []PaperSummary
	for rows.Next() {
		var (
			ps        PaperSummary
			abstract  sql.NullString
			citations sql.NullInt64
			quality   sql.NullFloat64
		)
		if err := rows.Scan(&ps.ID, &ps.Title, &abstract, &citations, &quality); err != nil {
			return nil, fmt.Errorf("scanning paper row: %w", err)
		}
		ps.Abstract = abstract.String
		ps.CitationCount = citations.Int64
		ps.Quality = quality.Float64
		results = append(results, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range results {
		if err := s.fillRelations(ctx, &results[i]); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (s *Store) fillRelations(ctx context.Context, ps *PaperSummary) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.name FROM paper_authors pa JOIN authors a ON a.id = pa.author_id
		 WHERE pa.paper_id = ? ORDER BY pa.position`, ps.ID)
	if err != nil {
		return fmt.Errorf("querying byline: %w", err)
	}
	ps.Authors, err = scanStrings(rows)
	if err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT v.name FROM releases r JOIN venues v ON v.id = r.venue_id
		 WHERE r.paper_id = ? ORDER BY v.name`, ps.ID)
	if err != nil {
		return fmt.Errorf("querying releases: %w", err)
	}
	ps.Venues, err = scanStrings(rows)
	if err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT t.name FROM paper_topics pt JOIN topics t ON t.id = pt.topic_id
		 WHERE pt.paper_id = ? ORDER BY t.name`, ps.ID)
	if err != nil {
		return fmt.Errorf("querying topics: %w", err)
	}
	ps.Topics, err = scanStrings(rows)
	return err
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s sql.NullString
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, s.String)
	}
	return out, rows.Err()
}
