// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/bibgraph/pkg/types"
)

// History is the append-only, line-oriented log of ingested records.
// One file per committed batch, named so lexicographic order is time
// order; one JSON envelope per line. Replaying the files in name order
// rebuilds or migrates a store.
type History struct {
	dir string
}

// NewHistory returns a History writing under dir, creating it if needed.
func NewHistory(dir string) (*History, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	return &History{dir: dir}, nil
}

// envelope is one history line: a typed record with batch provenance.
type envelope struct {
	Batch  string          `json:"batch"`
	Source string          `json:"source"`
	Time   time.Time       `json:"time"`
	Kind   string          `json:"kind"`
	Record json.RawMessage `json:"record"`
}

// Append writes one batch as a new history file and returns its path.
// The caller appends only after the batch transaction has committed.
func (h *History) Append(source string, recs []types.Record, at time.Time) (string, error) {
	batch := uuid.NewString()
	name := fmt.Sprintf("history-%s-%s.jsonl",
		at.UTC().Format("20060102T150405.000000000Z"), batch[:8])
	path := filepath.Join(h.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating history file: %w", err)
	}

	bw := bufio.NewWriter(f)
	for _, rec := range recs {
		payload, err := json.Marshal(rec)
		if err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("serializing %s record: %w", rec.EntityKind(), err)
		}
		env := envelope{
			Batch:  batch,
			Source: source,
			Time:   at.UTC(),
			Kind:   rec.EntityKind().String(),
			Record: payload,
		}
		line, err := json.Marshal(env)
		if err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("serializing history line: %w", err)
		}
		bw.Write(line)
		bw.WriteByte('\n')
	}

	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing history file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("closing history file: %w", err)
	}
	return path, nil
}

// decodeRecord rebuilds the typed record from an envelope.
func decodeRecord(env envelope) (types.Record, error) {
	kind, ok := types.ParseKind(env.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown record kind %q", env.Kind)
	}

	var rec types.Record
	switch kind {
	case types.KindPaper:
		rec = &types.Paper{}
	case types.KindAuthor:
		rec = &types.Author{}
	case types.KindInstitution:
		rec = &types.Institution{}
	case types.KindVenue:
		rec = &types.Venue{}
	case types.KindTopic:
		rec = &types.Topic{}
	case types.KindRelease, types.KindLink:
		return nil, fmt.Errorf("history carries owned relation kind %q", env.Kind)
	default:
		return nil, fmt.Errorf("unknown record kind %q", env.Kind)
	}

	if err := json.Unmarshal(env.Record, rec); err != nil {
		return nil, fmt.Errorf("decoding %s record: %w", env.Kind, err)
	}
	return rec, nil
}

// Cursor lazily yields the records of one history file. It is finite
// and restartable: reopening the file replays it from the start.
type Cursor struct {
	f      *os.File
	sc     *bufio.Scanner
	line   int
	source string
}

// OpenCursor opens a history file for sequential reading.
func OpenCursor(path string) (*Cursor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening history file: %w", err)
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Cursor{f: f, sc: sc}, nil
}

// Next returns the next record, or io.EOF after the last line. A
// malformed line fails with its line number; the cursor is then spent.
func (c *Cursor) Next() (types.Record, error) {
	for c.sc.Scan() {
		c.line++
		text := strings.TrimSpace(c.sc.Text())
		if text == "" {
			continue
		}

		var env envelope
		if err := json.Unmarshal([]byte(text), &env); err != nil {
			return nil, fmt.Errorf("line %d: %w", c.line, err)
		}
		rec, err := decodeRecord(env)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", c.line, err)
		}
		c.source = env.Source
		return rec, nil
	}
	if err := c.sc.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", c.line, err)
	}
	return nil, io.EOF
}

// Source returns the source label of the most recently read envelope.
func (c *Cursor) Source() string { return c.source }

// Close releases the underlying file.
func (c *Cursor) Close() error { return c.f.Close() }

// ReplayBounds optionally restricts replay to files whose base name is
// after After and before Before (exclusive, lexicographic). History
// file names sort by time, so names double as time bounds.
type ReplayBounds struct {
	After  string
	Before string
}

func (b ReplayBounds) includes(name string) bool {
	if b.After != "" && name <= b.After {
		return false
	}
	if b.Before != "" && name >= b.Before {
		return false
	}
	return true
}

// ReplaySummary holds counts from a replay run.
type ReplaySummary struct {
	Files   int
	Records int
	BatchResult
}

// Replay re-acquires every logged record from dir in file-name order,
// each file as one batch. A malformed line aborts replay of that file
// with a pointer to the offending line; batches from earlier files
// remain applied.
func (p *Pipeline) Replay(ctx context.Context, dir string, bounds ReplayBounds, w io.Writer) (ReplaySummary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ReplaySummary{}, fmt.Errorf("reading history directory %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		if bounds.includes(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var summary ReplaySummary
	for _, name := range names {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		path := filepath.Join(dir, name)
		recs, source, err := readHistoryFile(path)
		if err != nil {
			return summary, fmt.Errorf("%s: %w", name, err)
		}

		fmt.Fprintf(w, "replaying %s (%d records)\n", name, len(recs))
		result, err := p.importAll(ctx, source, recs, w)
		if err != nil {
			return summary, fmt.Errorf("replaying %s: %w", name, err)
		}

		summary.Files++
		summary.Records += len(recs)
		summary.Inserted += result.Inserted
		summary.Updated += result.Updated
		summary.Skipped += result.Skipped
		summary.Excluded += result.Excluded
	}

	fmt.Fprintf(w, "\nReplay summary: %d files, %d records (%d inserted, %d updated, %d skipped, %d excluded)\n",
		summary.Files, summary.Records, summary.Inserted, summary.Updated, summary.Skipped, summary.Excluded)

	return summary, nil
}

// readHistoryFile drains one file through a Cursor before any write
// happens, so a malformed line aborts the file's batch untouched.
func readHistoryFile(path string) ([]types.Record, string, error) {
	cur, err := OpenCursor(path)
	if err != nil {
		return nil, "", err
	}
	defer cur.Close()

	var recs []types.Record
	for {
		rec, err := cur.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, "", err
		}
		recs = append(recs, rec)
	}
	return recs, cur.Source(), nil
}
