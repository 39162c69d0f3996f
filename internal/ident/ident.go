// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ident computes stable, content-derived identifiers for
// bibliographic entities. An identifier carries a one-bit tag in its
// most significant bit: clear for transient ids (identity derived
// purely from content) and set for canonical ids (identity assigned by
// a merge decision). The tag is readable without a storage round-trip.
// Implements: prd001-entity-model § Identity.
package ident

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"

	"github.com/pdiddy/bibgraph/pkg/types"
)

// ID is a 64-bit entity identifier. The most significant bit is the
// canonical tag; the remaining 63 bits derive from a content hash (for
// transient ids) or from the seed id of a merge (for canonical ids).
type ID uint64

const canonicalBit = uint64(1) << 63

// IsCanonical reports whether the canonical tag bit is set.
func (id ID) IsCanonical() bool { return uint64(id)&canonicalBit != 0 }

// IsZero reports whether the id is the zero value, which is never a
// valid entity identifier.
func (id ID) IsZero() bool { return id == 0 }

// Hex renders the id as a fixed-width 16-character lowercase hex
// string, the form stored in the database and shown to operators.
func (id ID) Hex() string { return fmt.Sprintf("%016x", uint64(id)) }

// String implements fmt.Stringer.
func (id ID) String() string { return id.Hex() }

// ParseHex parses the 16-character hex form produced by Hex.
func ParseHex(s string) (ID, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("identifier %q: want 16 hex characters, got %d", s, len(s))
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("identifier %q: %w", s, err)
	}
	return ID(v), nil
}

// Canonical derives the canonical id for a merge seeded by seed,
// normally the smallest id in the candidate set. The derivation is
// deterministic so repeated merge requests over the same set fabricate
// the same canonical id. Transient ids never carry the tag bit, so a
// fabricated canonical id cannot collide with any content hash.
func Canonical(seed ID) ID { return ID(uint64(seed) | canonicalBit) }

// fieldSep separates defining fields inside the hash input so that
// ("ab","c") and ("a","bc") hash differently.
const fieldSep = "\x00"

func hashFields(kind types.Kind, fields ...string) ID {
	h := sha256.New()
	io.WriteString(h, kind.String())
	for _, f := range fields {
		io.WriteString(h, fieldSep)
		io.WriteString(h, f)
	}
	sum := h.Sum(nil)
	return ID(binary.BigEndian.Uint64(sum[:8]) &^ canonicalBit)
}

// Paper returns the transient id for a paper, defined by title and abstract.
func Paper(title, abstract string) ID {
	return hashFields(types.KindPaper, title, abstract)
}

// Author returns the transient id for an author, defined by display name.
func Author(name string) ID {
	return hashFields(types.KindAuthor, name)
}

// Institution returns the transient id for an institution, defined by name.
func Institution(name string) ID {
	return hashFields(types.KindInstitution, name)
}

// Venue returns the transient id for a venue, defined by (type, name).
func Venue(venueType, name string) ID {
	return hashFields(types.KindVenue, venueType, name)
}

// Topic returns the transient id for a topic, defined by name.
func Topic(name string) ID {
	return hashFields(types.KindTopic, name)
}

// Compute returns the transient id for any id-bearing record. Releases
// and links are owned relations without standalone identity; for those
// kinds ok is false.
func Compute(rec types.Record) (ID, bool) {
	switch r := rec.(type) {
	case *types.Paper:
		return Paper(r.Title, r.Abstract), true
	case *types.Author:
		return Author(r.Name), true
	case *types.Institution:
		return Institution(r.Name), true
	case *types.Venue:
		return Venue(r.Type, r.Name), true
	case *types.Topic:
		return Topic(r.Name), true
	case *types.Release, *types.Link:
		return 0, false
	default:
		return 0, false
	}
}

// Min returns the smallest id in ids, used to seed canonical fabrication.
func Min(ids []ID) ID {
	if len(ids) == 0 {
		return 0
	}
	m := ids[0]
	for _, id := range ids[1:] {
		if id < m {
			m = id
		}
	}
	return m
}
