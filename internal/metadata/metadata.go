// Copyright 2022 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package metadata implements the Metadata Replica Engine (spec.md
// §4.9): given a collection's metadata schema and the fields attached
// to one input embedding, it expands that single embedding into the set
// of "replica" IndexableEmbeddings the insertion engine actually
// descends into the graph, one per filterable dimension plus the
// unfiltered base.
package metadata

import (
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/google/uuid"

	"github.com/vortexdb/hnsw/internal/config"
	"github.com/vortexdb/hnsw/internal/distance"
	"github.com/vortexdb/hnsw/internal/hnswerr"
	"github.com/vortexdb/hnsw/internal/propstore"
)

// Schema describes one collection's metadata fields: each field name
// maps to its enumerated set of legal values. A collection with no
// metadata schema never calls into this package.
type Schema struct {
	ID     uuid.UUID
	Fields map[string][]string
}

// NewSchema creates a Schema with a fresh collection-scoped identifier.
func NewSchema(fields map[string][]string) Schema {
	return Schema{ID: uuid.New(), Fields: fields}
}

// validate reports a MetadataError if fields references a name or value
// not declared in the schema.
func (s Schema) validate(fields map[string]string) error {
	for name, value := range fields {
		allowed, ok := s.Fields[name]
		if !ok {
			return hnswerr.New(hnswerr.MetadataError, fmt.Sprintf("unknown metadata field %q", name))
		}
		found := false
		for _, v := range allowed {
			if v == value {
				found = true
				break
			}
		}
		if !found {
			return hnswerr.New(hnswerr.MetadataError, fmt.Sprintf("value %q not declared for field %q", value, name))
		}
	}
	return nil
}

// IndexableEmbedding is one replica the insertion engine will descend
// into the graph as its own logical node lineage.
type IndexableEmbedding struct {
	ID         distance.InternalID
	Vec        distance.Storage
	MetaLoc    *propstore.Location
	LevelsProb []config.LevelProb
	FieldName  string
	FieldValue string
}

// bitsForValue derives a stable, deterministic bit-packed encoding for
// one field=value pair; a real deployment's quantization module would
// derive these from a learned metadata embedding space, but the schema
// only needs a stable encoding two replicas of the same value agree on.
func bitsForValue(fieldName, value string) (mag float32, bits []byte) {
	h := fnv.New64a()
	h.Write([]byte(fieldName))
	h.Write([]byte{0})
	h.Write([]byte(value))
	sum := h.Sum64()
	bits = make([]byte, 8)
	for i := 0; i < 8; i++ {
		bits[i] = byte(sum >> (8 * i))
	}
	return 1.0, bits
}

// FilterValue derives the same bit-packed encoding Expand attaches to a
// field=value replica, for building a query-time filter that hard-matches
// exactly the replicas carrying that field=value pair.
func FilterValue(fieldName, value string) distance.Metadata {
	mag, bits := bitsForValue(fieldName, value)
	return distance.Metadata{Mag: mag, MBits: bits}
}

func hashVec(vec distance.Storage) uint64 {
	h := fnv.New64a()
	h.Write(vec)
	return h.Sum64()
}

// Expand computes the replica set for one input embedding: a base
// (unfiltered) replica plus one replica per declared field=value on
// fields, each written to props as its own NodePropMetadata. base_id and
// replica ids follow spec.md §4.9's scheme.
func Expand(s Schema, props *propstore.Store, vec distance.Storage, fields map[string]string, maxReplicaPerNode int, levelsProb []config.LevelProb) ([]IndexableEmbedding, error) {
	if err := s.validate(fields); err != nil {
		return nil, err
	}

	baseID := distance.InternalID(hashVec(vec) * uint64(maxReplicaPerNode))
	out := []IndexableEmbedding{{ID: baseID, Vec: vec, LevelsProb: levelsProb}}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	r := 0
	for _, name := range names {
		value := fields[name]
		mag, bits := bitsForValue(name, value)
		loc, err := props.WriteMetadata(distance.Metadata{Mag: mag, MBits: bits})
		if err != nil {
			return nil, err
		}
		r++
		out = append(out, IndexableEmbedding{
			ID:         baseID + distance.InternalID(r),
			Vec:        vec,
			MetaLoc:    &loc,
			LevelsProb: levelsProb,
			FieldName:  name,
			FieldValue: value,
		})
	}
	return out, nil
}

// PseudoLevelsProb overrides the standard level-probability table for a
// schema-priming pseudo embedding: level 0 is always selected (cum_prob
// 0.0 so it is always ≤ the draw) and every other level keeps the
// schema-derived shallow probabilities, guaranteeing a filtered
// traversal always has at least one reachable entry point for the
// combination, even before any real data carrying that value arrives.
func PseudoLevelsProb(base []config.LevelProb) []config.LevelProb {
	out := make([]config.LevelProb, len(base))
	copy(out, base)
	if len(out) > 0 {
		out[0].CumProb = 0
	}
	return out
}

// ExpandPseudo computes the priming replica set for a schema: one
// pseudo IndexableEmbedding per declared field=value, each forced to
// reach level 0 via PseudoLevelsProb. The base (unfiltered) pseudo
// embedding's id is hash_vec itself rather than hash_vec*max_replica,
// per spec.md §4.9.
func ExpandPseudo(s Schema, props *propstore.Store, vec distance.Storage, levelsProb []config.LevelProb) ([]IndexableEmbedding, error) {
	pseudoProb := PseudoLevelsProb(levelsProb)
	baseID := distance.InternalID(hashVec(vec))
	out := []IndexableEmbedding{{ID: baseID, Vec: vec, LevelsProb: pseudoProb}}

	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	r := 0
	for _, name := range names {
		for _, value := range s.Fields[name] {
			mag, bits := bitsForValue(name, value)
			loc, err := props.WriteMetadata(distance.Metadata{Mag: mag, MBits: bits})
			if err != nil {
				return nil, err
			}
			r++
			out = append(out, IndexableEmbedding{
				ID:         baseID + distance.InternalID(r),
				Vec:        vec,
				MetaLoc:    &loc,
				LevelsProb: pseudoProb,
				FieldName:  name,
				FieldValue: value,
			})
		}
	}
	return out, nil
}
