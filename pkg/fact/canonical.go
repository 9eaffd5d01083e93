package fact

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"
)

// canonicalShape is the intermediate, JSON-tag-stable structure Canonicalize
// serializes before handing it to the JCS transform. Field and key ordering
// here is irrelevant — jcs.Transform re-sorts every object's keys per
// RFC 8785 — but the shape itself (what is and is not included) is what
// the hash closes over. Per spec.md §4.1, canonicalization and hashing are
// pure functions of (fields, predecessors) only: the fact's type never
// enters the hashed bytes, so a record's Reference disambiguates same-hash
// facts of different types by carrying Type alongside Hash.
type canonicalShape struct {
	Fields       map[string]any `json:"fields"`
	Predecessors map[string]any `json:"predecessors"`
}

// normalizedPredecessors renders each role per its declared Arity (spec.md
// §3: a role is either one fact reference or an ordered sequence of fact
// references). ArityOne roles serialize as the bare {type,hash} reference
// object; ArityMany roles serialize as a sorted, deduplicated array — the
// one place the predecessor-array set-semantics Open Question (DESIGN.md)
// is enforced.
func normalizedPredecessors(preds map[string]PredecessorRole) map[string]any {
	out := make(map[string]any, len(preds))
	for role, p := range preds {
		if p.Arity == ArityOne {
			if len(p.References) > 0 {
				out[role] = p.References[0]
			}
			continue
		}
		out[role] = sortedUniqueReferences(p.References)
	}
	return out
}

func sortedUniqueReferences(refs []Reference) []Reference {
	seen := make(map[Reference]bool, len(refs))
	uniq := make([]Reference, 0, len(refs))
	for _, r := range refs {
		if !seen[r] {
			seen[r] = true
			uniq = append(uniq, r)
		}
	}
	sort.Slice(uniq, func(i, j int) bool {
		if uniq[i].Type != uniq[j].Type {
			return uniq[i].Type < uniq[j].Type
		}
		return uniq[i].Hash < uniq[j].Hash
	})
	return uniq
}

// Canonicalize returns the deterministic byte form of a fact's (fields,
// predecessors) pair: RFC 8785 canonical JSON over a shape with
// lexicographically sorted field keys, ArityOne predecessor roles rendered
// as a single reference object, and ArityMany roles reduced to
// sorted-unique reference arrays. Two records with the same field values
// and the same predecessor roles (irrespective of role-array order or
// duplicates) canonicalize to byte-identical output regardless of type.
func Canonicalize(r *Record) ([]byte, error) {
	shape := canonicalShape{
		Fields:       r.Fields,
		Predecessors: normalizedPredecessors(r.Predecessors),
	}
	if shape.Fields == nil {
		shape.Fields = map[string]any{}
	}
	if shape.Predecessors == nil {
		shape.Predecessors = map[string]any{}
	}

	intermediate, err := json.Marshal(shape)
	if err != nil {
		return nil, fmt.Errorf("fact: canonicalize marshal: %w", err)
	}
	canonical, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("fact: jcs transform: %w", err)
	}
	return canonical, nil
}
