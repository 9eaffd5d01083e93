// Package topo orders a bag of fact records so that every predecessor
// appears before its successors (spec.md §4.2). It has no teacher analog
// of its own — the closest precedent is the recursive parent-walk in the
// teacher's proofgraph.Graph.ValidateChain — but a topological sort over a
// DAG is a self-contained algorithm with no natural library dependency in
// the retrieval pack, so it is implemented directly against the standard
// library (see DESIGN.md).
package topo

import (
	"github.com/jinaga/factengine/pkg/engineerr"
	"github.com/jinaga/factengine/pkg/fact"
)

// Sort orders records so that every record's predecessors appear earlier
// in the output, using a ready-set driven by reverse-dependency counters.
// References to facts not present in records are treated as
// pre-satisfied. Output is stable on input order among records that
// become ready at the same time. Returns InvalidGraph if the input
// contains a cycle (which cannot happen for records whose hashes were
// validated, but malformed input may still exhibit one).
func Sort(records []fact.Record) ([]fact.Record, error) {
	return SortWithKnown(records, nil)
}

// SortWithKnown is Sort generalized for incremental batches: isStored, when
// non-nil, reports whether a predecessor reference is already durably
// persisted elsewhere (outside this batch), in which case it is treated as
// pre-satisfied exactly like a reference absent from records. This lets a
// storage layer topologically sort a batch that mixes brand-new facts with
// references to facts it already holds.
func SortWithKnown(records []fact.Record, isStored func(fact.Reference) bool) ([]fact.Record, error) {
	byHash := make(map[string]*fact.Record, len(records))
	for i := range records {
		byHash[records[i].Hash] = &records[i]
	}

	// remaining[hash] = number of this record's predecessors not yet emitted
	remaining := make(map[string]int, len(records))
	// dependents[hash] = records that list hash as a predecessor
	dependents := make(map[string][]string, len(records))

	for i := range records {
		r := &records[i]
		count := 0
		for _, role := range r.Predecessors {
			for _, ref := range role.References {
				if _, inBatch := byHash[ref.Hash]; !inBatch {
					continue // unknown predecessor within the batch: pre-satisfied
				}
				if isStored != nil && isStored(ref) {
					continue // already durably persisted: pre-satisfied
				}
				count++
				dependents[ref.Hash] = append(dependents[ref.Hash], r.Hash)
			}
		}
		remaining[r.Hash] = count
	}

	ready := make([]string, 0, len(records))
	for i := range records {
		if remaining[records[i].Hash] == 0 {
			ready = append(ready, records[i].Hash)
		}
	}

	out := make([]fact.Record, 0, len(records))
	emitted := make(map[string]bool, len(records))

	for len(ready) > 0 {
		hash := ready[0]
		ready = ready[1:]
		if emitted[hash] {
			continue
		}
		emitted[hash] = true
		out = append(out, *byHash[hash])

		for _, dep := range dependents[hash] {
			remaining[dep]--
			if remaining[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(out) != len(records) {
		return nil, &engineerr.InvalidGraph{Reason: "cycle detected among input records"}
	}
	return out, nil
}
