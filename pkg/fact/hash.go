package fact

import (
	"crypto/sha512"
	"encoding/base64"

	"github.com/jinaga/factengine/pkg/engineerr"
)

// Hash computes the SHA-512/base64 (standard alphabet, padded) digest of a
// record's canonical form, per spec.md §3. It does not read or write
// r.Hash; callers that want the populated field should use NewRecord.
func Hash(r *Record) (string, error) {
	canonical, err := Canonicalize(r)
	if err != nil {
		return "", err
	}
	sum := sha512.Sum512(canonical)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

// NewRecord builds a Record from a type, fields, and predecessors, computing
// and populating its Hash.
func NewRecord(factType string, fields map[string]any, predecessors map[string]PredecessorRole) (*Record, error) {
	r := &Record{Type: factType, Fields: fields, Predecessors: predecessors}
	h, err := Hash(r)
	if err != nil {
		return nil, err
	}
	r.Hash = h
	return r, nil
}

// Validate reports whether r.Hash equals the hash recomputed over r's
// canonical form. A fact is valid iff this holds (spec.md §3).
func Validate(r *Record) error {
	computed, err := Hash(r)
	if err != nil {
		return err
	}
	if computed != r.Hash {
		return &engineerr.InvalidFact{
			Type:   r.Type,
			Hash:   r.Hash,
			Reason: "hash mismatch: computed " + computed,
		}
	}
	return nil
}
