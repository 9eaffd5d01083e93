// Package fact implements the content-addressed fact model: canonical
// serialization, SHA-512 hashing, Ed25519 signing/verification, and the
// dehydrate/hydrate bridge between application objects and the wire
// representation. It is grounded on the teacher's proof-graph node model
// (INTENT -> ATTESTATION -> EFFECT, content hash over canonical bytes,
// parents as predecessor references) generalized from a single append-only
// chain to an arbitrary predecessor DAG.
package fact

import "fmt"

// Reference identifies a fact by its type and content hash. Equality is
// structural on both fields.
type Reference struct {
	Type string `json:"type"`
	Hash string `json:"hash"`
}

func (r Reference) String() string {
	return fmt.Sprintf("%s:%s", r.Type, r.Hash)
}

// Equal reports structural equality of two references.
func (r Reference) Equal(o Reference) bool {
	return r.Type == o.Type && r.Hash == o.Hash
}

// Arity records whether a predecessor role was declared as a single fact
// reference or an ordered sequence of them. It selects the canonical form
// of the role (ArityOne: a bare reference object; ArityMany: a
// sorted-unique reference array, see Canonicalize) and is needed to
// round-trip application objects through Hydrate.
type Arity int

const (
	ArityOne  Arity = iota // a single predecessor reference
	ArityMany              // an ordered sequence of predecessor references
)

// PredecessorRole is the value of one predecessor-role mapping. References
// are normalized (sorted, deduplicated) by Canonicalize / NewRecord before
// hashing, per the Open Question resolution in DESIGN.md: predecessor
// arrays are sets, never ordered lists, for hashing purposes.
type PredecessorRole struct {
	Arity      Arity
	References []Reference
}

// Record is an immutable fact: a type name, an ordered (by key) mapping of
// scalar fields, and a predecessor mapping from role name to one or more
// fact references. Hash is populated once the record has been canonicalized.
type Record struct {
	Type         string                      `json:"type"`
	Fields       map[string]any              `json:"fields"`
	Predecessors map[string]PredecessorRole  `json:"predecessors"`
	Hash         string                      `json:"hash"`
}

// Reference returns the (type, hash) reference for this record.
func (r *Record) Reference() Reference {
	return Reference{Type: r.Type, Hash: r.Hash}
}

// Signature pairs a public key with the signature bytes (hex-encoded) of a
// record's canonical form produced under the corresponding private key.
type Signature struct {
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
}

// Envelope is a fact plus zero or more signatures over its canonical bytes.
type Envelope struct {
	Fact       Record      `json:"fact"`
	Signatures []Signature `json:"signatures,omitempty"`
}

// MergeSignatures returns a new signature slice equal to the union of a and
// b, deduplicated by public key. Used when a duplicate save re-sees a fact
// that already carries signatures (spec.md §3, "Duplicate saves are
// idempotent... signatures on a re-seen fact are merged into the existing
// set").
func MergeSignatures(a, b []Signature) []Signature {
	seen := make(map[string]bool, len(a))
	out := make([]Signature, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s.PublicKey] {
			seen[s.PublicKey] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s.PublicKey] {
			seen[s.PublicKey] = true
			out = append(out, s)
		}
	}
	return out
}
