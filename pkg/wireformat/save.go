// Package wireformat implements the two wire contracts spec.md §6 names:
// the JSON save request/response body, and the line-oriented graph
// stream format used by the streaming variant. Neither the teacher nor
// the rest of the pack carries a fact-graph wire protocol (HELM's
// pkg/contracts governs a proposal/decision envelope, not a predecessor
// DAG), so this package is authored directly from spec.md, in the
// snake_case JSON-tag style pkg/contracts uses throughout.
package wireformat

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jinaga/factengine/pkg/fact"
)

type wireReference struct {
	Type string `json:"type"`
	Hash string `json:"hash"`
}

type saveFact struct {
	Type         string                     `json:"type"`
	Hash         string                     `json:"hash"`
	Predecessors map[string]json.RawMessage `json:"predecessors"`
	Fields       map[string]any             `json:"fields"`
}

type saveSignature struct {
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

type saveEnvelope struct {
	Fact       saveFact        `json:"fact"`
	Signatures []saveSignature `json:"signatures,omitempty"`
}

// EncodeSaveRequest renders envelopes as the save wire format: a JSON list
// of {fact: {type, hash, predecessors, fields}, signatures: [...]}, with
// each predecessor role serialized as a single reference (arity one) or a
// reference array (arity many).
func EncodeSaveRequest(envelopes []fact.Envelope) ([]byte, error) {
	wire := make([]saveEnvelope, len(envelopes))
	for i, env := range envelopes {
		we, err := toSaveEnvelope(env)
		if err != nil {
			return nil, err
		}
		wire[i] = we
	}
	return json.Marshal(wire)
}

// DecodeSaveRequest parses the save wire format back into envelopes. A
// predecessor role's arity is recovered from its JSON shape: an array
// decodes as ArityMany, a bare object as ArityOne.
func DecodeSaveRequest(data []byte) ([]fact.Envelope, error) {
	var wire []saveEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("wireformat: decode save request: %w", err)
	}
	out := make([]fact.Envelope, len(wire))
	for i, we := range wire {
		env, err := fromSaveEnvelope(we)
		if err != nil {
			return nil, err
		}
		out[i] = env
	}
	return out, nil
}

func toSaveEnvelope(env fact.Envelope) (saveEnvelope, error) {
	preds := make(map[string]json.RawMessage, len(env.Fact.Predecessors))
	for role, pr := range env.Fact.Predecessors {
		raw, err := marshalPredecessorRole(pr)
		if err != nil {
			return saveEnvelope{}, fmt.Errorf("wireformat: role %q: %w", role, err)
		}
		preds[role] = raw
	}
	sigs := make([]saveSignature, len(env.Signatures))
	for i, s := range env.Signatures {
		sigs[i] = saveSignature{PublicKey: s.PublicKey, Signature: s.Signature}
	}
	return saveEnvelope{
		Fact: saveFact{
			Type:         env.Fact.Type,
			Hash:         env.Fact.Hash,
			Predecessors: preds,
			Fields:       env.Fact.Fields,
		},
		Signatures: sigs,
	}, nil
}

func marshalPredecessorRole(pr fact.PredecessorRole) (json.RawMessage, error) {
	if pr.Arity == fact.ArityMany {
		refs := make([]wireReference, len(pr.References))
		for i, r := range pr.References {
			refs[i] = wireReference{Type: r.Type, Hash: r.Hash}
		}
		return json.Marshal(refs)
	}
	if len(pr.References) != 1 {
		return nil, fmt.Errorf("arity-one role has %d references", len(pr.References))
	}
	r := pr.References[0]
	return json.Marshal(wireReference{Type: r.Type, Hash: r.Hash})
}

func fromSaveEnvelope(we saveEnvelope) (fact.Envelope, error) {
	preds := make(map[string]fact.PredecessorRole, len(we.Fact.Predecessors))
	for role, raw := range we.Fact.Predecessors {
		pr, err := unmarshalPredecessorRole(raw)
		if err != nil {
			return fact.Envelope{}, fmt.Errorf("wireformat: role %q: %w", role, err)
		}
		preds[role] = pr
	}
	sigs := make([]fact.Signature, len(we.Signatures))
	for i, s := range we.Signatures {
		sigs[i] = fact.Signature{PublicKey: s.PublicKey, Signature: s.Signature}
	}
	return fact.Envelope{
		Fact: fact.Record{
			Type:         we.Fact.Type,
			Hash:         we.Fact.Hash,
			Predecessors: preds,
			Fields:       we.Fact.Fields,
		},
		Signatures: sigs,
	}, nil
}

func unmarshalPredecessorRole(raw json.RawMessage) (fact.PredecessorRole, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var refs []wireReference
		if err := json.Unmarshal(raw, &refs); err != nil {
			return fact.PredecessorRole{}, err
		}
		out := make([]fact.Reference, len(refs))
		for i, r := range refs {
			out[i] = fact.Reference{Type: r.Type, Hash: r.Hash}
		}
		return fact.PredecessorRole{Arity: fact.ArityMany, References: out}, nil
	}
	var r wireReference
	if err := json.Unmarshal(raw, &r); err != nil {
		return fact.PredecessorRole{}, err
	}
	return fact.PredecessorRole{Arity: fact.ArityOne, References: []fact.Reference{{Type: r.Type, Hash: r.Hash}}}, nil
}
