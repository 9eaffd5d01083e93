package wireformat

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jinaga/factengine/pkg/fact"
)

// WriteGraph encodes envelopes as the line-oriented graph stream format
// (spec.md §6). envelopes must already be in topological order (e.g. via
// topo.Sort) — every predecessor must appear at a lower index than its
// successor, since predecessors are emitted as back-references to
// already-written records by 0-based index.
//
// Each record occupies three lines — a JSON string (type), a JSON object
// (predecessors by role, as a back-reference index or index array), a
// JSON object (fields) — preceded by one `PK{n}` frame per not-yet-seen
// signing key and followed by one `SIG{n}` frame per signature on that
// record, referencing the key by its PK index. Records are separated by
// a blank line.
func WriteGraph(w io.Writer, envelopes []fact.Envelope) error {
	bw := bufio.NewWriter(w)
	indexOf := make(map[fact.Reference]int, len(envelopes))
	keyIndex := make(map[string]int)

	for i, env := range envelopes {
		for _, sig := range env.Signatures {
			if _, seen := keyIndex[sig.PublicKey]; !seen {
				n := len(keyIndex)
				keyIndex[sig.PublicKey] = n
				if err := writeTaggedLine(bw, "PK", n, sig.PublicKey); err != nil {
					return err
				}
			}
		}

		typeJSON, err := json.Marshal(env.Fact.Type)
		if err != nil {
			return fmt.Errorf("wireformat: marshal type: %w", err)
		}
		predJSON, err := marshalBackReferencePredecessors(env.Fact.Predecessors, indexOf)
		if err != nil {
			return err
		}
		fieldsJSON, err := json.Marshal(env.Fact.Fields)
		if err != nil {
			return fmt.Errorf("wireformat: marshal fields: %w", err)
		}
		if _, err := fmt.Fprintf(bw, "%s\n%s\n%s\n", typeJSON, predJSON, fieldsJSON); err != nil {
			return err
		}

		for _, sig := range env.Signatures {
			if err := writeTaggedLine(bw, "SIG", keyIndex[sig.PublicKey], sig.Signature); err != nil {
				return err
			}
		}

		indexOf[env.Fact.Reference()] = i
		if i != len(envelopes)-1 {
			if _, err := bw.WriteString("\n"); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

func writeTaggedLine(w *bufio.Writer, tag string, n int, value string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("wireformat: marshal %s%d value: %w", tag, n, err)
	}
	_, err = fmt.Fprintf(w, "%s%d %s\n", tag, n, data)
	return err
}

func marshalBackReferencePredecessors(preds map[string]fact.PredecessorRole, indexOf map[fact.Reference]int) (json.RawMessage, error) {
	out := make(map[string]any, len(preds))
	for role, pr := range preds {
		if pr.Arity == fact.ArityMany {
			idxs := make([]int, len(pr.References))
			for i, r := range pr.References {
				idx, ok := indexOf[r]
				if !ok {
					return nil, fmt.Errorf("wireformat: predecessor %s not yet emitted", r)
				}
				idxs[i] = idx
			}
			out[role] = idxs
			continue
		}
		if len(pr.References) != 1 {
			return nil, fmt.Errorf("wireformat: arity-one role %q has %d references", role, len(pr.References))
		}
		idx, ok := indexOf[pr.References[0]]
		if !ok {
			return nil, fmt.Errorf("wireformat: predecessor %s not yet emitted", pr.References[0])
		}
		out[role] = idx
	}
	return json.Marshal(out)
}

// ReadGraph decodes a graph stream written by WriteGraph back into
// envelopes in the same order, recomputing each record's hash from its
// canonical form (the stream carries no hash line — spec.md §6's
// three-line record is type/predecessors/fields only).
func ReadGraph(r io.Reader) ([]fact.Envelope, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)

	var envelopes []fact.Envelope
	var refs []fact.Reference
	var keys []string
	var pendingIdx = -1

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "PK"):
			n, payload, err := splitTaggedLine(line, "PK")
			if err != nil {
				return nil, err
			}
			if n != len(keys) {
				return nil, fmt.Errorf("wireformat: out-of-order PK index %d", n)
			}
			var key string
			if err := json.Unmarshal(payload, &key); err != nil {
				return nil, fmt.Errorf("wireformat: PK%d payload: %w", n, err)
			}
			keys = append(keys, key)

		case strings.HasPrefix(line, "SIG"):
			n, payload, err := splitTaggedLine(line, "SIG")
			if err != nil {
				return nil, err
			}
			if pendingIdx < 0 {
				return nil, fmt.Errorf("wireformat: SIG frame with no preceding record")
			}
			if n < 0 || n >= len(keys) {
				return nil, fmt.Errorf("wireformat: SIG references unknown key index %d", n)
			}
			var sigHex string
			if err := json.Unmarshal(payload, &sigHex); err != nil {
				return nil, fmt.Errorf("wireformat: SIG%d payload: %w", n, err)
			}
			envelopes[pendingIdx].Signatures = append(envelopes[pendingIdx].Signatures, fact.Signature{
				PublicKey: keys[n],
				Signature: sigHex,
			})

		default:
			var typeName string
			if err := json.Unmarshal([]byte(line), &typeName); err != nil {
				return nil, fmt.Errorf("wireformat: invalid type line: %w", err)
			}
			if !scanner.Scan() {
				return nil, fmt.Errorf("wireformat: truncated record (missing predecessors line)")
			}
			predLine := scanner.Text()
			if !scanner.Scan() {
				return nil, fmt.Errorf("wireformat: truncated record (missing fields line)")
			}
			fieldsLine := scanner.Text()

			preds, err := unmarshalBackReferencePredecessors(predLine, refs)
			if err != nil {
				return nil, err
			}
			var fields map[string]any
			if err := json.Unmarshal([]byte(fieldsLine), &fields); err != nil {
				return nil, fmt.Errorf("wireformat: invalid fields line: %w", err)
			}

			record, err := fact.NewRecord(typeName, fields, preds)
			if err != nil {
				return nil, fmt.Errorf("wireformat: rehash record: %w", err)
			}

			envelopes = append(envelopes, fact.Envelope{Fact: *record})
			refs = append(refs, record.Reference())
			pendingIdx = len(envelopes) - 1
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("wireformat: read graph stream: %w", err)
	}
	return envelopes, nil
}

func splitTaggedLine(line, tag string) (int, json.RawMessage, error) {
	rest := strings.TrimPrefix(line, tag)
	sp := strings.IndexByte(rest, ' ')
	if sp < 0 {
		return 0, nil, fmt.Errorf("wireformat: malformed %s frame %q", tag, line)
	}
	n, err := strconv.Atoi(rest[:sp])
	if err != nil {
		return 0, nil, fmt.Errorf("wireformat: malformed %s index in %q: %w", tag, line, err)
	}
	return n, json.RawMessage(rest[sp+1:]), nil
}

func unmarshalBackReferencePredecessors(line string, refs []fact.Reference) (map[string]fact.PredecessorRole, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, fmt.Errorf("wireformat: invalid predecessors line: %w", err)
	}
	out := make(map[string]fact.PredecessorRole, len(raw))
	for role, v := range raw {
		trimmed := strings.TrimSpace(string(v))
		if strings.HasPrefix(trimmed, "[") {
			var idxs []int
			if err := json.Unmarshal(v, &idxs); err != nil {
				return nil, fmt.Errorf("wireformat: role %q: %w", role, err)
			}
			resolved := make([]fact.Reference, len(idxs))
			for i, idx := range idxs {
				r, err := resolveBackReference(idx, refs)
				if err != nil {
					return nil, fmt.Errorf("wireformat: role %q: %w", role, err)
				}
				resolved[i] = r
			}
			out[role] = fact.PredecessorRole{Arity: fact.ArityMany, References: resolved}
			continue
		}
		var idx int
		if err := json.Unmarshal(v, &idx); err != nil {
			return nil, fmt.Errorf("wireformat: role %q: %w", role, err)
		}
		r, err := resolveBackReference(idx, refs)
		if err != nil {
			return nil, fmt.Errorf("wireformat: role %q: %w", role, err)
		}
		out[role] = fact.PredecessorRole{Arity: fact.ArityOne, References: []fact.Reference{r}}
	}
	return out, nil
}

func resolveBackReference(idx int, refs []fact.Reference) (fact.Reference, error) {
	if idx < 0 || idx >= len(refs) {
		return fact.Reference{}, fmt.Errorf("back-reference index %d out of range (%d records emitted so far)", idx, len(refs))
	}
	return refs[idx], nil
}
