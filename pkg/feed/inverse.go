package feed

import "github.com/jinaga/factengine/pkg/specification"

// Operation names whether an inverse adds or removes a result for an
// observer when its triggering fact is persisted (spec.md §4.6).
type Operation int

const (
	Add Operation = iota
	Remove
)

// Inverse is a specification that, given an incoming fact of a known
// type, re-derives the original specification's scope and yields the
// observers it affects. TriggerLabel names the given in Specification
// that the incoming fact binds to.
type Inverse struct {
	TriggerType   string
	TriggerLabel  string
	Specification *specification.Specification
	Operation     Operation
}

// Inverses derives one inverse per match of spec (the positive
// contribution of that match becoming known), plus one additive inverse
// per exists-condition and one removal inverse per not-exists condition
// at depth 0, per spec.md §4.6. The original projection is reused so an
// inverse's result shape matches what observers of spec expect.
func Inverses(spec *specification.Specification) []Inverse {
	var out []Inverse

	for i, m := range spec.Matches {
		rest := otherMatches(spec.Matches, i)
		reversed, ok := reverseChain(spec.Givens, spec.Matches[:i], m)
		if !ok {
			continue
		}
		out = append(out, Inverse{
			TriggerType:  m.Unknown.Type,
			TriggerLabel: m.Unknown.Name,
			Specification: &specification.Specification{
				Givens:     []specification.Given{{Name: m.Unknown.Name, Type: m.Unknown.Type}},
				Matches:    append(reversed, rest...),
				Projection: spec.Projection,
			},
			Operation: Add,
		})

		for _, c := range m.Conditions {
			ec, ok := c.(specification.ExistentialCondition)
			if !ok || len(ec.Matches) == 0 {
				continue
			}
			last := ec.Matches[len(ec.Matches)-1]
			innerReversed, ok := reverseChain(
				append(append([]specification.Given{}, spec.Givens...), m.Unknown),
				ec.Matches[:len(ec.Matches)-1], last,
			)
			if !ok {
				continue
			}

			op := Remove
			if ec.Exists {
				op = Add
			}

			matches := append(append([]specification.Match{}, innerReversed...), reversed...)
			matches = append(matches, rest...)

			out = append(out, Inverse{
				TriggerType:  last.Unknown.Type,
				TriggerLabel: last.Unknown.Name,
				Specification: &specification.Specification{
					Givens:     []specification.Given{{Name: last.Unknown.Name, Type: last.Unknown.Type}},
					Matches:    matches,
					Projection: spec.Projection,
				},
				Operation: op,
			})
		}
	}

	return out
}

func otherMatches(matches []specification.Match, exclude int) []specification.Match {
	out := make([]specification.Match, 0, len(matches)-1)
	for i, m := range matches {
		if i != exclude {
			out = append(out, m)
		}
	}
	return out
}

// reverseChain builds the matches needed to re-derive every label m's
// PathConditions reference, starting from m.Unknown bound as a given,
// by swapping each PathCondition's left/right roles. Labels are looked
// up among givens and the matches preceding m in the original
// specification. Returns ok=false if m has no PathCondition to invert
// (the trigger cannot be connected back to the specification's scope).
func reverseChain(givens []specification.Given, preceding []specification.Match, m specification.Match) ([]specification.Match, bool) {
	typeOf := func(name string) (string, bool) {
		for _, g := range givens {
			if g.Name == name {
				return g.Type, true
			}
		}
		for _, pm := range preceding {
			if pm.Unknown.Name == name {
				return pm.Unknown.Type, true
			}
		}
		return "", false
	}

	byLabel := map[string][]specification.Condition{}
	var order []string
	for _, c := range m.Conditions {
		pc, ok := c.(specification.PathCondition)
		if !ok {
			continue
		}
		if _, seen := byLabel[pc.LabelRight]; !seen {
			order = append(order, pc.LabelRight)
		}
		byLabel[pc.LabelRight] = append(byLabel[pc.LabelRight], specification.PathCondition{
			RolesLeft:  pc.RolesRight,
			LabelRight: m.Unknown.Name,
			RolesRight: pc.RolesLeft,
		})
	}

	if len(order) == 0 {
		return nil, false
	}

	matches := make([]specification.Match, 0, len(order))
	for _, name := range order {
		typ, ok := typeOf(name)
		if !ok {
			return nil, false
		}
		matches = append(matches, specification.Match{
			Unknown:    specification.Label{Name: name, Type: typ},
			Conditions: byLabel[name],
		})
	}
	return matches, true
}
