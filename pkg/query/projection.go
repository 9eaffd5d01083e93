package query

import (
	"context"
	"fmt"

	"github.com/jinaga/factengine/pkg/specification"
)

// Evaluate runs spec against src starting from given and applies its
// projection to every resulting tuple. Identity specifications (no
// matches, projecting a given directly) take the optimized path of
// spec.md §4.4 and skip match evaluation entirely.
func Evaluate(ctx context.Context, src Source, spec *specification.Specification, given Tuple) ([]any, error) {
	if spec.IsIdentity() {
		fp := spec.Projection.(specification.FactProjection)
		ref, ok := given[fp.Label]
		if !ok {
			return nil, fmt.Errorf("query: identity projection references unbound given %q", fp.Label)
		}
		return []any{ref}, nil
	}

	tuples, err := EvaluateTuples(ctx, src, spec, given)
	if err != nil {
		return nil, err
	}

	results := make([]any, 0, len(tuples))
	for _, t := range tuples {
		v, err := project(ctx, src, spec.Projection, t)
		if err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, nil
}

// Project applies a single projection to an already-bound tuple. It is
// exported for callers (the observable source, C7) that evaluate a
// specification's matches themselves via EvaluateTuples and need to apply
// its projection per tuple, e.g. after filtering tuples against a
// previously bound given.
func Project(ctx context.Context, src Source, p specification.Projection, t Tuple) (any, error) {
	return project(ctx, src, p, t)
}

func project(ctx context.Context, src Source, p specification.Projection, t Tuple) (any, error) {
	switch proj := p.(type) {
	case specification.FactProjection:
		ref, ok := t[proj.Label]
		if !ok {
			return nil, nil
		}
		return ref, nil

	case specification.HashProjection:
		ref, ok := t[proj.Label]
		if !ok {
			return nil, nil
		}
		return ref.Hash, nil

	case specification.FieldProjection:
		ref, ok := t[proj.Label]
		if !ok {
			return nil, nil
		}
		rec, err := src.Record(ctx, ref)
		if err != nil {
			return nil, err
		}
		return rec.Fields[proj.Field], nil

	case specification.CompositeProjection:
		out := make(map[string]any, len(proj.Fields))
		for _, f := range proj.Fields {
			v, err := project(ctx, src, f.Projection, t)
			if err != nil {
				return nil, err
			}
			out[f.Name] = v
		}
		return out, nil

	case specification.SpecificationProjection:
		nestedGiven := t.clone()
		results, err := Evaluate(ctx, src, proj.Specification, nestedGiven)
		if err != nil {
			return nil, err
		}
		return results, nil

	default:
		return nil, fmt.Errorf("query: unsupported projection type %T", p)
	}
}
