// Package distribution decides whether a requesting principal may read a
// feed (spec.md §4.9). It is grounded on the teacher's pkg/pdp.go
// PolicyDecisionPoint: fail-closed evaluation producing a single
// allow/deny outcome, generalized from a fixed principal/action/resource
// triple to skeleton-matched feed rules, and reusing cel-go as an
// optional fast-path pre-filter the way pdp.Backend selects among
// pluggable policy engines.
package distribution

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/jinaga/factengine/pkg/engineerr"
	"github.com/jinaga/factengine/pkg/fact"
	"github.com/jinaga/factengine/pkg/feed"
	"github.com/jinaga/factengine/pkg/query"
	"github.com/jinaga/factengine/pkg/specification"
)

// Rule declares that a particular feed shape is readable, either by
// everyone or by whoever UserSpecification resolves to when bound to the
// requested feed's permuted given tuple.
type Rule struct {
	Description       string
	Specification     *specification.Specification
	Everyone          bool
	UserSpecification *specification.Specification

	// FastPath, when non-empty, is a CEL expression evaluated against the
	// requested given tuple's field values before the (more expensive)
	// skeleton match; a false result skips this rule outright. It never
	// substitutes for the full check — CEL has no access to predecessor
	// chains — only prunes rules cheaply. The expression sees one variable,
	// fields, a map keyed "<given label>.<field name>" (e.g.
	// `fields["airline.region"] == "eu"`).
	FastPath string
}

// Engine holds the declared distribution rules.
type Engine struct {
	mu    sync.RWMutex
	rules []Rule
	cache map[string]cel.Program
}

func NewEngine() *Engine {
	return &Engine{cache: map[string]cel.Program{}}
}

func (e *Engine) Declare(rule Rule) error {
	if rule.FastPath != "" {
		if _, err := e.compile(rule.FastPath); err != nil {
			return fmt.Errorf("distribution: invalid fast-path expression %q: %w", rule.FastPath, err)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule)
	return nil
}

func (e *Engine) compile(expr string) (cel.Program, error) {
	e.mu.RLock()
	if p, ok := e.cache[expr]; ok {
		e.mu.RUnlock()
		return p, nil
	}
	e.mu.RUnlock()

	env, err := cel.NewEnv(cel.Variable("fields", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	program, err := env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expr] = program
	e.mu.Unlock()
	return program, nil
}

// Authorize attempts to match requested against every declared rule in
// order, returning nil on the first rule that accepts. callerPublicKey
// identifies the requesting principal (spec.md's Jinaga.User.publicKey).
// On no match, it fails with *engineerr.NotAuthorizedToRead naming
// description and every rule's failure reason.
func (e *Engine) Authorize(ctx context.Context, src query.Source, requested *specification.Specification, description string, given query.Tuple, callerPublicKey string) error {
	targetSkeleton := feed.Build(requested)

	e.mu.RLock()
	rules := make([]Rule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	var reasons []string
	for _, rule := range rules {
		if rule.FastPath != "" {
			if pass, err := e.evalFastPath(ctx, rule, src, given); err != nil {
				reasons = append(reasons, fmt.Sprintf("%s: fast path error: %v", rule.Description, err))
				continue
			} else if !pass {
				reasons = append(reasons, fmt.Sprintf("%s: fast path excluded this request", rule.Description))
				continue
			}
		}

		ruleSkeleton := feed.Build(rule.Specification)
		perm, ok := ruleSkeleton.FindPermutation(targetSkeleton)
		if !ok {
			reasons = append(reasons, fmt.Sprintf("%s: feed shape does not match", rule.Description))
			continue
		}

		permuted, ok := permuteGivenTuple(rule.Specification, requested, perm, given)
		if !ok {
			reasons = append(reasons, fmt.Sprintf("%s: could not bind permuted inputs", rule.Description))
			continue
		}

		if rule.Everyone {
			return nil
		}

		if rule.UserSpecification == nil {
			reasons = append(reasons, fmt.Sprintf("%s: matches but declares no reader and is not everyone", rule.Description))
			continue
		}

		allowed, err := userIsAuthorized(ctx, src, rule.UserSpecification, permuted, callerPublicKey)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: user specification error: %v", rule.Description, err))
			continue
		}
		if allowed {
			return nil
		}
		reasons = append(reasons, fmt.Sprintf("%s: matches but caller is not an authorized reader", rule.Description))
	}

	return &engineerr.NotAuthorizedToRead{FeedDescription: description, Reasons: reasons}
}

func (e *Engine) evalFastPath(ctx context.Context, rule Rule, src query.Source, given query.Tuple) (bool, error) {
	program, err := e.compile(rule.FastPath)
	if err != nil {
		return false, err
	}
	fields := map[string]any{}
	for label, ref := range given {
		rec, err := src.Record(ctx, ref)
		if err == nil && rec != nil {
			for k, v := range rec.Fields {
				fields[label+"."+k] = v
			}
		}
	}
	out, _, err := program.Eval(map[string]any{"fields": fields})
	if err != nil {
		return false, err
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("fast path expression did not evaluate to bool")
	}
	return allowed, nil
}

// permuteGivenTuple rebinds rule's given labels to requested's bound
// values using perm (a mapping from rule-skeleton fact index to
// requested-skeleton fact index, restricted here to the given range).
func permuteGivenTuple(rule, requested *specification.Specification, perm []int, given query.Tuple) (query.Tuple, bool) {
	out := make(query.Tuple, len(rule.Givens))
	for i, g := range rule.Givens {
		targetIdx := perm[i]
		if targetIdx >= len(requested.Givens) {
			return nil, false
		}
		targetLabel := requested.Givens[targetIdx].Name
		ref, ok := given[targetLabel]
		if !ok {
			return nil, false
		}
		out[g.Name] = ref
	}
	return out, true
}

func userIsAuthorized(ctx context.Context, src query.Source, userSpec *specification.Specification, bound query.Tuple, callerPublicKey string) (bool, error) {
	results, err := query.Evaluate(ctx, src, userSpec, bound)
	if err != nil {
		return false, err
	}
	for _, res := range results {
		ref, ok := res.(fact.Reference)
		if !ok {
			continue
		}
		rec, err := src.Record(ctx, ref)
		if err != nil || rec == nil {
			continue
		}
		if pk, ok := rec.Fields["publicKey"].(string); ok && strings.EqualFold(pk, callerPublicKey) {
			return true, nil
		}
	}
	return false, nil
}
