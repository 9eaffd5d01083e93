// Package storage defines the durable-store contract (spec.md §4.3) and a
// reference in-memory implementation used by tests and by the
// PassThrough fork. Concrete storage backends (embedded indexed store,
// relational store) are out of scope per spec.md §1 and are external
// collaborators specified only by this interface; grounded loosely on the
// split between the teacher's store/outbox_store.go interface and its
// Postgres-backed implementation.
package storage

import (
	"context"
	"time"

	"github.com/jinaga/factengine/pkg/fact"
	"github.com/jinaga/factengine/pkg/query"
	"github.com/jinaga/factengine/pkg/specification"
)

// FeedResult is the cursored result of Storage.Feed: the fact references
// newly visible to a feed since bookmark, and the bookmark to resume from.
type FeedResult struct {
	References   []fact.Reference
	NextBookmark string
}

// PurgeCondition names a subgraph to remove when its root is purged: its
// Specification's givens are the purge root and its matches define the
// descendant facts to remove. Registration-time validation rejects
// conditions containing existential clauses, which would make purge
// non-deterministic (spec.md §6).
type PurgeCondition struct {
	Specification *specification.Specification
}

// Storage is the durable-store contract. All operations may fail with
// *engineerr.StorageError. It embeds query.Source so a Storage can be
// used directly as an evaluator source.
type Storage interface {
	query.Source

	// Save persists envelopes, merging signatures into any fact already
	// known, and returns only the envelopes newly persisted by this
	// call. Predecessors must already exist in storage or appear earlier
	// in the same batch.
	Save(ctx context.Context, envelopes []fact.Envelope) ([]fact.Envelope, error)

	// WhichExist returns the subset of refs already present in storage.
	WhichExist(ctx context.Context, refs []fact.Reference) ([]fact.Reference, error)

	// Load returns the requested facts together with their full ancestor
	// closure.
	Load(ctx context.Context, refs []fact.Reference) ([]fact.Envelope, error)

	// Read evaluates spec rooted at starts and returns projected results.
	Read(ctx context.Context, starts query.Tuple, spec *specification.Specification) ([]any, error)

	// Feed is the cursored evaluation of a single skeleton feed.
	Feed(ctx context.Context, spec *specification.Specification, label string, starts query.Tuple, bookmark string) (FeedResult, error)

	// MRUDate / SetMRUDate track the most-recent-use timestamp for a
	// specification hash. No component in this module reads them; the
	// Network Manager's periodic refresh runs on a fixed interval.
	MRUDate(ctx context.Context, specHash string) (*time.Time, error)
	SetMRUDate(ctx context.Context, specHash string, t time.Time) error

	// RegisterPurgeCondition validates and registers cond. It rejects
	// conditions whose matches contain any ExistentialCondition.
	RegisterPurgeCondition(cond PurgeCondition) error

	// Purge removes every fact reachable from roots via a registered
	// purge condition's matches (the matched descendants only, not
	// roots themselves unless also matched).
	Purge(ctx context.Context, roots []fact.Reference) error

	// PurgeDescendants is Purge restricted to a single already-validated
	// condition, used by callers that pre-select which condition
	// applies.
	PurgeDescendants(ctx context.Context, roots []fact.Reference, cond PurgeCondition) error
}
