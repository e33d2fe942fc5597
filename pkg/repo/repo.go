// Package repo is a small generic repository over Neo4j nodes keyed by a
// unique id property.
package repo

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Result is the minimal interface needed from a neo4j result.
type Result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// Runner is the minimal interface needed from a neo4j session.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (Result, error)
	Close(ctx context.Context) error
}

// Neo4jRepo maps values of T to nodes carrying one label.
type Neo4jRepo[T any] struct {
	label      string
	idKey      string
	toMap      func(T) map[string]any
	fromRecord func(*neo4j.Record) (T, error)
	newSession func(ctx context.Context) Runner
}

// Option configures a Neo4jRepo.
type Option[T any] func(*Neo4jRepo[T])

// WithSessions replaces the session factory.
func WithSessions[T any](f func(ctx context.Context) Runner) Option[T] {
	return func(r *Neo4jRepo[T]) { r.newSession = f }
}

// NewNeo4jRepo creates a repository for nodes labelled label. A nil driver
// requires WithSessions.
func NewNeo4jRepo[T any](
	driver neo4j.DriverWithContext,
	label string,
	toMap func(T) map[string]any,
	fromRecord func(*neo4j.Record) (T, error),
	opts ...Option[T],
) *Neo4jRepo[T] {
	r := &Neo4jRepo[T]{
		label:      label,
		idKey:      "id",
		toMap:      toMap,
		fromRecord: fromRecord,
	}
	if driver != nil {
		r.newSession = func(ctx context.Context) Runner {
			return &sessionAdapter{sess: driver.NewSession(ctx, neo4j.SessionConfig{})}
		}
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// sessionAdapter adapts neo4j.SessionWithContext to Runner.
type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

// EnsureConstraint creates the uniqueness constraint on the id property.
func (r *Neo4jRepo[T]) EnsureConstraint(ctx context.Context) error {
	sess := r.newSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf("CREATE CONSTRAINT %s_%s IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE",
		r.label, r.idKey, r.label, r.idKey)
	if _, err := sess.Run(ctx, cypher, nil); err != nil {
		return fmt.Errorf("repo: constraint %s.%s: %w", r.label, r.idKey, err)
	}
	return nil
}

// Merge creates the node or overwrites its properties. Properties mapped to
// nil are removed.
func (r *Neo4jRepo[T]) Merge(ctx context.Context, entity T) error {
	sess := r.newSession(ctx)
	defer sess.Close(ctx)

	props := r.toMap(entity)
	cypher := fmt.Sprintf("MERGE (n:%s {%s: $id}) SET n += $props", r.label, r.idKey)
	res, err := sess.Run(ctx, cypher, map[string]any{"id": props[r.idKey], "props": props})
	if err != nil {
		return fmt.Errorf("repo: merge %s: %w", r.label, err)
	}
	// drain so server-side errors surface
	for res.Next(ctx) {
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("repo: merge %s: %w", r.label, err)
	}
	return nil
}

// Query runs cypher, which must return nodes as n, and decodes every row.
func (r *Neo4jRepo[T]) Query(ctx context.Context, cypher string, params map[string]any) ([]T, error) {
	var items []T
	err := r.Each(ctx, cypher, params, func(rec *neo4j.Record) error {
		item, err := r.fromRecord(rec)
		if err != nil {
			return fmt.Errorf("repo: decode %s: %w", r.label, err)
		}
		items = append(items, item)
		return nil
	})
	return items, err
}

// Each runs cypher and calls fn for every row until fn fails.
func (r *Neo4jRepo[T]) Each(ctx context.Context, cypher string, params map[string]any, fn func(*neo4j.Record) error) error {
	sess := r.newSession(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return fmt.Errorf("repo: query %s: %w", r.label, err)
	}
	for res.Next(ctx) {
		if err := fn(res.Record()); err != nil {
			return err
		}
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("repo: query %s: %w", r.label, err)
	}
	return nil
}
