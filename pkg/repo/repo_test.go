package repo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// --- Mock infrastructure ---

type mockResult struct {
	records []*neo4j.Record
	idx     int
	err     error
}

func (m *mockResult) Next(ctx context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record { return m.records[m.idx-1] }
func (m *mockResult) Err() error            { return m.err }

type mockRunner struct {
	result  *mockResult
	err     error
	cyphers []string
	params  []map[string]any
	closed  int
}

func (m *mockRunner) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	m.cyphers = append(m.cyphers, cypher)
	m.params = append(m.params, params)
	if m.err != nil {
		return nil, m.err
	}
	if m.result == nil {
		return &mockResult{}, nil
	}
	return m.result, nil
}

func (m *mockRunner) Close(ctx context.Context) error { m.closed++; return nil }

type entity struct {
	ID   string
	Name string
}

func makeRecord(id, name string) *neo4j.Record {
	return &neo4j.Record{
		Values: []any{map[string]any{"id": id, "name": name}},
		Keys:   []string{"n"},
	}
}

func newTestRepo(r *mockRunner) *Neo4jRepo[entity] {
	return NewNeo4jRepo[entity](
		nil, "Entity",
		func(e entity) map[string]any { return map[string]any{"id": e.ID, "name": e.Name} },
		func(rec *neo4j.Record) (entity, error) {
			m, ok := rec.Values[0].(map[string]any)
			if !ok {
				return entity{}, errors.New("bad type")
			}
			return entity{ID: m["id"].(string), Name: m["name"].(string)}, nil
		},
		WithSessions[entity](func(ctx context.Context) Runner { return r }),
	)
}

// --- Tests ---

func TestMerge(t *testing.T) {
	r := &mockRunner{}
	repo := newTestRepo(r)
	if err := repo.Merge(context.Background(), entity{ID: "e1", Name: "x"}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(r.cyphers[0], "MERGE (n:Entity {id: $id}) SET n += $props") {
		t.Fatalf("unexpected cypher %q", r.cyphers[0])
	}
	if r.params[0]["id"] != "e1" {
		t.Fatalf("unexpected params %v", r.params[0])
	}
	if r.closed != 1 {
		t.Fatal("session not closed")
	}
}

func TestMergeErrors(t *testing.T) {
	repo := newTestRepo(&mockRunner{err: errors.New("conn")})
	if err := repo.Merge(context.Background(), entity{ID: "e1"}); err == nil {
		t.Fatal("expected run error")
	}
	repo = newTestRepo(&mockRunner{result: &mockResult{err: errors.New("constraint")}})
	if err := repo.Merge(context.Background(), entity{ID: "e1"}); err == nil {
		t.Fatal("expected result error")
	}
}

func TestQueryDecodesRows(t *testing.T) {
	r := &mockRunner{result: &mockResult{records: []*neo4j.Record{makeRecord("a", "A"), makeRecord("b", "B")}}}
	items, err := newTestRepo(r).Query(context.Background(), "MATCH (n:Entity) RETURN n", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[1].Name != "B" {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestQueryDecodeError(t *testing.T) {
	bad := &neo4j.Record{Values: []any{42}, Keys: []string{"n"}}
	r := &mockRunner{result: &mockResult{records: []*neo4j.Record{bad}}}
	if _, err := newTestRepo(r).Query(context.Background(), "x", nil); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestEnsureConstraint(t *testing.T) {
	r := &mockRunner{}
	repo := NewNeo4jRepo[entity](nil, "Chunk", nil, nil,
		WithSessions[entity](func(ctx context.Context) Runner { return r }))
	if err := repo.EnsureConstraint(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := "CREATE CONSTRAINT Chunk_id IF NOT EXISTS FOR (n:Chunk) REQUIRE n.id IS UNIQUE"
	if r.cyphers[0] != want {
		t.Fatalf("got %q", r.cyphers[0])
	}
}

func TestSessionAdapterImplementsRunner(t *testing.T) {
	var _ Runner = (*sessionAdapter)(nil)
}

func TestEachStopsOnCallbackError(t *testing.T) {
	r := &mockRunner{result: &mockResult{records: []*neo4j.Record{makeRecord("a", "A"), makeRecord("b", "B")}}}
	stop := errors.New("stop")
	rows := 0
	err := newTestRepo(r).Each(context.Background(), "x", nil, func(*neo4j.Record) error {
		rows++
		return stop
	})
	if !errors.Is(err, stop) || rows != 1 {
		t.Fatalf("expected stop after first row, got %v after %d rows", err, rows)
	}
}

func TestEachResultError(t *testing.T) {
	r := &mockRunner{result: &mockResult{err: errors.New("tx aborted")}}
	if err := newTestRepo(r).Each(context.Background(), "x", nil, func(*neo4j.Record) error { return nil }); err == nil {
		t.Fatal("expected result error")
	}
}
