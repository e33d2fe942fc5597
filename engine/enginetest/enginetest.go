// Package enginetest provides deterministic test doubles for the engine
// ports.
package enginetest

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/logbotai/logbot/engine/domain"
)

// DefaultDim is the dimensionality of FakeEmbedder vectors.
const DefaultDim = 256

// ErrInjected is returned by fakes configured to fail.
var ErrInjected = errors.New("enginetest: injected failure")

// FakeEmbedder is a hashing bag-of-words embedder: each lower-cased word
// increments one of Dim buckets. Texts sharing words have positive cosine
// similarity; texts with disjoint vocabularies are orthogonal unless their
// words collide.
type FakeEmbedder struct {
	Dim int
	// Overrides maps an exact text to a fixed vector.
	Overrides map[string][]float32
	// FailOn makes Embed and EmbedBatch fail when it returns true for any text.
	FailOn func(text string) bool

	calls atomic.Int64
}

// NewFakeEmbedder returns a FakeEmbedder with DefaultDim buckets.
func NewFakeEmbedder() *FakeEmbedder {
	return &FakeEmbedder{Dim: DefaultDim}
}

// Calls returns the number of texts embedded so far.
func (f *FakeEmbedder) Calls() int64 { return f.calls.Load() }

// Embed implements domain.Embedder.
func (f *FakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.FailOn != nil && f.FailOn(text) {
		return nil, ErrInjected
	}
	f.calls.Add(1)
	if v, ok := f.Overrides[text]; ok {
		return append([]float32(nil), v...), nil
	}
	return f.hash(text), nil
}

// EmbedBatch implements domain.Embedder.
func (f *FakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *FakeEmbedder) hash(text string) []float32 {
	dim := f.Dim
	if dim <= 0 {
		dim = DefaultDim
	}
	v := make([]float32, dim)
	for _, w := range Words(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(dim)]++
	}
	return v
}

// Words lower-cases text and splits it on anything that is not a letter or
// digit.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// RecordingStore is an in-memory domain.Store that records every call.
type RecordingStore struct {
	mu      sync.Mutex
	records map[string]domain.ChunkRecord
	order   []string

	// FailUpsert makes Upsert fail for matching records.
	FailUpsert func(domain.ChunkRecord) bool
	// ScanErr is returned by Scan when set.
	ScanErr error

	Upserts int
	Scans   int
}

// NewRecordingStore returns an empty RecordingStore.
func NewRecordingStore() *RecordingStore {
	return &RecordingStore{records: make(map[string]domain.ChunkRecord)}
}

// Upsert implements domain.Store.
func (s *RecordingStore) Upsert(ctx context.Context, rec domain.ChunkRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Upserts++
	if s.FailUpsert != nil && s.FailUpsert(rec) {
		return ErrInjected
	}
	if _, ok := s.records[rec.ID]; !ok {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = rec
	return nil
}

// Scan implements domain.Store, filtering by session and expiry.
func (s *RecordingStore) Scan(ctx context.Context, sessionID string, now time.Time) ([]domain.ChunkRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Scans++
	if s.ScanErr != nil {
		return nil, s.ScanErr
	}
	var out []domain.ChunkRecord
	for _, id := range s.order {
		r := s.records[id]
		if r.SessionID == sessionID && r.ActiveAt(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Put stores rec directly, bypassing counters and failure hooks.
func (s *RecordingStore) Put(rec domain.ChunkRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = rec
}

// Len returns the number of stored records, expired ones included.
func (s *RecordingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// All returns every stored record in insertion order, expired ones included.
func (s *RecordingStore) All() []domain.ChunkRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChunkRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out
}
