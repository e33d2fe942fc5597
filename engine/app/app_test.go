package app

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/logbotai/logbot/engine/domain"
	"github.com/logbotai/logbot/engine/enginetest"
	"github.com/logbotai/logbot/engine/semantic"
	"github.com/logbotai/logbot/pkg/config"
	"github.com/logbotai/logbot/pkg/metrics"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestWireIngestThenRetrieve(t *testing.T) {
	cfg := config.Default()
	cfg.Retrieval.Threshold = 0.1
	reg := metrics.New()
	s := &Stack{}
	if err := s.Wire(cfg, semantic.NewMemoryStore(), enginetest.NewFakeEmbedder(), quietLogger(), reg); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	results := s.Pipeline.IngestMultiple(ctx, []domain.Document{
		{Text: "1. Ekonomi\nBudgeten för fasaden godkändes.", Filename: "a.docx"},
	}, "S1")
	if !results[0].OK() {
		t.Fatalf("ingest failed: %+v", results[0])
	}
	passages, err := s.Retriever.Retrieve(ctx, "budgeten för fasaden", "S1")
	if err != nil {
		t.Fatal(err)
	}
	if len(passages) != 1 || passages[0].Source != "a.docx" {
		t.Fatalf("unexpected passages %+v", passages)
	}
	if err := s.Ready(ctx); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reg.Render(), "logbot_dependency_calls_total") {
		t.Fatal("guarded calls were not recorded")
	}
}

func TestWireRejectsUnknownChunker(t *testing.T) {
	cfg := config.Default()
	cfg.Chunker.Strategy = "paragraph"
	s := &Stack{}
	if err := s.Wire(cfg, semantic.NewMemoryStore(), enginetest.NewFakeEmbedder(), nil, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestBuildMemoryBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = "memory"
	s, err := Build(context.Background(), cfg, quietLogger(), metrics.New())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.Pipeline == nil || s.Retriever == nil || s.RAG == nil {
		t.Fatal("stack not fully wired")
	}
}
