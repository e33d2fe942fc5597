// Package app assembles the engine from configuration. Both binaries build
// their components here so that the API and the ingest worker agree on
// store, embedder and chunker settings.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/logbotai/logbot/engine/adapter"
	"github.com/logbotai/logbot/engine/chunker"
	"github.com/logbotai/logbot/engine/domain"
	"github.com/logbotai/logbot/engine/graph"
	"github.com/logbotai/logbot/engine/ingest"
	"github.com/logbotai/logbot/engine/rag"
	"github.com/logbotai/logbot/engine/retrieval"
	"github.com/logbotai/logbot/engine/semantic"
	"github.com/logbotai/logbot/pkg/config"
	"github.com/logbotai/logbot/pkg/metrics"
	"github.com/logbotai/logbot/pkg/ollama"
	"github.com/logbotai/logbot/pkg/resilience"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Stack is the assembled engine.
type Stack struct {
	Embedder  domain.Embedder
	Store     domain.Store
	Pipeline  *ingest.Pipeline
	Retriever *retrieval.Retriever
	RAG       *rag.Service

	ready   func(context.Context) error
	closers []func()
}

// Ready checks the store backend.
func (s *Stack) Ready(ctx context.Context) error { return s.ready(ctx) }

// Close releases backend connections in reverse order of creation.
func (s *Stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Build connects the store backend and wires every component. The store is
// prepared (collection or constraint created) before Build returns.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger, reg *metrics.Registry) (*Stack, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Stack{}
	raw, err := s.openStore(ctx, cfg.Store, log)
	if err != nil {
		s.Close()
		return nil, err
	}
	emb := ollama.NewEmbedClient(cfg.Ollama.URL, cfg.Ollama.EmbedModel,
		ollama.WithLimiter(resilience.NewLimiter(resilience.LimiterOpts{
			Rate:  cfg.Ollama.EmbedRatePerSec,
			Burst: cfg.Ollama.EmbedBurst,
		})))
	if err := s.Wire(cfg, raw, emb, log, reg); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Wire builds the components over an already opened store and a raw
// embedder. Both are wrapped in the retry and breaker guard.
func (s *Stack) Wire(cfg config.Config, store domain.Store, emb domain.Embedder, log *slog.Logger, reg *metrics.Registry) error {
	if log == nil {
		log = slog.Default()
	}
	opts := adapter.DefaultOpts()
	opts.Metrics = reg
	opts.Logger = log

	s.Embedder = adapter.NewEmbedder(emb, opts)
	s.Store = adapter.NewStore(store, opts)
	if s.ready == nil {
		s.ready = func(context.Context) error { return nil }
	}

	splitter, err := chunker.New(chunker.Config{
		Strategy:   cfg.Chunker.Strategy,
		Percentile: cfg.Chunker.Percentile,
	}, s.Embedder)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	s.Pipeline = ingest.NewPipeline(ingest.Deps{
		Splitter: splitter,
		Embedder: s.Embedder,
		Store:    s.Store,
		Logger:   log,
		Metrics:  reg,
	}, ingest.Options{SessionTTL: cfg.Ingest.SessionTTL, Workers: cfg.Ingest.Workers})

	s.Retriever = retrieval.New(retrieval.Deps{
		Embedder: s.Embedder,
		Store:    s.Store,
		Logger:   log,
		Metrics:  reg,
	}, retrieval.Options{
		Threshold:      cfg.Retrieval.Threshold,
		CandidateLimit: cfg.Retrieval.CandidateLimit,
		K:              cfg.Retrieval.K,
		Lambda:         cfg.Retrieval.Lambda,
		RerankWidth:    cfg.Retrieval.RerankWidth,
	})

	chat := ollama.NewChatClient(cfg.Ollama.URL, cfg.Ollama.ChatModel, cfg.Ollama.Temperature)
	s.RAG = rag.New(s.Retriever, chat, log)
	return nil
}

func (s *Stack) openStore(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (domain.Store, error) {
	switch cfg.Backend {
	case "memory":
		m := semantic.NewMemoryStore()
		s.ready = m.Ready
		log.Warn("using in-memory store; data is lost on restart")
		return m, nil

	case "neo4j":
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return nil, fmt.Errorf("app: neo4j driver: %w", err)
		}
		s.closers = append(s.closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			driver.Close(ctx)
		})
		if err := driver.VerifyConnectivity(ctx); err != nil {
			return nil, fmt.Errorf("app: neo4j verify: %w", err)
		}
		cs := graph.New(driver)
		if err := cs.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		s.ready = cs.Ready
		log.Info("connected to Neo4j", "url", cfg.Neo4jURL)
		return cs, nil

	default:
		vs, err := semantic.New(cfg.QdrantURL, cfg.Collection)
		if err != nil {
			return nil, fmt.Errorf("app: qdrant connect: %w", err)
		}
		s.closers = append(s.closers, func() { vs.Close() })
		if err := vs.EnsureCollection(ctx, cfg.VectorSize); err != nil {
			return nil, fmt.Errorf("app: qdrant collection: %w", err)
		}
		s.ready = vs.Ready
		log.Info("connected to Qdrant", "collection", cfg.Collection, "dims", cfg.VectorSize)
		return vs, nil
	}
}
