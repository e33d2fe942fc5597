// Package rag answers questions about a session's meeting protocols. It
// retrieves passages, builds the LogBot prompt and streams the model's answer
// as events.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/logbotai/logbot/engine/domain"
	"github.com/logbotai/logbot/pkg/fn"
	"github.com/logbotai/logbot/pkg/ollama"
)

// Event types, in the order they are emitted.
const (
	EventSources    = "sources"
	EventToken      = "token"
	EventNoEvidence = "no_evidence"
	EventDone       = "done"
)

// Event is one step of a streamed answer.
type Event struct {
	Type    string   `json:"type"`
	Content string   `json:"content,omitempty"`
	Sources []string `json:"sources,omitempty"`
}

// Retriever finds passages for a question.
type Retriever interface {
	Retrieve(ctx context.Context, question, sessionID string) ([]domain.Passage, error)
}

// Synthesizer streams a chat completion.
type Synthesizer interface {
	Stream(ctx context.Context, messages []ollama.Message, onToken func(string) error) error
}

// NoEvidenceMessage is sent when the session holds nothing relevant.
const NoEvidenceMessage = "Jag hittar inget i de uppladdade protokollen som besvarar frågan."

// Service is the answer orchestration service.
type Service struct {
	retriever Retriever
	chat      Synthesizer
	logger    *slog.Logger
}

// New creates a Service.
func New(retriever Retriever, chat Synthesizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{retriever: retriever, chat: chat, logger: logger}
}

// Ask retrieves passages for question and streams the answer through emit:
// one sources event, then tokens, then done. Without evidence it emits
// no_evidence and done and never calls the model. An emit error or a
// cancelled ctx stops the stream.
func (s *Service) Ask(ctx context.Context, question, sessionID string, emit func(Event) error) error {
	start := time.Now()
	passages, err := s.retriever.Retrieve(ctx, question, sessionID)
	if err != nil {
		return fmt.Errorf("rag: retrieve: %w", err)
	}
	if len(passages) == 0 {
		if err := emit(Event{Type: EventNoEvidence, Content: NoEvidenceMessage}); err != nil {
			return err
		}
		return emit(Event{Type: EventDone})
	}

	if err := emit(Event{Type: EventSources, Sources: sources(passages)}); err != nil {
		return err
	}

	messages := []ollama.Message{{Role: "user", Content: BuildPrompt(question, passages)}}
	tokens := 0
	err = s.chat.Stream(ctx, messages, func(tok string) error {
		tokens++
		return emit(Event{Type: EventToken, Content: tok})
	})
	if err != nil {
		return fmt.Errorf("rag: synthesize: %w", err)
	}
	s.logger.Info("rag: answered", "session_id", sessionID,
		"passages", len(passages), "tokens", tokens, "duration", time.Since(start))
	return emit(Event{Type: EventDone})
}

// sources lists the distinct source files in passage order.
func sources(passages []domain.Passage) []string {
	seen := make(map[string]bool, len(passages))
	var out []string
	for _, p := range passages {
		if !seen[p.Source] {
			seen[p.Source] = true
			out = append(out, p.Source)
		}
	}
	return out
}

// BuildPrompt renders the LogBot prompt around the tagged passages.
func BuildPrompt(question string, passages []domain.Passage) string {
	parts := fn.Map(passages, func(p domain.Passage) string { return p.Content })
	var b strings.Builder
	b.WriteString(promptRole)
	b.WriteString("\n<context>\n")
	b.WriteString(strings.Join(parts, "\n\n"))
	b.WriteString("\n</context>\n")
	b.WriteString(promptInstructions)
	b.WriteString("\n<user_question>\n")
	b.WriteString(question)
	b.WriteString("\n</user_question>\n")
	b.WriteString(promptOutput)
	return b.String()
}

const promptRole = `<role>
You are LogBot, an assistant for reading meeting protocols. Answer only from
the context below. Every passage is wrapped in <document source="filename">
so you can tell which protocol it came from.
</role>`

const promptInstructions = `<instructions>
- Read every passage and note which document it comes from.
- Follow how matters develop from one meeting to the next.
- Point out when documents disagree or when a later meeting changes a decision.
- Say so if the context is incomplete.
</instructions>`

const promptOutput = `<output_format>
- Be concrete and friendly.
- Refer to meetings by the dates written in the documents, for example
  "Enligt protokollet från 12 mars ..." or "På mötet den 19 mars ...".
- Do not assume the last passage is the latest meeting; use the dates.
- If the question cannot be answered from the context, say so and explain why.
- Always answer in Swedish.
</output_format>`
