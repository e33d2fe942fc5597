package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/logbotai/logbot/engine/domain"
	"github.com/logbotai/logbot/engine/extract"
	"github.com/logbotai/logbot/engine/ingest"
	"github.com/logbotai/logbot/engine/rag"
	"github.com/logbotai/logbot/engine/session"
	"github.com/logbotai/logbot/pkg/fn"
	"github.com/logbotai/logbot/pkg/metrics"
)

type ingester interface {
	IngestMultiple(ctx context.Context, docs []domain.Document, sessionID string) []domain.IngestResult
}

type asker interface {
	Ask(ctx context.Context, question, sessionID string, emit func(rag.Event) error) error
}

type server struct {
	ingest    ingester
	submit    ingest.SubmitFunc // set in nats mode
	workers   int               // concurrent worker requests per upload
	rag       asker
	store     domain.Store
	ready     func(context.Context) error
	maxUpload int64
	log       *slog.Logger
	now       func() time.Time
}

func (s *server) routes(reg *metrics.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/sessions", s.handleNewSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSession)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("POST /api/ask", s.handleAsk)
	if reg != nil {
		mux.Handle("GET /metrics", reg.Handler())
	}
	return mux
}

// --- Handlers ---

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleNewSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": session.NewID()})
}

func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	info, err := session.Inspect(r.Context(), s.store, r.PathValue("id"), s.now())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// UploadResponse is the JSON response for POST /api/upload.
type UploadResponse struct {
	SessionID string                `json:"session_id"`
	Results   []domain.IngestResult `json:"results"`
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files uploaded")
		return
	}
	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		sessionID = session.NewID()
	} else if err := domain.ValidateSessionID(sessionID); err != nil {
		s.fail(w, err)
		return
	}

	results := make([]domain.IngestResult, len(files))
	var (
		docs []domain.Document
		pos  []int
	)
	for i, fh := range files {
		doc, err := readUpload(fh)
		if err != nil {
			results[i] = domain.IngestResult{Status: domain.StatusError, Filename: fh.Filename, Message: err.Error()}
			continue
		}
		docs = append(docs, doc)
		pos = append(pos, i)
	}

	if len(docs) > 0 {
		for j, res := range s.ingestDocs(r.Context(), docs, sessionID) {
			results[pos[j]] = res
		}
	}
	writeJSON(w, http.StatusOK, UploadResponse{SessionID: sessionID, Results: results})
}

func readUpload(fh *multipart.FileHeader) (domain.Document, error) {
	f, err := fh.Open()
	if err != nil {
		return domain.Document{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return domain.Document{}, fmt.Errorf("read upload: %w", err)
	}
	return extract.Extract(fh.Filename, data)
}

// ingestDocs runs the local pipeline, or sends each document to a worker
// when one is configured. Either way a failed document only fails itself.
func (s *server) ingestDocs(ctx context.Context, docs []domain.Document, sessionID string) []domain.IngestResult {
	if s.submit == nil {
		return s.ingest.IngestMultiple(ctx, docs, sessionID)
	}
	results := ingest.Dispatch(ctx, s.submit, docs, sessionID, s.workers)
	failed := fn.Filter(results, func(r domain.IngestResult) bool { return !r.OK() })
	for _, res := range failed {
		s.log.Warn("upload: worker ingest failed", "session_id", sessionID, "filename", res.Filename, "msg", res.Message)
	}
	return results
}

// AskRequest is the JSON body for POST /api/ask.
type AskRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

func (s *server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := domain.ValidateQuestion(req.Question); err != nil {
		s.fail(w, err)
		return
	}
	if err := domain.ValidateSessionID(req.SessionID); err != nil {
		s.fail(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	emit := func(e rag.Event) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	err := s.rag.Ask(r.Context(), req.Question, req.SessionID, emit)
	if err == nil || r.Context().Err() != nil {
		return
	}
	s.log.Error("ask failed", "session_id", req.SessionID, "err", err)
	msg := "answer failed"
	if domain.IsDependency(err) {
		msg = "a backing service is unavailable"
	}
	_ = emit(rag.Event{Type: "error", Content: msg})
}

// --- Helpers ---

func (s *server) fail(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case domain.IsDependency(err):
		s.log.Error("dependency failure", "err", err)
		writeError(w, http.StatusBadGateway, "a backing service is unavailable")
	default:
		s.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
