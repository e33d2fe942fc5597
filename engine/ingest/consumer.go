package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/logbotai/logbot/engine/domain"
	"github.com/logbotai/logbot/pkg/fn"
	"github.com/logbotai/logbot/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

const (
	// Subject carries IngestRequests.
	Subject = "logbot.ingest"
	// ResultSubject receives an IngestResponse for every handled request.
	ResultSubject = "logbot.ingest.result"
	// DLQSubject receives requests that could not be handled at all.
	DLQSubject = "logbot.ingest.dlq"
	// DefaultQueue is the worker queue group.
	DefaultQueue = "logbot-ingest"
)

// IngestRequest asks a worker to ingest documents into a session.
type IngestRequest struct {
	SessionID string            `json:"session_id"`
	Documents []domain.Document `json:"documents"`
}

// IngestResponse reports per-document outcomes in request order.
type IngestResponse struct {
	SessionID string                `json:"session_id"`
	Results   []domain.IngestResult `json:"results"`
}

// ConsumerOpts configures StartConsumer.
type ConsumerOpts struct {
	Queue   string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Handler returns the request handler run by the worker. A request with an
// invalid session id is rejected as a whole; per-document failures are
// reported in the response. Every response is also published on
// ResultSubject.
func (p *Pipeline) Handler(pub natsutil.MsgPublisher) func(context.Context, IngestRequest) (IngestResponse, error) {
	return func(ctx context.Context, req IngestRequest) (IngestResponse, error) {
		if err := domain.ValidateSessionID(req.SessionID); err != nil {
			return IngestResponse{}, err
		}
		resp := IngestResponse{
			SessionID: req.SessionID,
			Results:   p.IngestMultiple(ctx, req.Documents, req.SessionID),
		}
		if err := natsutil.Publish(ctx, pub, ResultSubject, resp); err != nil {
			p.log.Warn("ingest: publish result", "session_id", req.SessionID, "err", err)
		}
		return resp, nil
	}
}

// StartConsumer joins the worker queue on Subject. Rejected requests go to
// DLQSubject.
func StartConsumer(nc *nats.Conn, p *Pipeline, opts ConsumerOpts) (*nats.Subscription, error) {
	if opts.Queue == "" {
		opts.Queue = DefaultQueue
	}
	if opts.Logger == nil {
		opts.Logger = p.log
	}
	return natsutil.Serve(nc, Subject, opts.Queue, p.Handler(nc), natsutil.ServeOpts{
		DeadLetter: DLQSubject,
		Timeout:    opts.Timeout,
		Logger:     opts.Logger,
	})
}

// Submit sends req to a worker and waits for its response.
func Submit(ctx context.Context, nc *nats.Conn, req IngestRequest) (IngestResponse, error) {
	return natsutil.Request[IngestRequest, IngestResponse](ctx, nc, Subject, req)
}

// SubmitFunc sends one request to a worker.
type SubmitFunc func(context.Context, IngestRequest) (IngestResponse, error)

// Dispatch sends every document to a worker in its own request, at most
// workers at a time. A request that fails (too large for the connection, no
// worker, timeout) fails only its own document. Results are in input order.
func Dispatch(ctx context.Context, submit SubmitFunc, docs []domain.Document, sessionID string, workers int) []domain.IngestResult {
	return fn.ParMap(docs, workers, func(doc domain.Document) domain.IngestResult {
		resp, err := submit(ctx, IngestRequest{SessionID: sessionID, Documents: []domain.Document{doc}})
		if err == nil && len(resp.Results) != 1 {
			err = fmt.Errorf("worker returned %d results for one document", len(resp.Results))
		}
		if err != nil {
			return domain.IngestResult{Status: domain.StatusError, Filename: doc.Filename, Message: submitMessage(err)}
		}
		return resp.Results[0]
	})
}

func submitMessage(err error) string {
	switch {
	case errors.Is(err, nats.ErrMaxPayload):
		return "document too large for the ingest queue"
	case errors.Is(err, nats.ErrNoResponders):
		return "no ingest worker available"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
		return "ingest worker timed out"
	default:
		return "ingest worker failed: " + err.Error()
	}
}
