// Package natsutil provides typed NATS publish/serve/request helpers
// with OpenTelemetry trace propagation.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// HeaderError carries a handler failure on replies and dead letters.
const HeaderError = "Logbot-Error"

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// MsgPublisher is the subset of *nats.Conn used to emit messages.
type MsgPublisher interface {
	PublishMsg(*nats.Msg) error
}

func encode[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: encode %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return msg, nil
}

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers.
func Publish[T any](ctx context.Context, nc MsgPublisher, subject string, v T) error {
	msg, err := encode(ctx, subject, v)
	if err != nil {
		return err
	}
	if err := nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("natsutil: publish %s: %w", subject, err)
	}
	return nil
}

// ServeOpts configures Serve.
type ServeOpts struct {
	// DeadLetter receives messages that fail to decode or whose handler
	// returns an error. Empty disables dead-lettering.
	DeadLetter string
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Serve joins queue on subject and answers each request with the handler's
// response. Replies are only sent when the message carries a reply subject,
// so the same worker serves fire-and-forget publishes and Requests.
func Serve[Req, Resp any](nc *nats.Conn, subject, queue string, handler func(context.Context, Req) (Resp, error), opts ServeOpts) (*nats.Subscription, error) {
	return nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handle(nc, msg, handler, opts)
	})
}

func handle[Req, Resp any](nc MsgPublisher, msg *nats.Msg, handler func(context.Context, Req) (Resp, error), opts ServeOpts) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var req Req
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		log.Warn("natsutil: malformed message", "subject", msg.Subject, "err", err)
		fail(nc, msg, err, opts, log)
		return
	}

	resp, err := handler(ctx, req)
	if err != nil {
		log.Error("natsutil: handler failed", "subject", msg.Subject, "err", err)
		fail(nc, msg, err, opts, log)
		return
	}
	if msg.Reply == "" {
		return
	}
	out, err := encode(ctx, msg.Reply, resp)
	if err != nil {
		log.Error("natsutil: encode reply", "subject", msg.Subject, "err", err)
		return
	}
	if err := nc.PublishMsg(out); err != nil {
		log.Error("natsutil: reply", "subject", msg.Subject, "err", err)
	}
}

func fail(nc MsgPublisher, msg *nats.Msg, cause error, opts ServeOpts, log *slog.Logger) {
	if msg.Reply != "" {
		reply := &nats.Msg{Subject: msg.Reply, Header: nats.Header{}}
		reply.Header.Set(HeaderError, cause.Error())
		if err := nc.PublishMsg(reply); err != nil {
			log.Error("natsutil: error reply", "subject", msg.Subject, "err", err)
		}
	}
	if opts.DeadLetter == "" {
		return
	}
	dl := &nats.Msg{Subject: opts.DeadLetter, Data: msg.Data, Header: nats.Header{}}
	for k, v := range msg.Header {
		dl.Header[k] = v
	}
	dl.Header.Set(HeaderError, cause.Error())
	dl.Header.Set("Logbot-Subject", msg.Subject)
	if err := nc.PublishMsg(dl); err != nil {
		log.Error("natsutil: dead letter", "subject", opts.DeadLetter, "err", err)
	}
}

// Request sends a JSON-encoded request and decodes the response. The wait
// is bounded by ctx.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (Resp, error) {
	var zero Resp
	msg, err := encode(ctx, subject, req)
	if err != nil {
		return zero, err
	}
	resp, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return zero, fmt.Errorf("natsutil: request %s: %w", subject, err)
	}
	if e := resp.Header.Get(HeaderError); e != "" {
		return zero, fmt.Errorf("natsutil: request %s: remote: %s", subject, e)
	}
	var result Resp
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return zero, fmt.Errorf("natsutil: decode %s reply: %w", subject, err)
	}
	return result, nil
}
