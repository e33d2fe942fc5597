//go:build integration

package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func natsURL() string {
	if v := os.Getenv("NATS_URL"); v != "" {
		return v
	}
	return nats.DefaultURL
}

func connectNATS(t *testing.T) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(natsURL())
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	t.Cleanup(func() { nc.Close() })
	return nc
}

func TestNATS_PubSub(t *testing.T) {
	nc := connectNATS(t)

	ch := make(chan testMsg, 1)
	sub, err := nc.Subscribe("integ.pubsub", func(msg *nats.Msg) {
		var m testMsg
		if json.Unmarshal(msg.Data, &m) == nil {
			ch <- m
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := Publish(context.Background(), nc, "integ.pubsub", testMsg{Name: "hello integration"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.Name != "hello integration" {
			t.Fatalf("expected 'hello integration', got %q", got.Name)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestNATS_ServeRequest(t *testing.T) {
	nc := connectNATS(t)

	sub, err := Serve(nc, "integ.serve", "workers", func(_ context.Context, m testMsg) (testMsg, error) {
		if m.Value < 0 {
			return testMsg{}, errors.New("negative")
		}
		return testMsg{Value: m.Value * 2}, nil
	}, ServeOpts{})
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := Request[testMsg, testMsg](ctx, nc, "integ.serve", testMsg{Value: 21})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if got.Value != 42 {
		t.Fatalf("expected 42, got %d", got.Value)
	}

	if _, err := Request[testMsg, testMsg](ctx, nc, "integ.serve", testMsg{Value: -1}); err == nil {
		t.Fatal("expected remote error")
	}
}
