package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestTraceHookLiftsHeader(t *testing.T) {
	msg := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc-123")}}}

	ctx, _, _, err := TraceHook{}.BeforeHandle(context.Background(), "signals", msg, nil)
	if err != nil {
		t.Fatalf("before: %v", err)
	}
	if got := TraceIDFrom(ctx); got != "abc-123" {
		t.Fatalf("trace id = %q, want abc-123", got)
	}

	ctx, _, _, _ = TraceHook{}.BeforeHandle(context.Background(), "signals", kafka.Message{}, nil)
	if got := TraceIDFrom(ctx); got != "" {
		t.Fatalf("missing header must leave the context empty, got %q", got)
	}
}

type recordingHook struct {
	NoopHook
	before int
	errs   int
}

func (h *recordingHook) BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	h.before++
	return ctx, km, data, nil
}

func (h *recordingHook) OnError(ctx context.Context, topic string, km kafka.Message, data []byte, err error) {
	h.errs++
}

type failingHook struct {
	NoopHook
	err error
}

func (h *failingHook) BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
	if h.err != nil {
		return ctx, km, data, h.err
	}
	panic("hook exploded")
}

func TestHookChainThreadsBefore(t *testing.T) {
	a := &recordingHook{}
	b := &recordingHook{}
	chain := NewHookChain(a, nil, b)

	_, _, _, err := chain.BeforeHandle(context.Background(), "signals", kafka.Message{}, nil)
	if err != nil {
		t.Fatalf("before: %v", err)
	}
	if a.before != 1 || b.before != 1 {
		t.Fatalf("every hook must run, got %d/%d", a.before, b.before)
	}
}

func TestHookChainBeforeErrorNotifiesAll(t *testing.T) {
	a := &recordingHook{}
	chain := NewHookChain(a, &failingHook{err: errors.New("reject")})

	_, _, _, err := chain.BeforeHandle(context.Background(), "signals", kafka.Message{}, nil)
	if err == nil {
		t.Fatalf("chain must surface the hook error")
	}
	if a.errs != 1 {
		t.Fatalf("all hooks must see the error, got %d", a.errs)
	}
}

func TestHookChainContainsPanickingHook(t *testing.T) {
	chain := NewHookChain(&failingHook{})

	_, _, _, err := chain.BeforeHandle(context.Background(), "signals", kafka.Message{}, nil)
	if err == nil {
		t.Fatalf("panicking hook must turn into an error, not crash the consumer")
	}
}
