package adapter

import (
	"context"
	"testing"

	"github.com/wirebotio/wirebot/internal/event"
	"github.com/wirebotio/wirebot/internal/message"
)

type stubAdapter struct {
	name string
}

func (s *stubAdapter) Name() string                               { return s.name }
func (s *stubAdapter) RegisterListener(event.Kind, Listener)      {}
func (s *stubAdapter) StreamOutputSupported() bool                { return false }
func (s *stubAdapter) Run(ctx context.Context) error              { <-ctx.Done(); return nil }
func (s *stubAdapter) Kill(context.Context) error                 { return nil }
func (s *stubAdapter) ReplyMessage(context.Context, *event.Event, message.Chain, bool) error {
	return nil
}
func (s *stubAdapter) ReplyMessageChunk(context.Context, *event.Event, MessageMeta, message.Chain, bool, bool) error {
	return nil
}
func (s *stubAdapter) SendMessage(context.Context, TargetType, string, message.Chain) error {
	return nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := r.Register(&stubAdapter{name: "WeComBot"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Lookup is case-insensitive.
	if _, ok := r.Get("wecombot"); !ok {
		t.Fatalf("lowercase lookup failed")
	}
	if _, ok := r.Get(" WECOMBOT "); !ok {
		t.Fatalf("normalized lookup failed")
	}
	if _, ok := r.Get("telegram"); ok {
		t.Fatalf("unknown adapter resolved")
	}
}

func TestRegistryRejectsDuplicatesAndNil(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if err := r.Register(&stubAdapter{name: "discord"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(&stubAdapter{name: "Discord"}); err == nil {
		t.Fatalf("duplicate registration accepted")
	}
	if err := r.Register(nil); err == nil {
		t.Fatalf("nil adapter accepted")
	}
	if err := r.Register(&stubAdapter{name: "  "}); err == nil {
		t.Fatalf("empty name accepted")
	}
}

func TestRegistryList(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.MustRegister(&stubAdapter{name: "a"})
	r.MustRegister(&stubAdapter{name: "b"})
	if got := len(r.List()); got != 2 {
		t.Fatalf("List len = %d", got)
	}
}

func TestListenersEmitByKind(t *testing.T) {
	t.Parallel()

	var l Listeners
	var friends, groups int
	l.Register(event.KindFriend, func(context.Context, *event.Event) { friends++ })
	l.Register(event.KindFriend, func(context.Context, *event.Event) { friends++ })
	l.Register(event.KindGroup, func(context.Context, *event.Event) { groups++ })
	l.Register(event.KindGroup, nil)

	l.Emit(context.Background(), &event.Event{Kind: event.KindFriend})
	if friends != 2 || groups != 0 {
		t.Fatalf("friend emit: friends=%d groups=%d", friends, groups)
	}
	l.Emit(context.Background(), &event.Event{Kind: event.KindGroup})
	if groups != 1 {
		t.Fatalf("group emit: groups=%d", groups)
	}
}
