package stages

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/wirebotio/wirebot/internal/adapter"
	"github.com/wirebotio/wirebot/internal/event"
	"github.com/wirebotio/wirebot/internal/message"
	"github.com/wirebotio/wirebot/internal/pipeline"
	"github.com/wirebotio/wirebot/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAdapter records replies and chunks; streaming is switchable.
type fakeAdapter struct {
	streaming bool

	mu      sync.Mutex
	replies []string
	chunks  []string
	finals  []bool
}

func (f *fakeAdapter) Name() string                                  { return "fake" }
func (f *fakeAdapter) RegisterListener(event.Kind, adapter.Listener) {}
func (f *fakeAdapter) StreamOutputSupported() bool                   { return f.streaming }
func (f *fakeAdapter) Run(ctx context.Context) error                 { <-ctx.Done(); return nil }
func (f *fakeAdapter) Kill(context.Context) error                    { return nil }

func (f *fakeAdapter) ReplyMessage(_ context.Context, _ *event.Event, chain message.Chain, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, chain.PlainText())
	return nil
}

func (f *fakeAdapter) ReplyMessageChunk(_ context.Context, _ *event.Event, _ adapter.MessageMeta, chain message.Chain, _ bool, isFinal bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chain.PlainText())
	f.finals = append(f.finals, isFinal)
	return nil
}

func (f *fakeAdapter) SendMessage(context.Context, adapter.TargetType, string, message.Chain) error {
	return nil
}

func groupQuery(cfg pipeline.Config, chain message.Chain) *pipeline.Query {
	return &pipeline.Query{
		ID:           "q1",
		BotUUID:      "b1",
		LauncherType: "group",
		LauncherID:   "g1",
		SenderID:     "u1",
		MessageEvent: &event.Event{
			Kind:   event.KindGroup,
			Sender: event.Sender{ID: "u1", GroupID: "g1"},
			Chain:  chain,
		},
		MessageChain:   chain.Copy(),
		PipelineConfig: cfg,
		Variables:      map[string]any{},
		Session:        &session.Session{Key: "group_g1"},
	}
}

func personQuery(cfg pipeline.Config, chain message.Chain) *pipeline.Query {
	q := groupQuery(cfg, chain)
	q.LauncherType = "person"
	q.LauncherID = "u1"
	q.MessageEvent.Kind = event.KindFriend
	q.MessageEvent.Sender.GroupID = ""
	q.Session = &session.Session{Key: "person_u1"}
	return q
}
