package runner

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/wirebotio/wirebot/internal/message"
	"github.com/wirebotio/wirebot/internal/pipeline"
	"github.com/wirebotio/wirebot/internal/session"
)

func TestBuildMessages(t *testing.T) {
	t.Parallel()

	cfg := pipeline.AIConfig{Model: "gpt-4o", SystemPrompt: "be brief"}
	r, err := NewOpenAI(cfg)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	o := r.(*OpenAI)

	sess := &session.Session{Key: "person_u1"}
	sess.Append("user", "earlier question")
	sess.Append("assistant", "earlier answer")

	q := &pipeline.Query{
		MessageChain: message.Of(message.Text{Text: "current question"}),
		Session:      sess,
	}

	msgs := o.buildMessages(q)
	if len(msgs) != 4 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Role != openai.ChatMessageRoleSystem || msgs[0].Content != "be brief" {
		t.Fatalf("system message = %+v", msgs[0])
	}
	if msgs[1].Content != "earlier question" || msgs[2].Content != "earlier answer" {
		t.Fatalf("history = %+v", msgs[1:3])
	}
	last := msgs[len(msgs)-1]
	if last.Role != openai.ChatMessageRoleUser || last.Content != "current question" {
		t.Fatalf("user turn = %+v", last)
	}
}

func TestBuildMessagesWithoutSystemPrompt(t *testing.T) {
	t.Parallel()

	r, err := NewOpenAI(pipeline.AIConfig{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	o := r.(*OpenAI)

	q := &pipeline.Query{
		MessageChain: message.Of(message.Text{Text: "hi"}),
		Session:      &session.Session{Key: "person_u1"},
	}
	msgs := o.buildMessages(q)
	if len(msgs) != 1 || msgs[0].Role != openai.ChatMessageRoleUser {
		t.Fatalf("messages = %+v", msgs)
	}
}
