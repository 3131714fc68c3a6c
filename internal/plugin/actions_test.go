package plugin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/wirebotio/wirebot/internal/adapter"
	"github.com/wirebotio/wirebot/internal/event"
	"github.com/wirebotio/wirebot/internal/message"
	"github.com/wirebotio/wirebot/internal/pipeline"
)

type replyRecorder struct {
	replies []string
}

func (r *replyRecorder) Name() string                                  { return "recorder" }
func (r *replyRecorder) RegisterListener(event.Kind, adapter.Listener) {}
func (r *replyRecorder) StreamOutputSupported() bool                   { return false }
func (r *replyRecorder) Run(ctx context.Context) error                 { <-ctx.Done(); return nil }
func (r *replyRecorder) Kill(context.Context) error                    { return nil }

func (r *replyRecorder) ReplyMessage(_ context.Context, _ *event.Event, chain message.Chain, _ bool) error {
	r.replies = append(r.replies, chain.PlainText())
	return nil
}

func (r *replyRecorder) ReplyMessageChunk(context.Context, *event.Event, adapter.MessageMeta, message.Chain, bool, bool) error {
	return nil
}

func (r *replyRecorder) SendMessage(context.Context, adapter.TargetType, string, message.Chain) error {
	return nil
}

func postAction(t *testing.T, e *echo.Echo, body map[string]string) actionResponse {
	t.Helper()
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/plugin/actions", strings.NewReader(string(payload)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("action status = %d", rec.Code)
	}
	var resp actionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func newActionsFixture(t *testing.T) (*echo.Echo, *pipeline.Pool, *replyRecorder) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := pipeline.NewPool()
	e := echo.New()
	NewActionsHandler(log, pool).Register(e)

	rec := &replyRecorder{}
	pool.Add(&pipeline.Query{
		ID:           "q1",
		MessageEvent: &event.Event{Kind: event.KindFriend, Sender: event.Sender{ID: "u1"}},
		Variables:    map[string]any{},
		Adapter:      rec,
	})
	return e, pool, rec
}

func TestActionsUnknownQuery(t *testing.T) {
	t.Parallel()

	e, _, _ := newActionsFixture(t)
	resp := postAction(t, e, map[string]string{"query_id": "nope", "action": "send_message", "content": "hi"})
	if resp.OK || resp.Error != "query not found" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestActionsSendMessage(t *testing.T) {
	t.Parallel()

	e, _, rec := newActionsFixture(t)
	resp := postAction(t, e, map[string]string{"query_id": "q1", "action": "send_message", "content": "from plugin"})
	if !resp.OK {
		t.Fatalf("response = %+v", resp)
	}
	if len(rec.replies) != 1 || rec.replies[0] != "from plugin" {
		t.Fatalf("replies = %v", rec.replies)
	}
}

func TestActionsSetVariable(t *testing.T) {
	t.Parallel()

	e, pool, _ := newActionsFixture(t)
	resp := postAction(t, e, map[string]string{"query_id": "q1", "action": "set_variable", "content": "mood=cheerful"})
	if !resp.OK {
		t.Fatalf("response = %+v", resp)
	}
	q, _ := pool.Get("q1")
	if q.Variables["mood"] != "cheerful" {
		t.Fatalf("variables = %+v", q.Variables)
	}

	resp = postAction(t, e, map[string]string{"query_id": "q1", "action": "set_variable", "content": "no-equals"})
	if resp.OK || resp.Error == "" {
		t.Fatalf("malformed content accepted: %+v", resp)
	}
}

func TestActionsUnknownAction(t *testing.T) {
	t.Parallel()

	e, _, _ := newActionsFixture(t)
	resp := postAction(t, e, map[string]string{"query_id": "q1", "action": "explode"})
	if resp.OK || resp.Error != "unknown action" {
		t.Fatalf("response = %+v", resp)
	}
}
