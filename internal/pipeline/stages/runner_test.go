package stages

import (
	"context"
	"testing"

	"github.com/wirebotio/wirebot/internal/message"
	"github.com/wirebotio/wirebot/internal/pipeline"
	"github.com/wirebotio/wirebot/internal/runner"
)

// scriptedRunner plays back a fixed result sequence.
type scriptedRunner struct {
	results []runner.Result
}

func (r *scriptedRunner) Run(context.Context, *pipeline.Query) (<-chan runner.Result, error) {
	ch := make(chan runner.Result, len(r.results))
	for _, res := range r.results {
		ch <- res
	}
	close(ch)
	return ch, nil
}

func scriptedRegistry(results []runner.Result) *runner.Registry {
	reg := runner.NewRegistry()
	reg.MustRegister("scripted", func(pipeline.AIConfig) (runner.Runner, error) {
		return &scriptedRunner{results: results}, nil
	})
	return reg
}

func runnerQuery(results []runner.Result, streaming bool) (*pipeline.Query, *fakeAdapter, *Runner) {
	cfg := pipeline.Config{}
	cfg.AI = pipeline.AIConfig{Runner: "scripted", Model: "test", Stream: streaming}

	fa := &fakeAdapter{streaming: streaming}
	q := personQuery(cfg, message.Of(
		message.Source{ID: "msg-1"},
		message.Text{Text: "what is 2+2"},
	))
	q.Adapter = fa
	stage := NewRunner(testLogger(), scriptedRegistry(results))
	return q, fa, stage
}

func TestRunnerStreamsChunks(t *testing.T) {
	t.Parallel()

	results := []runner.Result{
		{Message: runner.Message{Role: "assistant", Content: "The answer "}},
		{Message: runner.Message{Role: "assistant", Content: "is 4."}},
		{Message: runner.Message{Role: "assistant", Content: "", IsFinal: true}},
	}
	q, fa, stage := runnerQuery(results, true)

	res := stage.Process(context.Background(), q, pipeline.StageRunner)
	if res.Kind != pipeline.Continue {
		t.Fatalf("runner stage result: %+v", res)
	}

	if len(fa.chunks) != 3 {
		t.Fatalf("chunks = %v", fa.chunks)
	}
	if fa.chunks[0] != "The answer " || fa.chunks[1] != "is 4." || fa.chunks[2] != "" {
		t.Fatalf("chunk contents = %v", fa.chunks)
	}
	if fa.finals[0] || fa.finals[1] || !fa.finals[2] {
		t.Fatalf("finality flags = %v", fa.finals)
	}
	if len(fa.replies) != 0 {
		t.Fatalf("streaming delivery also sent a full reply: %v", fa.replies)
	}

	if len(q.RespMessages) != 1 || q.RespMessages[0].PlainText() != "The answer is 4." {
		t.Fatalf("resp messages = %+v", q.RespMessages)
	}
	hist := q.Session.History()
	if len(hist) != 2 || hist[0].Role != "user" || hist[1].Content != "The answer is 4." {
		t.Fatalf("session history = %+v", hist)
	}
}

func TestRunnerBuffersWithoutStreamSupport(t *testing.T) {
	t.Parallel()

	results := []runner.Result{
		{Message: runner.Message{Role: "assistant", Content: "hello "}},
		{Message: runner.Message{Role: "assistant", Content: "there", IsFinal: true}},
	}
	q, fa, stage := runnerQuery(results, false)

	res := stage.Process(context.Background(), q, pipeline.StageRunner)
	if res.Kind != pipeline.Continue {
		t.Fatalf("runner stage result: %+v", res)
	}
	if len(fa.chunks) != 0 {
		t.Fatalf("non-streaming adapter received chunks: %v", fa.chunks)
	}
	if len(fa.replies) != 1 || fa.replies[0] != "hello there" {
		t.Fatalf("replies = %v", fa.replies)
	}
}

func TestRunnerBlocksFilteredOutput(t *testing.T) {
	t.Parallel()

	results := []runner.Result{
		{Message: runner.Message{Role: "assistant", Content: "here is the forbidden answer"}},
		{Message: runner.Message{Role: "assistant", Content: "", IsFinal: true}},
	}
	q, fa, stage := runnerQuery(results, true)
	q.PipelineConfig.Safety.BanWords = []string{"forbidden"}

	res := stage.Process(context.Background(), q, pipeline.StageRunner)
	if res.Kind != pipeline.Interrupt {
		t.Fatalf("blocked output did not interrupt: %+v", res)
	}
	if res.UserNotice.IsEmpty() {
		t.Fatalf("block must carry a user notice")
	}
	if len(fa.chunks) != 0 {
		t.Fatalf("blocked output still delivered chunks: %v", fa.chunks)
	}
	if len(q.RespMessages) != 0 {
		t.Fatalf("blocked output recorded a response: %+v", q.RespMessages)
	}
}

func TestRunnerSkipsToolCallOnlyMessages(t *testing.T) {
	t.Parallel()

	results := []runner.Result{
		{Message: runner.Message{Role: "assistant", ToolCalls: []runner.ToolCall{{ID: "t1", Name: "lookup"}}}},
		{Message: runner.Message{Role: "assistant", Content: "done", IsFinal: true}},
	}
	q, fa, stage := runnerQuery(results, true)

	res := stage.Process(context.Background(), q, pipeline.StageRunner)
	if res.Kind != pipeline.Continue {
		t.Fatalf("runner stage result: %+v", res)
	}
	if len(fa.chunks) != 1 || fa.chunks[0] != "done" {
		t.Fatalf("chunks = %v", fa.chunks)
	}
}

func TestRunnerMapsTimeoutError(t *testing.T) {
	t.Parallel()

	results := []runner.Result{
		{Err: &runner.Error{Kind: runner.KindTimeout, Message: "deadline hit"}},
	}
	q, _, stage := runnerQuery(results, true)

	res := stage.Process(context.Background(), q, pipeline.StageRunner)
	if res.Kind != pipeline.Error {
		t.Fatalf("runner error not surfaced: %+v", res)
	}
	if res.ErrorNotice != "the reply timed out, please try again" {
		t.Fatalf("timeout notice = %q", res.ErrorNotice)
	}
}

func TestRunnerUnknownRunnerName(t *testing.T) {
	t.Parallel()

	q, _, _ := runnerQuery(nil, true)
	q.PipelineConfig.AI.Runner = "missing"
	stage := NewRunner(testLogger(), runner.NewRegistry())

	res := stage.Process(context.Background(), q, pipeline.StageRunner)
	if res.Kind != pipeline.Error {
		t.Fatalf("unknown runner did not error: %+v", res)
	}
}
