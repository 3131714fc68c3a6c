package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wirebotio/wirebot/internal/adapter"
	"github.com/wirebotio/wirebot/internal/message"
	"github.com/wirebotio/wirebot/internal/pipeline"
	"github.com/wirebotio/wirebot/internal/runner"
)

// Runner is the stage that invokes the configured LLM runner and
// forwards its reply sequence to the adapter, chunked when the adapter
// streams and buffered otherwise.
type Runner struct {
	logger   *slog.Logger
	registry *runner.Registry

	mu    sync.Mutex
	cache map[string]runner.Runner
}

// NewRunner builds the stage over a runner registry.
func NewRunner(logger *slog.Logger, registry *runner.Registry) *Runner {
	return &Runner{
		logger:   logger.With(slog.String("component", "runner-stage")),
		registry: registry,
		cache:    map[string]runner.Runner{},
	}
}

// Process implements pipeline.Stage.
func (s *Runner) Process(ctx context.Context, q *pipeline.Query, _ string) pipeline.StageResult {
	cfg := q.PipelineConfig.AI
	r, err := s.runnerFor(cfg)
	if err != nil {
		return pipeline.StageResult{Kind: pipeline.Error, ErrorNotice: "this bot is not configured correctly", ConsoleNotice: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()

	results, err := r.Run(ctx, q)
	if err != nil {
		return errorResult(err)
	}

	streaming := q.Adapter != nil && q.Adapter.StreamOutputSupported()
	userText := q.MessageChain.PlainText()
	var full string
	seq := 0
	blocked := FilterResult{Level: Pass}

	for res := range results {
		if res.Err != nil {
			return errorResult(res.Err)
		}
		msg := res.Message
		if len(msg.ToolCalls) > 0 && msg.Content == "" {
			// Tool invocations are handled by plugin-capable runners
			// internally; nothing to deliver here.
			continue
		}
		full += msg.Content

		if _, fres := ApplyOutputFilters(q.PipelineConfig, full); fres.Level == Block {
			blocked = fres
			break
		}

		if streaming {
			seq++
			chain := message.Of(message.Text{Text: msg.Content})
			if msg.Content == "" && msg.IsFinal {
				chain = message.Chain{}
			}
			meta := adapter.MessageMeta{MsgID: sourceID(q), Seq: seq}
			if err := q.Adapter.ReplyMessageChunk(ctx, q.MessageEvent, meta, chain, false, msg.IsFinal); err != nil {
				s.logger.Warn("chunk delivery failed", slog.String("query_id", q.ID), slog.Any("error", err))
			}
		}
	}

	if blocked.Level == Block {
		notice := blocked.UserNotice
		if notice == "" {
			notice = "The response was withheld by the content filter."
		}
		return pipeline.StageResult{
			Kind:          pipeline.Interrupt,
			UserNotice:    message.Of(message.Text{Text: notice}),
			ConsoleNotice: blocked.ConsoleNotice,
		}
	}

	filtered, _ := ApplyOutputFilters(q.PipelineConfig, full)
	finalChain := message.Of(message.Text{Text: filtered})
	if !streaming && q.Adapter != nil {
		if err := q.Adapter.ReplyMessage(ctx, q.MessageEvent, finalChain, false); err != nil {
			s.logger.Warn("reply delivery failed", slog.String("query_id", q.ID), slog.Any("error", err))
		}
	}

	q.RespMessages = append(q.RespMessages, finalChain)
	q.Session.Append("user", userText)
	q.Session.Append("assistant", filtered)
	return pipeline.StageResult{Kind: pipeline.Continue}
}

func (s *Runner) runnerFor(cfg pipeline.AIConfig) (runner.Runner, error) {
	name := cfg.Runner
	if name == "" {
		name = "openai"
	}
	sig := fmt.Sprintf("%s/%s/%s/%v", name, cfg.Model, cfg.BaseURL, cfg.Stream)
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.cache[sig]; ok {
		return r, nil
	}
	r, err := s.registry.New(name, cfg)
	if err != nil {
		return nil, err
	}
	s.cache[sig] = r
	return r, nil
}

func errorResult(err error) pipeline.StageResult {
	var rerr *runner.Error
	notice := "something went wrong while generating the reply"
	if errors.As(err, &rerr) && rerr.Kind == runner.KindTimeout {
		notice = "the reply timed out, please try again"
	}
	return pipeline.StageResult{Kind: pipeline.Error, ErrorNotice: notice, ConsoleNotice: err.Error()}
}

// sourceID extracts the platform message id from the event chain.
func sourceID(q *pipeline.Query) string {
	if q.MessageEvent == nil {
		return ""
	}
	for _, el := range q.MessageEvent.Chain {
		if src, ok := el.(message.Source); ok {
			return src.ID
		}
	}
	return ""
}
