package runner

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/wirebotio/wirebot/internal/pipeline"
)

// OpenAI runs chat completions against any OpenAI-compatible endpoint.
type OpenAI struct {
	client *openai.Client
	cfg    pipeline.AIConfig
}

// NewOpenAI builds a runner bound to one pipeline's AI config.
func NewOpenAI(cfg pipeline.AIConfig) (Runner, error) {
	cc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cc), cfg: cfg}, nil
}

// Run implements Runner. The user turn is taken from the query chain;
// prior turns come from the query's session.
func (o *OpenAI) Run(ctx context.Context, q *pipeline.Query) (<-chan Result, error) {
	req := openai.ChatCompletionRequest{
		Model:       o.cfg.Model,
		Temperature: float32(o.cfg.Temperature),
		Messages:    o.buildMessages(q),
	}
	out := make(chan Result, 1)
	if o.cfg.Stream {
		stream, err := o.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return nil, classify(err)
		}
		go o.pump(ctx, stream, out)
		return out, nil
	}

	go func() {
		defer close(out)
		resp, err := o.client.CreateChatCompletion(ctx, req)
		if err != nil {
			out <- Result{Err: classify(err)}
			return
		}
		if len(resp.Choices) == 0 {
			out <- Result{Err: &Error{Kind: KindParse, Message: "completion returned no choices"}}
			return
		}
		out <- Result{Message: Message{
			Role:    openai.ChatMessageRoleAssistant,
			Content: resp.Choices[0].Message.Content,
			IsFinal: true,
		}}
	}()
	return out, nil
}

func (o *OpenAI) pump(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- Result) {
	defer close(out)
	defer stream.Close()
	send := func(r Result) bool {
		select {
		case out <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			send(Result{Message: Message{Role: openai.ChatMessageRoleAssistant, IsFinal: true}})
			return
		}
		if err != nil {
			send(Result{Err: classify(err)})
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if !send(Result{Message: Message{Role: openai.ChatMessageRoleAssistant, Content: delta}}) {
			return
		}
	}
}

func (o *OpenAI) buildMessages(q *pipeline.Query) []openai.ChatCompletionMessage {
	history := q.Session.History()
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if o.cfg.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: o.cfg.SystemPrompt,
		})
	}
	for _, m := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: q.MessageChain.PlainText(),
	})
	return msgs
}

func classify(err error) error {
	var rerr *Error
	if errors.As(err, &rerr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "model call timed out", Err: err}
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Kind: KindUpstream, Message: apiErr.Message, Err: err}
	}
	return &Error{Kind: KindUpstream, Message: "model call failed", Err: err}
}
