// Package plugin bridges the pipeline to an external plugin runtime
// over MCP: pipeline events go out as tool calls, and plugin actions
// come back through the query pool.
package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wirebotio/wirebot/internal/message"
	"github.com/wirebotio/wirebot/internal/pipeline"
)

const emitEventTool = "emit_event"

// MCPBridge implements pipeline.Bus against a streamable-HTTP MCP
// endpoint. Each emission uses a fresh session; the runtime is treated
// as stateless between calls.
type MCPBridge struct {
	logger   *slog.Logger
	endpoint string
}

// NewMCPBridge builds a bridge for the given runtime endpoint.
func NewMCPBridge(logger *slog.Logger, endpoint string) *MCPBridge {
	return &MCPBridge{
		logger:   logger.With(slog.String("component", "plugin-bridge")),
		endpoint: strings.TrimSpace(endpoint),
	}
}

// Emit implements pipeline.Bus. A handler reply with prevent_default
// set stops the pipeline; reply_text, when present, is sent to the
// user first.
func (b *MCPBridge) Emit(ctx context.Context, ec *pipeline.EventContext) error {
	args := map[string]any{
		"event":       ec.Name,
		"query_id":    ec.QueryID,
		"bot_uuid":    ec.BotUUID,
		"launcher":    ec.Launcher,
		"text":        ec.Chain.PlainText(),
		"runner_text": ec.RunnerText,
	}
	result, err := b.call(ctx, emitEventTool, args)
	if err != nil {
		return err
	}
	var reply struct {
		PreventDefault bool   `json:"prevent_default"`
		ReplyText      string `json:"reply_text"`
	}
	if err := decodeToolResult(result, &reply); err != nil {
		return err
	}
	ec.PreventDefault = reply.PreventDefault
	if reply.ReplyText != "" {
		ec.ReplyChain = message.Of(message.Text{Text: reply.ReplyText})
	}
	return nil
}

// CallTool proxies an arbitrary tool invocation to the runtime.
func (b *MCPBridge) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	result, err := b.call(ctx, name, args)
	if err != nil {
		return nil, err
	}
	var out any
	if err := decodeToolResult(result, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *MCPBridge) call(ctx context.Context, name string, args map[string]any) (*sdkmcp.CallToolResult, error) {
	if b.endpoint == "" {
		return nil, fmt.Errorf("plugin endpoint not configured")
	}
	client := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    "wirebot-plugin-bridge",
		Version: "v1",
	}, nil)
	transport := &sdkmcp.StreamableClientTransport{Endpoint: b.endpoint}
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect plugin runtime: %w", err)
	}
	defer func() { _ = session.Close() }()

	result, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      strings.TrimSpace(name),
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("call plugin tool %q: %w", name, err)
	}
	if result != nil && result.IsError {
		return nil, fmt.Errorf("plugin tool %q reported an error", name)
	}
	return result, nil
}

// decodeToolResult unpacks the first text content item as JSON into v.
// Runtimes answering with no content decode as the zero value.
func decodeToolResult(result *sdkmcp.CallToolResult, v any) error {
	if result == nil {
		return nil
	}
	for _, item := range result.Content {
		text, ok := item.(*sdkmcp.TextContent)
		if !ok || strings.TrimSpace(text.Text) == "" {
			continue
		}
		if err := json.Unmarshal([]byte(text.Text), v); err != nil {
			return fmt.Errorf("decode plugin tool result: %w", err)
		}
		return nil
	}
	return nil
}
