// Package runner defines the LLM runner contract and the registry the
// runner stage resolves implementations from.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/wirebotio/wirebot/internal/pipeline"
)

// Message is one item of a runner's reply sequence. Streaming runners
// emit incremental content with IsFinal false and terminate the
// sequence with IsFinal true.
type Message struct {
	Role      string
	Content   string
	IsFinal   bool
	ToolCalls []ToolCall
}

// ToolCall is a model-requested tool invocation, forwarded to the
// plugin runtime by runners that support it.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// Result is one channel item: a message or a terminal error. After a
// Result with Err set, no further items arrive.
type Result struct {
	Message Message
	Err     error
}

// ErrorKind classifies runner failures.
type ErrorKind string

const (
	KindTimeout  ErrorKind = "timeout"
	KindUpstream ErrorKind = "upstream"
	KindParse    ErrorKind = "parse"
)

// Error is the failure type runners raise; the runner stage maps it to
// a user-facing error notice.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("runner %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("runner %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Runner produces a reply sequence for one query. Implementations must
// not retain the query after the returned channel closes, and must
// close the channel on every path.
type Runner interface {
	Run(ctx context.Context, q *pipeline.Query) (<-chan Result, error)
}

// Factory builds a runner bound to one pipeline's AI config.
type Factory func(cfg pipeline.AIConfig) (Runner, error)

// Registry maps runner names to factories.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	name = normalizeName(name)
	if name == "" {
		return fmt.Errorf("runner name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("runner %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is Register that panics on error, for init-time wiring.
func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// New builds a runner by name for the given config.
func (r *Registry) New(name string, cfg pipeline.AIConfig) (Runner, error) {
	r.mu.Lock()
	f, ok := r.factories[normalizeName(name)]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown runner %q", name)
	}
	return f(cfg)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
