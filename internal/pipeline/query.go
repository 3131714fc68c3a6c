// Package pipeline runs each inbound event through an ordered list of
// stages and owns the in-flight query registry.
package pipeline

import (
	"sync"

	"github.com/wirebotio/wirebot/internal/adapter"
	"github.com/wirebotio/wirebot/internal/event"
	"github.com/wirebotio/wirebot/internal/message"
	"github.com/wirebotio/wirebot/internal/session"
)

// Well-known Variables keys shared between stages and adapters.
const (
	// VarBotName carries the bot's display name for at-mention matching.
	VarBotName = "bot_name"
	// VarRateLimitRelease holds the func() registered by the rate-limit
	// require stage for the release stage to call.
	VarRateLimitRelease = "rate_limit_release"
)

// Query is one in-flight request's full execution context. A query is
// processed by exactly one pipeline run at a time; stages mutate it
// without extra locking.
type Query struct {
	ID           string
	BotUUID      string
	LauncherType string
	LauncherID   string
	SenderID     string

	MessageEvent   *event.Event
	MessageChain   message.Chain
	PipelineConfig Config
	Variables      map[string]any
	Session        *session.Session
	RespMessages   []message.Chain
	Adapter        adapter.Adapter

	mu        sync.Mutex
	finishers []func()
}

// LauncherKey is the access-control and rate-limit bucket for the query.
func (q *Query) LauncherKey() string {
	return session.Key(q.LauncherType, q.LauncherID)
}

// OnFinish registers a callback that runs when the pipeline terminates,
// on every exit path including panic. Callbacks run in reverse
// registration order.
func (q *Query) OnFinish(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	q.finishers = append(q.finishers, fn)
	q.mu.Unlock()
}

// adoptFinishers moves every finisher registered on old onto q. The
// pipeline calls this when a stage substitutes a rewritten query, so
// callbacks registered before the swap (the rate-limit release among
// them) still run when the replacement terminates. Registration order
// is preserved.
func (q *Query) adoptFinishers(old *Query) {
	old.mu.Lock()
	moved := old.finishers
	old.finishers = nil
	old.mu.Unlock()
	if len(moved) == 0 {
		return
	}
	q.mu.Lock()
	q.finishers = append(moved, q.finishers...)
	q.mu.Unlock()
}

func (q *Query) runFinishers() {
	q.mu.Lock()
	finishers := q.finishers
	q.finishers = nil
	q.mu.Unlock()
	for i := len(finishers) - 1; i >= 0; i-- {
		finishers[i]()
	}
}

// Pool is the registry of active queries, keyed by query id. Plugin
// tool callbacks resolve queries here.
type Pool struct {
	mu     sync.Mutex
	active map[string]*Query
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{active: map[string]*Query{}}
}

// Add registers a query.
func (p *Pool) Add(q *Query) {
	p.mu.Lock()
	p.active[q.ID] = q
	p.mu.Unlock()
}

// Get looks a query up by id.
func (p *Pool) Get(id string) (*Query, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.active[id]
	return q, ok
}

// Replace swaps the stored query for the same id, used when a stage
// substitutes a rewritten query.
func (p *Pool) Replace(q *Query) {
	p.mu.Lock()
	if _, ok := p.active[q.ID]; ok {
		p.active[q.ID] = q
	}
	p.mu.Unlock()
}

// Remove drops a query from the pool. Lookup and removal share the same
// mutex, so a removed id can never be observed again.
func (p *Pool) Remove(id string) {
	p.mu.Lock()
	delete(p.active, id)
	p.mu.Unlock()
}

// Len reports how many queries are in flight.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}
