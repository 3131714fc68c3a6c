// Package adapter defines the capability surface every platform adapter
// implements and the registry that holds them.
package adapter

import (
	"context"
	"errors"
	"sync"

	"github.com/wirebotio/wirebot/internal/event"
	"github.com/wirebotio/wirebot/internal/message"
)

// ErrSendFailed wraps platform delivery failures. The pipeline logs it
// and does not retry at this layer.
var ErrSendFailed = errors.New("adapter: send failed")

// TargetType selects the destination kind for out-of-band sends.
type TargetType string

const (
	TargetPerson TargetType = "person"
	TargetGroup  TargetType = "group"
)

// Listener is a callback invoked for each normalized inbound event.
type Listener func(ctx context.Context, ev *event.Event)

// MessageMeta identifies the logical bot reply a chunk belongs to.
type MessageMeta struct {
	MsgID string
	Seq   int
}

// Adapter translates between one platform's protocol and the internal
// Event/MessageChain representation.
type Adapter interface {
	// Name returns the platform identifier (e.g. "wecombot").
	Name() string
	// RegisterListener subscribes a callback for events of the given kind.
	RegisterListener(kind event.Kind, fn Listener)
	// ReplyMessage delivers one full reply for the event.
	ReplyMessage(ctx context.Context, ev *event.Event, chain message.Chain, quoteOrigin bool) error
	// ReplyMessageChunk delivers one incremental reply fragment. Adapters
	// without stream support may forward only the final chunk.
	ReplyMessageChunk(ctx context.Context, ev *event.Event, meta MessageMeta, chain message.Chain, quoteOrigin, isFinal bool) error
	// StreamOutputSupported reports whether chunked replies reach the
	// platform incrementally.
	StreamOutputSupported() bool
	// SendMessage pushes a message outside any inbound event.
	SendMessage(ctx context.Context, targetType TargetType, targetID string, chain message.Chain) error
	// Run owns the long-lived inbound I/O loop. It blocks until the
	// context is canceled or the loop fails.
	Run(ctx context.Context) error
	// Kill shuts the adapter down cooperatively. In-flight pipeline work
	// is allowed to complete.
	Kill(ctx context.Context) error
}

// Listeners manages per-kind listener sets for adapters.
type Listeners struct {
	mu     sync.RWMutex
	byKind map[event.Kind][]Listener
}

// Register subscribes fn for events of the given kind.
func (l *Listeners) Register(kind event.Kind, fn Listener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.byKind == nil {
		l.byKind = map[event.Kind][]Listener{}
	}
	l.byKind[kind] = append(l.byKind[kind], fn)
}

// Emit invokes every listener registered for the event's kind, in
// registration order, on the caller's goroutine.
func (l *Listeners) Emit(ctx context.Context, ev *event.Event) {
	l.mu.RLock()
	listeners := append([]Listener(nil), l.byKind[ev.Kind]...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		fn(ctx, ev)
	}
}
