package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTTL is how long an idle session survives between accesses.
	DefaultTTL = 60 * time.Second
	// DefaultQueueSize bounds each session's chunk queue.
	DefaultQueueSize = 32
)

// Registry owns every live stream session. Membership is guarded by one
// mutex; the per-session queues carry their own synchronization so no
// lock is held across a blocking enqueue or dequeue.
type Registry struct {
	logger    *slog.Logger
	ttl       time.Duration
	queueSize int

	lock       sync.Mutex
	byStreamID map[string]*Session
	byMsgID    map[string]*Session
}

// NewRegistry creates a Registry with the given idle TTL and per-session
// queue capacity. Zero values fall back to the defaults.
func NewRegistry(log *slog.Logger, ttl time.Duration, queueSize int) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Registry{
		logger:     log.With(slog.String("component", "stream_registry")),
		ttl:        ttl,
		queueSize:  queueSize,
		byStreamID: map[string]*Session{},
		byMsgID:    map[string]*Session{},
	}
}

// CreateOrGet returns the session for the message, creating it on first
// delivery. The returned count is the delivery number for this message,
// starting at 1.
func (r *Registry) CreateOrGet(info MsgInfo) (s *Session, isNew bool, deliveries int) {
	r.lock.Lock()
	if existing, ok := r.byMsgID[info.MsgID]; ok {
		r.lock.Unlock()
		existing.touch()
		return existing, false, existing.recordDelivery()
	}
	s = newSession(uuid.NewString(), info, r.queueSize)
	r.byStreamID[s.StreamID] = s
	r.byMsgID[s.MsgID] = s
	r.lock.Unlock()
	return s, true, s.recordDelivery()
}

// Get looks up a session by stream id.
func (r *Registry) Get(streamID string) (*Session, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	s, ok := r.byStreamID[streamID]
	return s, ok
}

// GetByMsgID looks up a session by platform message id.
func (r *Registry) GetByMsgID(msgID string) (*Session, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	s, ok := r.byMsgID[msgID]
	return s, ok
}

// Publish enqueues a chunk on the session's queue, blocking for capacity
// (backpressure) until the context is done or the session is removed.
// Returns false when the session is gone.
func (r *Registry) Publish(ctx context.Context, streamID string, chunk Chunk) bool {
	s, ok := r.Get(streamID)
	if !ok {
		return false
	}
	s.touch()
	// Final state is recorded before the enqueue so a consumer that races
	// past the queue still observes finality through lastChunk.
	if chunk.IsFinal {
		s.setFinal(chunk)
	}
	select {
	case s.queue <- chunk:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Consume dequeues the next chunk, waiting up to timeout. When the queue
// stays empty and the session is finished, the cached final chunk is
// returned so final reads are idempotent. A session removed while the
// consumer waits yields a final empty chunk, so a parked poll observes
// termination instead of an ordinary timeout. Returns ok=false only
// when nothing is available yet.
func (r *Registry) Consume(ctx context.Context, streamID string, timeout time.Duration) (Chunk, bool) {
	s, ok := r.Get(streamID)
	if !ok {
		return Chunk{}, false
	}
	s.touch()
	select {
	case c := <-s.queue:
		s.touch()
		return c, true
	default:
	}
	if s.Finished() {
		if last, ok := s.LastChunk(); ok {
			return last, true
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c := <-s.queue:
		s.touch()
		return c, true
	case <-s.done:
		return Chunk{IsFinal: true}, true
	case <-timer.C:
		if s.Finished() {
			if last, ok := s.LastChunk(); ok {
				return last, true
			}
		}
		return Chunk{}, false
	case <-ctx.Done():
		return Chunk{}, false
	}
}

// MarkFinished flips the session's finality flag without producing a
// chunk.
func (r *Registry) MarkFinished(streamID string) {
	if s, ok := r.Get(streamID); ok {
		s.markFinished()
	}
}

// Cleanup removes sessions idle longer than the TTL and wakes any parked
// consumer or producer on them. Returns how many were removed.
func (r *Registry) Cleanup() int {
	now := time.Now()
	var expired []*Session
	r.lock.Lock()
	for id, s := range r.byStreamID {
		if now.Sub(s.lastAccessedAt()) > r.ttl {
			delete(r.byStreamID, id)
			delete(r.byMsgID, s.MsgID)
			expired = append(expired, s)
		}
	}
	r.lock.Unlock()
	for _, s := range expired {
		close(s.done)
	}
	if len(expired) > 0 {
		r.logger.Debug("expired stream sessions removed", slog.Int("count", len(expired)))
	}
	return len(expired)
}

// Len reports how many sessions are live.
func (r *Registry) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.byStreamID)
}
