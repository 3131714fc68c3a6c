// Package stream holds the per-message producer/consumer sessions that
// back the platform's poll-based streaming reply protocol.
package stream

import (
	"sync"
	"time"
)

// Chunk is one streamed reply fragment.
type Chunk struct {
	Content string         `json:"content"`
	IsFinal bool           `json:"is_final"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// MsgInfo identifies the inbound platform message a session belongs to.
type MsgInfo struct {
	MsgID  string
	ChatID string
	UserID string
}

// Session is the stream context for a single inbound message: a bounded
// FIFO queue between the pipeline (producer) and the HTTP poll handler
// (consumer), plus finality state for idempotent final re-reads.
type Session struct {
	StreamID  string
	MsgID     string
	ChatID    string
	UserID    string
	CreatedAt time.Time

	queue chan Chunk
	done  chan struct{}

	mu         sync.Mutex
	lastAccess time.Time
	deliveries int
	finished   bool
	lastChunk  *Chunk
}

func newSession(streamID string, info MsgInfo, queueSize int) *Session {
	now := time.Now()
	return &Session{
		StreamID:   streamID,
		MsgID:      info.MsgID,
		ChatID:     info.ChatID,
		UserID:     info.UserID,
		CreatedAt:  now,
		lastAccess: now,
		queue:      make(chan Chunk, queueSize),
		done:       make(chan struct{}),
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}

func (s *Session) lastAccessedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

// Finished reports whether a final chunk has been produced. It never
// reverts to false once observed true.
func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// LastChunk returns the cached final chunk, if any.
func (s *Session) LastChunk() (Chunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastChunk == nil {
		return Chunk{}, false
	}
	return *s.lastChunk, true
}

// Deliveries returns how many times the platform has delivered the
// first POST for this session's message.
func (s *Session) Deliveries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliveries
}

func (s *Session) recordDelivery() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries++
	return s.deliveries
}

func (s *Session) setFinal(chunk Chunk) {
	s.mu.Lock()
	s.finished = true
	s.lastChunk = &chunk
	s.mu.Unlock()
}

func (s *Session) markFinished() {
	s.mu.Lock()
	s.finished = true
	// Without a produced chunk the finished state must still be
	// observable through polls.
	if s.lastChunk == nil {
		s.lastChunk = &Chunk{IsFinal: true}
	}
	s.mu.Unlock()
}
