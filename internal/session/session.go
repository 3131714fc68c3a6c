// Package session keeps per-conversation history for runners, keyed by
// the launcher key ("{launcher_type}_{launcher_id}").
package session

import (
	"fmt"
	"sync"
)

// Message is one turn of conversation context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session holds the mutable history for one launcher key.
type Session struct {
	Key string

	mu       sync.Mutex
	messages []Message
}

// Append records a turn at the end of the history.
func (s *Session) Append(role, content string) {
	s.mu.Lock()
	s.messages = append(s.messages, Message{Role: role, Content: content})
	s.mu.Unlock()
}

// History returns a copy of the recorded turns.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Reset discards the history.
func (s *Session) Reset() {
	s.mu.Lock()
	s.messages = nil
	s.mu.Unlock()
}

// Store hands out sessions by launcher key.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: map[string]*Session{}}
}

// Key builds the launcher key for a launcher type and id.
func Key(launcherType, launcherID string) string {
	return fmt.Sprintf("%s_%s", launcherType, launcherID)
}

// GetOrCreate returns the session for the launcher key, creating it on
// first use.
func (st *Store) GetOrCreate(launcherType, launcherID string) *Session {
	key := Key(launcherType, launcherID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[key]; ok {
		return s
	}
	s := &Session{Key: key}
	st.sessions[key] = s
	return s
}
