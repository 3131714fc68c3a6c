// Package event defines the normalized inbound message representation
// shared by every platform adapter.
package event

import (
	"time"

	"github.com/wirebotio/wirebot/internal/message"
)

// Kind classifies the conversation an event came from.
type Kind string

const (
	// KindFriend is a direct (person-to-bot) conversation.
	KindFriend Kind = "friend"
	// KindGroup is a group conversation.
	KindGroup Kind = "group"
)

// Sender identifies who produced the event.
type Sender struct {
	ID        string
	Nickname  string
	GroupID   string
	GroupName string
}

// Event is a normalized inbound message. Events are immutable once
// emitted to the pipeline: adapters build them, nothing mutates them.
type Event struct {
	Kind        Kind
	Sender      Sender
	Chain       message.Chain
	Time        time.Time
	Platform    string
	// SelfID is the bot's own identity on the emitting platform (user
	// id, username or configured name, whatever the adapter lifts into
	// At targets). Mention matching compares against it in addition to
	// the stored bot name. Empty when the adapter cannot know it.
	SelfID      string
	// PlatformRef is an opaque handle the adapter stores for reply
	// routing. Only the emitting adapter interprets it.
	PlatformRef any
}

// LauncherType maps the event kind to the rate-limit/access-control
// launcher type ("person" or "group").
func (e *Event) LauncherType() string {
	if e.Kind == KindGroup {
		return "group"
	}
	return "person"
}

// LauncherID is the conversation id the event belongs to: the group id
// for group events, the sender id otherwise.
func (e *Event) LauncherID() string {
	if e.Kind == KindGroup && e.Sender.GroupID != "" {
		return e.Sender.GroupID
	}
	return e.Sender.ID
}
