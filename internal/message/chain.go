// Package message defines the MessageChain, the ordered sequence of typed
// message parts used as the interchange format between platform adapters
// and the processing pipeline.
package message

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Element is a single typed part of a message chain.
type Element interface {
	// Kind returns the wire discriminator for the element.
	Kind() string
}

// Chain is a finite ordered sequence of message elements.
type Chain []Element

// Text is a plain text fragment.
type Text struct {
	Text string `json:"text"`
}

// At mentions a single target by id.
type At struct {
	Target string `json:"target"`
}

// AtAll mentions everyone in a group.
type AtAll struct{}

// Image carries picture content by URL, base64 data URL, or local path.
// At most one of the three is expected to be set.
type Image struct {
	URL    string `json:"url,omitempty"`
	Base64 string `json:"base64,omitempty"`
	Path   string `json:"path,omitempty"`
}

// Voice carries audio content.
type Voice struct {
	URL         string `json:"url,omitempty"`
	Base64      string `json:"base64,omitempty"`
	DurationSec int    `json:"duration_sec,omitempty"`
}

// File references an uploaded file.
type File struct {
	URL  string `json:"url,omitempty"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Quote embeds the message being replied to. Origin is a fresh chain and
// never shares elements with the enclosing chain.
type Quote struct {
	SenderID string `json:"sender_id"`
	Origin   Chain  `json:"origin"`
}

// ForwardNode is one message inside a forwarded bundle.
type ForwardNode struct {
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
	Chain      Chain  `json:"chain"`
}

// Forward bundles several forwarded messages.
type Forward struct {
	Nodes []ForwardNode `json:"nodes"`
}

// Card is a structured title/content card.
type Card struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Source identifies the platform message the chain came from.
type Source struct {
	ID   string    `json:"id"`
	Time time.Time `json:"time"`
}

// Unknown preserves a platform part the adapter could not map.
type Unknown struct {
	Raw json.RawMessage `json:"raw"`
}

func (Text) Kind() string    { return "text" }
func (At) Kind() string      { return "at" }
func (AtAll) Kind() string   { return "at_all" }
func (Image) Kind() string   { return "image" }
func (Voice) Kind() string   { return "voice" }
func (File) Kind() string    { return "file" }
func (Quote) Kind() string   { return "quote" }
func (Forward) Kind() string { return "forward" }
func (Card) Kind() string    { return "card" }
func (Source) Kind() string  { return "source" }
func (Unknown) Kind() string { return "unknown" }

// Of builds a chain from the given elements.
func Of(elements ...Element) Chain {
	return Chain(elements)
}

// PlainText joins the text content of the chain's Text elements.
func (c Chain) PlainText() string {
	var b strings.Builder
	for _, el := range c {
		if t, ok := el.(Text); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// IsEmpty reports whether the chain carries no visible content.
func (c Chain) IsEmpty() bool {
	for _, el := range c {
		switch v := el.(type) {
		case Text:
			if strings.TrimSpace(v.Text) != "" {
				return false
			}
		case Source:
			continue
		default:
			return false
		}
	}
	return true
}

// Copy returns a deep copy of the chain. Nested chains inside Quote and
// Forward elements are copied as well, so the result shares no mutable
// state with the receiver.
func (c Chain) Copy() Chain {
	if c == nil {
		return nil
	}
	out := make(Chain, 0, len(c))
	for _, el := range c {
		switch v := el.(type) {
		case Quote:
			out = append(out, Quote{SenderID: v.SenderID, Origin: v.Origin.Copy()})
		case Forward:
			nodes := make([]ForwardNode, 0, len(v.Nodes))
			for _, n := range v.Nodes {
				nodes = append(nodes, ForwardNode{SenderID: n.SenderID, SenderName: n.SenderName, Chain: n.Chain.Copy()})
			}
			out = append(out, Forward{Nodes: nodes})
		case Unknown:
			raw := make(json.RawMessage, len(v.Raw))
			copy(raw, v.Raw)
			out = append(out, Unknown{Raw: raw})
		default:
			out = append(out, el)
		}
	}
	return out
}

// Concat returns a new chain with other appended to c.
func (c Chain) Concat(other Chain) Chain {
	out := make(Chain, 0, len(c)+len(other))
	out = append(out, c...)
	out = append(out, other...)
	return out
}

// WithoutFirst removes up to max elements matching the predicate, in order.
// max <= 0 removes every match.
func (c Chain) WithoutFirst(match func(Element) bool, max int) Chain {
	out := make(Chain, 0, len(c))
	removed := 0
	for _, el := range c {
		if match(el) && (max <= 0 || removed < max) {
			removed++
			continue
		}
		out = append(out, el)
	}
	return out
}

// FirstText returns the first Text element's index, or -1.
func (c Chain) FirstText() int {
	for i, el := range c {
		if _, ok := el.(Text); ok {
			return i
		}
	}
	return -1
}

// HasAt reports whether the chain mentions the given target.
func (c Chain) HasAt(target string) bool {
	for _, el := range c {
		if at, ok := el.(At); ok && at.Target == target {
			return true
		}
	}
	return false
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON encodes the chain as a list of {type, data} envelopes.
func (c Chain) MarshalJSON() ([]byte, error) {
	items := make([]envelope, 0, len(c))
	for _, el := range c {
		data, err := json.Marshal(el)
		if err != nil {
			return nil, err
		}
		items = append(items, envelope{Type: el.Kind(), Data: data})
	}
	return json.Marshal(items)
}

// UnmarshalJSON decodes a list of {type, data} envelopes. Unrecognized
// types are preserved as Unknown elements.
func (c *Chain) UnmarshalJSON(data []byte) error {
	var items []envelope
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(Chain, 0, len(items))
	for _, item := range items {
		el, err := decodeElement(item)
		if err != nil {
			return err
		}
		out = append(out, el)
	}
	*c = out
	return nil
}

func decodeElement(item envelope) (Element, error) {
	decode := func(v Element) (Element, error) {
		if len(item.Data) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(item.Data, v); err != nil {
			return nil, fmt.Errorf("decode %s element: %w", item.Type, err)
		}
		return v, nil
	}
	switch item.Type {
	case "text":
		el, err := decode(&Text{})
		if err != nil {
			return nil, err
		}
		return *el.(*Text), nil
	case "at":
		el, err := decode(&At{})
		if err != nil {
			return nil, err
		}
		return *el.(*At), nil
	case "at_all":
		return AtAll{}, nil
	case "image":
		el, err := decode(&Image{})
		if err != nil {
			return nil, err
		}
		return *el.(*Image), nil
	case "voice":
		el, err := decode(&Voice{})
		if err != nil {
			return nil, err
		}
		return *el.(*Voice), nil
	case "file":
		el, err := decode(&File{})
		if err != nil {
			return nil, err
		}
		return *el.(*File), nil
	case "quote":
		el, err := decode(&Quote{})
		if err != nil {
			return nil, err
		}
		return *el.(*Quote), nil
	case "forward":
		el, err := decode(&Forward{})
		if err != nil {
			return nil, err
		}
		return *el.(*Forward), nil
	case "card":
		el, err := decode(&Card{})
		if err != nil {
			return nil, err
		}
		return *el.(*Card), nil
	case "source":
		el, err := decode(&Source{})
		if err != nil {
			return nil, err
		}
		return *el.(*Source), nil
	default:
		raw := item.Data
		if len(raw) == 0 {
			raw = json.RawMessage(`{}`)
		}
		return Unknown{Raw: raw}, nil
	}
}
