package wecombot

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/wirebotio/wirebot/internal/event"
	"github.com/wirebotio/wirebot/internal/message"
)

// inboundMessage is the decrypted callback payload. A first POST
// carries the user content; poll POSTs carry only the stream field.
type inboundMessage struct {
	MsgID    string         `json:"msgid"`
	AIBotID  string         `json:"aibotid"`
	ChatID   string         `json:"chatid"`
	ChatType string         `json:"chattype"`
	From     inboundFrom    `json:"from"`
	MsgType  string         `json:"msgtype"`
	Text     *textPayload   `json:"text,omitempty"`
	Image    *imagePayload  `json:"image,omitempty"`
	Mixed    *mixedPayload  `json:"mixed,omitempty"`
	Quote    *quotePayload  `json:"quote,omitempty"`
	Stream   *streamPayload `json:"stream,omitempty"`
}

type inboundFrom struct {
	UserID string `json:"userid"`
}

type textPayload struct {
	Content string `json:"content"`
}

type imagePayload struct {
	URL    string `json:"url"`
	AESKey string `json:"aes_key,omitempty"`
}

type mixedPayload struct {
	MsgItem []mixedItem `json:"msg_item"`
}

type mixedItem struct {
	MsgType string        `json:"msgtype"`
	Text    *textPayload  `json:"text,omitempty"`
	Image   *imagePayload `json:"image,omitempty"`
}

type quotePayload struct {
	MsgID   string       `json:"msgid"`
	UserID  string       `json:"userid"`
	MsgType string       `json:"msgtype"`
	Text    *textPayload `json:"text,omitempty"`
}

type streamPayload struct {
	ID string `json:"id"`
}

// streamReply is the plaintext answer to every callback POST.
type streamReply struct {
	MsgType string     `json:"msgtype"`
	Stream  streamBody `json:"stream"`
}

type streamBody struct {
	ID      string `json:"id"`
	Finish  bool   `json:"finish"`
	Content string `json:"content"`
}

// toEvent converts a decrypted first POST into the internal event. The
// stream reference travels on PlatformRef for reply routing.
func (a *Adapter) toEvent(ctx context.Context, msg *inboundMessage, streamID string) (*event.Event, error) {
	kind := event.KindFriend
	sender := event.Sender{ID: msg.From.UserID}
	if msg.ChatType == "group" {
		kind = event.KindGroup
		sender.GroupID = msg.ChatID
	}

	chain := message.Of(message.Source{ID: msg.MsgID, Time: time.Now()})
	if msg.Quote != nil {
		chain = append(chain, a.quoteElement(msg.Quote))
	}

	body, err := a.contentChain(ctx, msg)
	if err != nil {
		return nil, err
	}
	chain = chain.Concat(body)

	return &event.Event{
		Kind:        kind,
		Sender:      sender,
		Chain:       chain,
		Time:        time.Now(),
		Platform:    Name,
		SelfID:      strings.TrimSpace(a.cfg.BotName),
		PlatformRef: &streamRef{StreamID: streamID, MsgID: msg.MsgID},
	}, nil
}

func (a *Adapter) contentChain(ctx context.Context, msg *inboundMessage) (message.Chain, error) {
	switch msg.MsgType {
	case "text":
		if msg.Text == nil {
			return nil, fmt.Errorf("text message without text payload")
		}
		return a.parseText(msg.Text.Content), nil
	case "image":
		if msg.Image == nil {
			return nil, fmt.Errorf("image message without image payload")
		}
		img, err := a.downloadImage(ctx, msg.Image)
		if err != nil {
			return nil, err
		}
		return message.Of(img), nil
	case "mixed":
		if msg.Mixed == nil {
			return nil, fmt.Errorf("mixed message without items")
		}
		var chain message.Chain
		for _, item := range msg.Mixed.MsgItem {
			switch {
			case item.MsgType == "text" && item.Text != nil:
				chain = chain.Concat(a.parseText(item.Text.Content))
			case item.MsgType == "image" && item.Image != nil:
				img, err := a.downloadImage(ctx, item.Image)
				if err != nil {
					return nil, err
				}
				chain = append(chain, img)
			}
		}
		return chain, nil
	default:
		return nil, fmt.Errorf("unsupported msgtype %q", msg.MsgType)
	}
}

// parseText detects textual bot mentions ("@<bot name>") and lifts them
// into structured At elements so the respond-rule stage can strip them.
func (a *Adapter) parseText(content string) message.Chain {
	botName := strings.TrimSpace(a.cfg.BotName)
	if botName == "" {
		return message.Of(message.Text{Text: content})
	}
	mention := "@" + botName
	var chain message.Chain
	rest := content
	for {
		idx := strings.Index(rest, mention)
		if idx < 0 {
			break
		}
		if idx > 0 {
			chain = append(chain, message.Text{Text: rest[:idx]})
		}
		chain = append(chain, message.At{Target: botName})
		rest = rest[idx+len(mention):]
	}
	if rest != "" || len(chain) == 0 {
		chain = append(chain, message.Text{Text: rest})
	}
	return chain
}

func (a *Adapter) downloadImage(ctx context.Context, img *imagePayload) (message.Image, error) {
	data, mime, err := a.codec.DownloadMedia(ctx, img.URL, img.AESKey)
	if err != nil {
		return message.Image{}, fmt.Errorf("download image: %w", err)
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
	return message.Image{Base64: dataURL}, nil
}

// quoteElement parses the quoted message as a nested chain.
func (a *Adapter) quoteElement(q *quotePayload) message.Quote {
	var origin message.Chain
	if q.Text != nil {
		origin = a.parseText(q.Text.Content)
	}
	if q.MsgID != "" {
		origin = append(message.Of(message.Source{ID: q.MsgID}), origin...)
	}
	return message.Quote{SenderID: q.UserID, Origin: origin}
}

// renderChain flattens a reply chain to the plain text the stream
// protocol carries. Mentions render textually; images fall back to
// their URL when one exists.
func renderChain(chain message.Chain) string {
	var b strings.Builder
	for _, el := range chain {
		switch v := el.(type) {
		case message.Text:
			b.WriteString(v.Text)
		case message.At:
			b.WriteString("@" + v.Target)
		case message.AtAll:
			b.WriteString("@all")
		case message.Image:
			if v.URL != "" {
				b.WriteString(v.URL)
			}
		case message.Card:
			if v.Title != "" {
				b.WriteString(v.Title + "\n")
			}
			b.WriteString(v.Content)
		}
	}
	return b.String()
}
