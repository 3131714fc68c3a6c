// Package feishu is the Lark/Feishu adapter. Inbound events arrive on
// the SDK's long connection; replies go through the IM API.
package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"

	"github.com/wirebotio/wirebot/internal/adapter"
	"github.com/wirebotio/wirebot/internal/config"
	"github.com/wirebotio/wirebot/internal/event"
	"github.com/wirebotio/wirebot/internal/message"
)

// Name is the platform identifier this adapter registers under.
const Name = "feishu"

type replyRef struct {
	MessageID string
	ChatID    string
}

// Adapter bridges Feishu to the pipeline.
type Adapter struct {
	logger    *slog.Logger
	cfg       config.FeishuConfig
	client    *lark.Client
	listeners adapter.Listeners
	stopped   chan struct{}
}

// New builds the adapter and its API client.
func New(logger *slog.Logger, cfg config.FeishuConfig) *Adapter {
	return &Adapter{
		logger:  logger.With(slog.String("component", "adapter"), slog.String("platform", Name)),
		cfg:     cfg,
		client:  lark.NewClient(cfg.AppID, cfg.AppSecret),
		stopped: make(chan struct{}),
	}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) RegisterListener(kind event.Kind, fn adapter.Listener) {
	a.listeners.Register(kind, fn)
}

func (a *Adapter) StreamOutputSupported() bool { return false }

// Run owns the long connection; the SDK reconnects internally.
func (a *Adapter) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.stopped:
			cancel()
		case <-runCtx.Done():
		}
	}()

	eventDispatcher := dispatcher.NewEventDispatcher(a.cfg.VerificationToken, a.cfg.EncryptKey)
	eventDispatcher.OnP2MessageReceiveV1(func(_ context.Context, e *larkim.P2MessageReceiveV1) error {
		if runCtx.Err() != nil {
			return nil
		}
		ev := a.toEvent(e)
		if ev == nil {
			return nil
		}
		go a.listeners.Emit(runCtx, ev)
		return nil
	})

	client := larkws.NewClient(a.cfg.AppID, a.cfg.AppSecret,
		larkws.WithEventHandler(eventDispatcher),
	)
	return client.Start(runCtx)
}

// Kill implements adapter.Adapter.
func (a *Adapter) Kill(context.Context) error {
	select {
	case <-a.stopped:
	default:
		close(a.stopped)
	}
	return nil
}

// ReplyMessage answers in-thread via the IM reply endpoint.
func (a *Adapter) ReplyMessage(ctx context.Context, ev *event.Event, chain message.Chain, _ bool) error {
	ref, ok := ev.PlatformRef.(*replyRef)
	if !ok {
		return fmt.Errorf("%w: event has no feishu reply reference", adapter.ErrSendFailed)
	}
	content, err := textContent(renderChain(chain))
	if err != nil {
		return fmt.Errorf("%w: %v", adapter.ErrSendFailed, err)
	}
	req := larkim.NewReplyMessageReqBuilder().
		MessageId(ref.MessageID).
		Body(larkim.NewReplyMessageReqBodyBuilder().
			Content(content).
			MsgType(larkim.MsgTypeText).
			Build()).
		Build()
	resp, err := a.client.Im.Message.Reply(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %v", adapter.ErrSendFailed, err)
	}
	if !resp.Success() {
		return fmt.Errorf("%w: feishu reply: %s", adapter.ErrSendFailed, resp.Msg)
	}
	return nil
}

func (a *Adapter) ReplyMessageChunk(ctx context.Context, ev *event.Event, _ adapter.MessageMeta, chain message.Chain, quoteOrigin, isFinal bool) error {
	if !isFinal {
		return nil
	}
	return a.ReplyMessage(ctx, ev, chain, quoteOrigin)
}

// SendMessage pushes to a chat or user id out of band.
func (a *Adapter) SendMessage(ctx context.Context, targetType adapter.TargetType, targetID string, chain message.Chain) error {
	content, err := textContent(renderChain(chain))
	if err != nil {
		return fmt.Errorf("%w: %v", adapter.ErrSendFailed, err)
	}
	receiveIDType := larkim.ReceiveIdTypeChatId
	if targetType == adapter.TargetPerson {
		receiveIDType = larkim.ReceiveIdTypeOpenId
	}
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(strings.TrimSpace(targetID)).
			MsgType(larkim.MsgTypeText).
			Content(content).
			Build()).
		Build()
	resp, err := a.client.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %v", adapter.ErrSendFailed, err)
	}
	if !resp.Success() {
		return fmt.Errorf("%w: feishu send: %s", adapter.ErrSendFailed, resp.Msg)
	}
	return nil
}

func (a *Adapter) toEvent(e *larkim.P2MessageReceiveV1) *event.Event {
	if e == nil || e.Event == nil || e.Event.Message == nil || e.Event.Sender == nil {
		return nil
	}
	msg := e.Event.Message
	msgID := deref(msg.MessageId)
	chatID := deref(msg.ChatId)
	chatType := deref(msg.ChatType)

	senderID := ""
	if e.Event.Sender.SenderId != nil {
		senderID = deref(e.Event.Sender.SenderId.OpenId)
	}
	if senderID == "" {
		return nil
	}

	kind := event.KindFriend
	sender := event.Sender{ID: senderID}
	if chatType == "group" {
		kind = event.KindGroup
		sender.GroupID = chatID
	}

	chain := message.Of(message.Source{ID: msgID, Time: time.Now()})
	chain = chain.Concat(parseContent(deref(msg.MessageType), deref(msg.Content), msg.Mentions))
	if chain.IsEmpty() {
		return nil
	}

	return &event.Event{
		Kind:        kind,
		Sender:      sender,
		Chain:       chain,
		Time:        time.Now(),
		Platform:    Name,
		PlatformRef: &replyRef{MessageID: msgID, ChatID: chatID},
	}
}

// parseContent maps the structured mention list onto At elements and
// replaces the "@_user_N" placeholders feishu leaves in the text.
func parseContent(msgType, content string, mentions []*larkim.MentionEvent) message.Chain {
	if msgType != larkim.MsgTypeText {
		return nil
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil
	}

	text := payload.Text
	var chain message.Chain
	for _, m := range mentions {
		if m == nil || m.Key == nil {
			continue
		}
		key := *m.Key
		idx := strings.Index(text, key)
		if idx < 0 {
			continue
		}
		if idx > 0 {
			chain = append(chain, message.Text{Text: text[:idx]})
		}
		target := ""
		if m.Id != nil {
			target = deref(m.Id.OpenId)
		}
		if target == "" {
			target = deref(m.Name)
		}
		chain = append(chain, message.At{Target: target})
		text = text[idx+len(key):]
	}
	if text != "" || len(chain) == 0 {
		chain = append(chain, message.Text{Text: text})
	}
	return chain
}

func textContent(text string) (string, error) {
	data, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func renderChain(chain message.Chain) string {
	var b strings.Builder
	for _, el := range chain {
		switch v := el.(type) {
		case message.Text:
			b.WriteString(v.Text)
		case message.At:
			b.WriteString("@" + v.Target)
		}
	}
	return b.String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
