// Package telegram is the long-polling synchronous adapter.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wirebotio/wirebot/internal/adapter"
	"github.com/wirebotio/wirebot/internal/config"
	"github.com/wirebotio/wirebot/internal/event"
	"github.com/wirebotio/wirebot/internal/message"
)

// Name is the platform identifier this adapter registers under.
const Name = "telegram"

type replyRef struct {
	ChatID    int64
	MessageID int
}

// Adapter bridges Telegram long-poll updates to the pipeline.
type Adapter struct {
	logger    *slog.Logger
	bot       *tgbotapi.BotAPI
	listeners adapter.Listeners
	stopped   chan struct{}
}

// New connects to the Bot API and validates the token.
func New(logger *slog.Logger, cfg config.TelegramConfig) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Adapter{
		logger:  logger.With(slog.String("component", "adapter"), slog.String("platform", Name)),
		bot:     bot,
		stopped: make(chan struct{}),
	}, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) RegisterListener(kind event.Kind, fn adapter.Listener) {
	a.listeners.Register(kind, fn)
}

// StreamOutputSupported reports false: replies go out as one message.
func (a *Adapter) StreamOutputSupported() bool { return false }

// Run long-polls updates until the context is canceled.
func (a *Adapter) Run(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30
	updates := a.bot.GetUpdatesChan(updateConfig)

	a.logger.Info("long-poll started", slog.String("bot", a.bot.Self.UserName))
	for {
		select {
		case <-ctx.Done():
			a.drain(updates)
			return nil
		case <-a.stopped:
			a.drain(updates)
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			ev := a.toEvent(update.Message)
			if ev == nil {
				continue
			}
			go a.listeners.Emit(ctx, ev)
		}
	}
}

func (a *Adapter) drain(updates tgbotapi.UpdatesChannel) {
	a.bot.StopReceivingUpdates()
	// Drain so the library's polling goroutine can exit; otherwise the
	// in-flight long poll keeps the getUpdates session alive.
	for range updates {
	}
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

// ReplyMessage sends one message back into the originating chat.
func (a *Adapter) ReplyMessage(_ context.Context, ev *event.Event, chain message.Chain, quoteOrigin bool) error {
	ref, ok := ev.PlatformRef.(*replyRef)
	if !ok {
		return fmt.Errorf("%w: event has no telegram reply reference", adapter.ErrSendFailed)
	}
	msg := tgbotapi.NewMessage(ref.ChatID, renderChain(chain))
	if quoteOrigin {
		msg.ReplyToMessageID = ref.MessageID
	}
	if _, err := a.bot.Send(msg); err != nil {
		return fmt.Errorf("%w: %v", adapter.ErrSendFailed, err)
	}
	return nil
}

// ReplyMessageChunk forwards only the final chunk as a full reply.
func (a *Adapter) ReplyMessageChunk(ctx context.Context, ev *event.Event, _ adapter.MessageMeta, chain message.Chain, quoteOrigin, isFinal bool) error {
	if !isFinal {
		return nil
	}
	return a.ReplyMessage(ctx, ev, chain, quoteOrigin)
}

// SendMessage pushes a message to an arbitrary chat id.
func (a *Adapter) SendMessage(_ context.Context, _ adapter.TargetType, targetID string, chain message.Chain) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(targetID), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad chat id %q", adapter.ErrSendFailed, targetID)
	}
	if _, err := a.bot.Send(tgbotapi.NewMessage(chatID, renderChain(chain))); err != nil {
		return fmt.Errorf("%w: %v", adapter.ErrSendFailed, err)
	}
	return nil
}

func (a *Adapter) toEvent(m *tgbotapi.Message) *event.Event {
	if m.Chat == nil || m.From == nil {
		return nil
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	kind := event.KindFriend
	sender := event.Sender{
		ID:       strconv.FormatInt(m.From.ID, 10),
		Nickname: strings.TrimSpace(m.From.FirstName + " " + m.From.LastName),
	}
	if m.Chat.IsGroup() || m.Chat.IsSuperGroup() {
		kind = event.KindGroup
		sender.GroupID = strconv.FormatInt(m.Chat.ID, 10)
		sender.GroupName = m.Chat.Title
	}

	chain := message.Of(message.Source{ID: strconv.Itoa(m.MessageID), Time: time.Unix(int64(m.Date), 0)})
	if m.ReplyToMessage != nil && m.ReplyToMessage.From != nil {
		chain = append(chain, message.Quote{
			SenderID: strconv.FormatInt(m.ReplyToMessage.From.ID, 10),
			Origin:   message.Of(message.Text{Text: m.ReplyToMessage.Text}),
		})
	}
	chain = chain.Concat(a.parseText(text))

	return &event.Event{
		Kind:        kind,
		Sender:      sender,
		Chain:       chain,
		Time:        time.Unix(int64(m.Date), 0),
		Platform:    Name,
		SelfID:      a.bot.Self.UserName,
		PlatformRef: &replyRef{ChatID: m.Chat.ID, MessageID: m.MessageID},
	}
}

// parseText lifts "@<bot username>" mentions into At elements.
func (a *Adapter) parseText(text string) message.Chain {
	mention := "@" + a.bot.Self.UserName
	if a.bot.Self.UserName == "" || !strings.Contains(text, mention) {
		return message.Of(message.Text{Text: text})
	}
	var chain message.Chain
	rest := text
	for {
		idx := strings.Index(rest, mention)
		if idx < 0 {
			break
		}
		if idx > 0 {
			chain = append(chain, message.Text{Text: rest[:idx]})
		}
		chain = append(chain, message.At{Target: a.bot.Self.UserName})
		rest = rest[idx+len(mention):]
	}
	if rest != "" || len(chain) == 0 {
		chain = append(chain, message.Text{Text: rest})
	}
	return chain
}

func renderChain(chain message.Chain) string {
	var b strings.Builder
	for _, el := range chain {
		switch v := el.(type) {
		case message.Text:
			b.WriteString(v.Text)
		case message.At:
			b.WriteString("@" + v.Target)
		case message.Image:
			if v.URL != "" {
				b.WriteString(v.URL)
			}
		}
	}
	return b.String()
}
