// Package discord is the gateway-websocket synchronous adapter.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/wirebotio/wirebot/internal/adapter"
	"github.com/wirebotio/wirebot/internal/config"
	"github.com/wirebotio/wirebot/internal/event"
	"github.com/wirebotio/wirebot/internal/message"
)

// Name is the platform identifier this adapter registers under.
const Name = "discord"

type replyRef struct {
	ChannelID string
	MessageID string
	GuildID   string
}

// Adapter bridges Discord gateway events to the pipeline.
type Adapter struct {
	logger    *slog.Logger
	session   *discordgo.Session
	listeners adapter.Listeners
	stopped   chan struct{}
}

// New builds the adapter and its gateway session.
func New(logger *slog.Logger, cfg config.DiscordConfig) (*Adapter, error) {
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	return &Adapter{
		logger:  logger.With(slog.String("component", "adapter"), slog.String("platform", Name)),
		session: session,
		stopped: make(chan struct{}),
	}, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) RegisterListener(kind event.Kind, fn adapter.Listener) {
	a.listeners.Register(kind, fn)
}

func (a *Adapter) StreamOutputSupported() bool { return false }

// Run opens the gateway connection and blocks until shutdown.
func (a *Adapter) Run(ctx context.Context) error {
	remove := a.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.ID == s.State.User.ID {
			return
		}
		ev := a.toEvent(s, m.Message)
		if ev == nil {
			return
		}
		go a.listeners.Emit(ctx, ev)
	})
	defer remove()

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	a.logger.Info("gateway connected")

	select {
	case <-ctx.Done():
	case <-a.stopped:
	}
	return a.session.Close()
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

// ReplyMessage answers into the originating channel.
func (a *Adapter) ReplyMessage(_ context.Context, ev *event.Event, chain message.Chain, quoteOrigin bool) error {
	ref, ok := ev.PlatformRef.(*replyRef)
	if !ok {
		return fmt.Errorf("%w: event has no discord reply reference", adapter.ErrSendFailed)
	}
	text := renderChain(chain)
	var err error
	if quoteOrigin {
		_, err = a.session.ChannelMessageSendReply(ref.ChannelID, text, &discordgo.MessageReference{
			MessageID: ref.MessageID,
			ChannelID: ref.ChannelID,
			GuildID:   ref.GuildID,
		})
	} else {
		_, err = a.session.ChannelMessageSend(ref.ChannelID, text)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", adapter.ErrSendFailed, err)
	}
	return nil
}

func (a *Adapter) ReplyMessageChunk(ctx context.Context, ev *event.Event, _ adapter.MessageMeta, chain message.Chain, quoteOrigin, isFinal bool) error {
	if !isFinal {
		return nil
	}
	return a.ReplyMessage(ctx, ev, chain, quoteOrigin)
}

// SendMessage pushes to a channel id out of band.
func (a *Adapter) SendMessage(_ context.Context, _ adapter.TargetType, targetID string, chain message.Chain) error {
	if _, err := a.session.ChannelMessageSend(strings.TrimSpace(targetID), renderChain(chain)); err != nil {
		return fmt.Errorf("%w: %v", adapter.ErrSendFailed, err)
	}
	return nil
}

func (a *Adapter) toEvent(s *discordgo.Session, m *discordgo.Message) *event.Event {
	if strings.TrimSpace(m.Content) == "" && len(m.Attachments) == 0 {
		return nil
	}

	kind := event.KindFriend
	sender := event.Sender{ID: m.Author.ID, Nickname: m.Author.Username}
	if m.GuildID != "" {
		kind = event.KindGroup
		sender.GroupID = m.ChannelID
	}

	chain := message.Of(message.Source{ID: m.ID, Time: time.Now()})
	if m.ReferencedMessage != nil && m.ReferencedMessage.Author != nil {
		chain = append(chain, message.Quote{
			SenderID: m.ReferencedMessage.Author.ID,
			Origin:   message.Of(message.Text{Text: m.ReferencedMessage.Content}),
		})
	}
	chain = chain.Concat(parseContent(s, m))
	for _, att := range m.Attachments {
		if att == nil {
			continue
		}
		if strings.HasPrefix(att.ContentType, "image/") {
			chain = append(chain, message.Image{URL: att.URL})
		} else {
			chain = append(chain, message.File{URL: att.URL, Name: att.Filename, Size: int64(att.Size)})
		}
	}

	return &event.Event{
		Kind:        kind,
		Sender:      sender,
		Chain:       chain,
		Time:        time.Now(),
		Platform:    Name,
		SelfID:      s.State.User.ID,
		PlatformRef: &replyRef{ChannelID: m.ChannelID, MessageID: m.ID, GuildID: m.GuildID},
	}
}

// parseContent lifts structured <@id> mentions of the bot into At
// elements.
func parseContent(s *discordgo.Session, m *discordgo.Message) message.Chain {
	text := m.Content
	botID := s.State.User.ID
	mentioned := false
	for _, u := range m.Mentions {
		if u != nil && u.ID == botID {
			mentioned = true
			break
		}
	}
	if !mentioned {
		return message.Of(message.Text{Text: text})
	}

	var chain message.Chain
	rest := text
	for _, token := range []string{"<@" + botID + ">", "<@!" + botID + ">"} {
		for {
			idx := strings.Index(rest, token)
			if idx < 0 {
				break
			}
			if idx > 0 {
				chain = append(chain, message.Text{Text: rest[:idx]})
			}
			chain = append(chain, message.At{Target: botID})
			rest = rest[idx+len(token):]
		}
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
			b.WriteString("<@" + v.Target + ">")
		case message.Image:
			if v.URL != "" {
				b.WriteString(v.URL)
			}
		}
	}
	return b.String()
}
