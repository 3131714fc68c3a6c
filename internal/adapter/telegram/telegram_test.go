package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wirebotio/wirebot/internal/event"
	"github.com/wirebotio/wirebot/internal/message"
)

func testAdapter(username string) *Adapter {
	return &Adapter{bot: &tgbotapi.BotAPI{Self: tgbotapi.User{UserName: username}}}
}

func TestParseTextLiftsBotMentions(t *testing.T) {
	t.Parallel()

	a := testAdapter("helperbot")
	chain := a.parseText("@helperbot what time is it")
	if !chain.HasAt("helperbot") {
		t.Fatalf("mention not lifted: %+v", chain)
	}
	if chain.PlainText() != " what time is it" {
		t.Fatalf("text = %q", chain.PlainText())
	}
}

func TestParseTextWithoutUsername(t *testing.T) {
	t.Parallel()

	a := testAdapter("")
	chain := a.parseText("@helperbot hi")
	if chain.HasAt("helperbot") {
		t.Fatalf("mention lifted without username: %+v", chain)
	}
	if chain.PlainText() != "@helperbot hi" {
		t.Fatalf("text = %q", chain.PlainText())
	}
}

func TestToEventGroupWithQuote(t *testing.T) {
	t.Parallel()

	a := testAdapter("helperbot")
	m := &tgbotapi.Message{
		MessageID: 42,
		Date:      1700000000,
		Chat:      &tgbotapi.Chat{ID: -100, Type: "group", Title: "ops"},
		From:      &tgbotapi.User{ID: 7, FirstName: "Ada"},
		Text:      "@helperbot status?",
		ReplyToMessage: &tgbotapi.Message{
			From: &tgbotapi.User{ID: 9},
			Text: "original",
		},
	}

	ev := a.toEvent(m)
	if ev == nil {
		t.Fatal("toEvent returned nil")
	}
	if ev.Kind != event.KindGroup || ev.Sender.GroupID != "-100" || ev.Sender.GroupName != "ops" {
		t.Fatalf("sender = %+v", ev.Sender)
	}
	if ev.Sender.ID != "7" || ev.Sender.Nickname != "Ada" {
		t.Fatalf("sender identity = %+v", ev.Sender)
	}
	var quote message.Quote
	found := false
	for _, el := range ev.Chain {
		if q, ok := el.(message.Quote); ok {
			quote, found = q, true
			break
		}
	}
	if !found || quote.SenderID != "9" || quote.Origin.PlainText() != "original" {
		t.Fatalf("quote = %+v found=%v", quote, found)
	}
	if !ev.Chain.HasAt("helperbot") {
		t.Fatalf("mention missing: %+v", ev.Chain)
	}
	ref, ok := ev.PlatformRef.(*replyRef)
	if !ok || ref.ChatID != -100 || ref.MessageID != 42 {
		t.Fatalf("reply ref = %+v", ev.PlatformRef)
	}
}

func TestToEventSkipsEmptyText(t *testing.T) {
	t.Parallel()

	a := testAdapter("helperbot")
	m := &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: 1, Type: "private"},
		From: &tgbotapi.User{ID: 7},
		Text: "   ",
	}
	if ev := a.toEvent(m); ev != nil {
		t.Fatalf("blank message produced event: %+v", ev)
	}
}

func TestRenderChain(t *testing.T) {
	t.Parallel()

	chain := message.Of(
		message.Text{Text: "see "},
		message.At{Target: "ada"},
		message.Image{URL: "https://example.com/a.png"},
	)
	if got := renderChain(chain); got != "see @adahttps://example.com/a.png" {
		t.Fatalf("renderChain = %q", got)
	}
}
