package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/wirebotio/wirebot/internal/message"
)

func testSession(botID string) *discordgo.Session {
	s := &discordgo.Session{State: discordgo.NewState()}
	s.State.User = &discordgo.User{ID: botID}
	return s
}

func TestParseContentLiftsBotMentions(t *testing.T) {
	t.Parallel()

	s := testSession("bot1")
	m := &discordgo.Message{
		Content:  "<@bot1> what's the weather",
		Mentions: []*discordgo.User{{ID: "bot1"}},
	}

	chain := parseContent(s, m)
	if !chain.HasAt("bot1") {
		t.Fatalf("mention not lifted: %+v", chain)
	}
	if chain.PlainText() != " what's the weather" {
		t.Fatalf("text = %q", chain.PlainText())
	}
}

func TestParseContentNicknameMention(t *testing.T) {
	t.Parallel()

	s := testSession("bot1")
	m := &discordgo.Message{
		Content:  "<@!bot1> hello",
		Mentions: []*discordgo.User{{ID: "bot1"}},
	}

	chain := parseContent(s, m)
	if !chain.HasAt("bot1") {
		t.Fatalf("nickname mention not lifted: %+v", chain)
	}
}

func TestParseContentIgnoresOtherMentions(t *testing.T) {
	t.Parallel()

	s := testSession("bot1")
	m := &discordgo.Message{
		Content:  "<@user2> hello",
		Mentions: []*discordgo.User{{ID: "user2"}},
	}

	chain := parseContent(s, m)
	if chain.HasAt("bot1") {
		t.Fatalf("foreign mention lifted: %+v", chain)
	}
	if chain.PlainText() != "<@user2> hello" {
		t.Fatalf("text = %q", chain.PlainText())
	}
}

func TestRenderChain(t *testing.T) {
	t.Parallel()

	chain := message.Of(
		message.Text{Text: "hey "},
		message.At{Target: "u1"},
		message.Image{URL: "https://example.com/a.png"},
	)
	if got := renderChain(chain); got != "hey <@u1>https://example.com/a.png" {
		t.Fatalf("renderChain = %q", got)
	}
}
