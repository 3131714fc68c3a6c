package stages

import (
	"context"
	"testing"

	"github.com/wirebotio/wirebot/internal/message"
	"github.com/wirebotio/wirebot/internal/pipeline"
)

func respondConfig(rules pipeline.RespondRulesConfig) pipeline.Config {
	cfg := pipeline.Config{}
	cfg.Trigger.GroupRespondRules = rules
	return cfg
}

func TestRespondRulePersonPassesThrough(t *testing.T) {
	t.Parallel()

	stage := NewRespondRule()
	q := personQuery(respondConfig(pipeline.RespondRulesConfig{}), message.Of(message.Text{Text: "hi"}))
	if res := stage.Process(context.Background(), q, pipeline.StageRespondRule); res.Kind != pipeline.Continue {
		t.Fatalf("person query interrupted: %+v", res)
	}
	if q.MessageChain.PlainText() != "hi" {
		t.Fatalf("person chain mutated: %q", q.MessageChain.PlainText())
	}
}

func TestRespondRuleAtStripsMention(t *testing.T) {
	t.Parallel()

	stage := NewRespondRule()
	cfg := respondConfig(pipeline.RespondRulesConfig{At: true})
	q := groupQuery(cfg, message.Of(message.At{Target: "helper"}, message.Text{Text: "  what's up"}))
	q.Variables[pipeline.VarBotName] = "helper"

	res := stage.Process(context.Background(), q, pipeline.StageRespondRule)
	if res.Kind != pipeline.Continue {
		t.Fatalf("at-mention interrupted: %+v", res)
	}
	if q.MessageChain.HasAt("helper") {
		t.Fatalf("mention not stripped: %+v", q.MessageChain)
	}
	if got := q.MessageChain.PlainText(); got != "what's up" {
		t.Fatalf("leading space not trimmed: %q", got)
	}
}

func TestRespondRuleAtIgnoresOtherTargets(t *testing.T) {
	t.Parallel()

	stage := NewRespondRule()
	cfg := respondConfig(pipeline.RespondRulesConfig{At: true})
	q := groupQuery(cfg, message.Of(message.At{Target: "someone-else"}, message.Text{Text: "hi"}))
	q.Variables[pipeline.VarBotName] = "helper"

	if res := stage.Process(context.Background(), q, pipeline.StageRespondRule); res.Kind != pipeline.Interrupt {
		t.Fatalf("mention of another bot matched: %+v", res)
	}
}

func TestRespondRuleAtMatchesPlatformSelfID(t *testing.T) {
	t.Parallel()

	stage := NewRespondRule()
	cfg := respondConfig(pipeline.RespondRulesConfig{At: true})
	// Mention targets carry the platform identity (a discord snowflake
	// here), not the configured display name.
	q := groupQuery(cfg, message.Of(message.At{Target: "123456789"}, message.Text{Text: " ping"}))
	q.Variables[pipeline.VarBotName] = "helper"
	q.MessageEvent.SelfID = "123456789"

	res := stage.Process(context.Background(), q, pipeline.StageRespondRule)
	if res.Kind != pipeline.Continue {
		t.Fatalf("self-id mention interrupted: %+v", res)
	}
	if q.MessageChain.HasAt("123456789") {
		t.Fatalf("mention not stripped: %+v", q.MessageChain)
	}
	if got := q.MessageChain.PlainText(); got != "ping" {
		t.Fatalf("leading space not trimmed: %q", got)
	}
}

func TestRespondRuleAtMatchesAnyMentionWithoutBotName(t *testing.T) {
	t.Parallel()

	stage := NewRespondRule()
	cfg := respondConfig(pipeline.RespondRulesConfig{At: true})
	q := groupQuery(cfg, message.Of(message.At{Target: "whoever"}, message.Text{Text: "hello"}))

	if res := stage.Process(context.Background(), q, pipeline.StageRespondRule); res.Kind != pipeline.Continue {
		t.Fatalf("mention without bot name did not match: %+v", res)
	}
}

func TestRespondRulePrefixStrip(t *testing.T) {
	t.Parallel()

	stage := NewRespondRule()
	cfg := respondConfig(pipeline.RespondRulesConfig{Prefix: []string{"!bot "}})
	q := groupQuery(cfg, message.Of(message.Text{Text: "!bot tell me a joke"}))

	res := stage.Process(context.Background(), q, pipeline.StageRespondRule)
	if res.Kind != pipeline.Continue {
		t.Fatalf("prefix did not match: %+v", res)
	}
	if got := q.MessageChain.PlainText(); got != "tell me a joke" {
		t.Fatalf("prefix not stripped: %q", got)
	}
}

func TestRespondRuleRandom(t *testing.T) {
	t.Parallel()

	cfg := respondConfig(pipeline.RespondRulesConfig{Random: 0.3})

	stage := NewRespondRule()
	stage.randFloat = func() float64 { return 0.1 }
	q := groupQuery(cfg, message.Of(message.Text{Text: "hi"}))
	if res := stage.Process(context.Background(), q, pipeline.StageRespondRule); res.Kind != pipeline.Continue {
		t.Fatalf("roll below threshold did not match: %+v", res)
	}

	stage.randFloat = func() float64 { return 0.9 }
	q = groupQuery(cfg, message.Of(message.Text{Text: "hi"}))
	if res := stage.Process(context.Background(), q, pipeline.StageRespondRule); res.Kind != pipeline.Interrupt {
		t.Fatalf("roll above threshold matched: %+v", res)
	}
}

func TestRespondRuleRegexp(t *testing.T) {
	t.Parallel()

	stage := NewRespondRule()
	cfg := respondConfig(pipeline.RespondRulesConfig{Regexp: []string{`\binvalid(`, `(?i)^help\b`}})

	q := groupQuery(cfg, message.Of(message.Text{Text: "Help me out"}))
	if res := stage.Process(context.Background(), q, pipeline.StageRespondRule); res.Kind != pipeline.Continue {
		t.Fatalf("regexp did not match past a bad pattern: %+v", res)
	}

	q = groupQuery(cfg, message.Of(message.Text{Text: "nothing relevant"}))
	if res := stage.Process(context.Background(), q, pipeline.StageRespondRule); res.Kind != pipeline.Interrupt {
		t.Fatalf("regexp matched unexpectedly: %+v", res)
	}
}

func TestRespondRuleNoMatchIsSilent(t *testing.T) {
	t.Parallel()

	stage := NewRespondRule()
	cfg := respondConfig(pipeline.RespondRulesConfig{At: true})
	q := groupQuery(cfg, message.Of(message.Text{Text: "just chatting"}))
	q.Variables[pipeline.VarBotName] = "helper"

	res := stage.Process(context.Background(), q, pipeline.StageRespondRule)
	if res.Kind != pipeline.Interrupt {
		t.Fatalf("unaddressed group message passed: %+v", res)
	}
	if !res.UserNotice.IsEmpty() {
		t.Fatalf("unaddressed messages must be dropped silently, got %q", res.UserNotice.PlainText())
	}
}
