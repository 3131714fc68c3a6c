package stages

import (
	"context"
	"math/rand/v2"
	"regexp"
	"strings"

	"github.com/wirebotio/wirebot/internal/event"
	"github.com/wirebotio/wirebot/internal/message"
	"github.com/wirebotio/wirebot/internal/pipeline"
)

// RespondRule decides whether a group message addresses the bot. Person
// queries pass through untouched. The first matching rule's replacement
// chain becomes the query chain; no match interrupts silently.
type RespondRule struct {
	// randFloat is swapped in tests for determinism.
	randFloat func() float64
}

// NewRespondRule builds the stage.
func NewRespondRule() *RespondRule {
	return &RespondRule{randFloat: rand.Float64}
}

// Process implements pipeline.Stage.
func (s *RespondRule) Process(_ context.Context, q *pipeline.Query, _ string) pipeline.StageResult {
	if q.MessageEvent == nil || q.MessageEvent.Kind != event.KindGroup {
		return pipeline.StageResult{Kind: pipeline.Continue}
	}
	rules := q.PipelineConfig.Trigger.GroupRespondRules

	if rules.At {
		if replacement, ok := s.matchAt(q); ok {
			q.MessageChain = replacement
			return pipeline.StageResult{Kind: pipeline.Continue, DebugNotice: "respond rule matched: at"}
		}
	}
	for _, prefix := range rules.Prefix {
		if replacement, ok := matchPrefix(q.MessageChain, prefix); ok {
			q.MessageChain = replacement
			return pipeline.StageResult{Kind: pipeline.Continue, DebugNotice: "respond rule matched: prefix"}
		}
	}
	if rules.Random > 0 && s.randFloat() < rules.Random {
		return pipeline.StageResult{Kind: pipeline.Continue, DebugNotice: "respond rule matched: random"}
	}
	for _, expr := range rules.Regexp {
		re, err := regexp.Compile(expr)
		if err != nil {
			continue
		}
		if re.MatchString(q.MessageChain.PlainText()) {
			return pipeline.StageResult{Kind: pipeline.Continue, DebugNotice: "respond rule matched: regexp"}
		}
	}

	return pipeline.StageResult{Kind: pipeline.Interrupt, DebugNotice: "no respond rule matched"}
}

// matchAt strips up to two At elements addressing the bot. Some
// platforms double-insert the mention when the user replies, hence two.
// Mention targets are platform identities (discord snowflakes, telegram
// usernames), so the event's SelfID counts as the bot alongside the
// configured display name.
func (s *RespondRule) matchAt(q *pipeline.Query) (message.Chain, bool) {
	botName, _ := q.Variables[pipeline.VarBotName].(string)
	selfID := q.MessageEvent.SelfID
	isBotAt := func(el message.Element) bool {
		at, ok := el.(message.At)
		if !ok {
			return false
		}
		if botName == "" && selfID == "" {
			return true
		}
		return at.Target == botName || (selfID != "" && at.Target == selfID)
	}

	found := false
	for _, el := range q.MessageChain {
		if isBotAt(el) {
			found = true
			break
		}
	}
	if !found {
		return nil, false
	}
	replacement := q.MessageChain.WithoutFirst(isBotAt, 2)
	return trimLeadingSpace(replacement), true
}

func matchPrefix(chain message.Chain, prefix string) (message.Chain, bool) {
	if prefix == "" {
		return nil, false
	}
	idx := chain.FirstText()
	if idx < 0 {
		return nil, false
	}
	text := chain[idx].(message.Text)
	if !strings.HasPrefix(text.Text, prefix) {
		return nil, false
	}
	out := chain.Copy()
	out[idx] = message.Text{Text: strings.TrimPrefix(text.Text, prefix)}
	return out, true
}

// trimLeadingSpace drops the whitespace the mention usually leaves at
// the head of the first text part.
func trimLeadingSpace(chain message.Chain) message.Chain {
	idx := chain.FirstText()
	if idx < 0 {
		return chain
	}
	text := chain[idx].(message.Text)
	out := chain.Copy()
	out[idx] = message.Text{Text: strings.TrimLeft(text.Text, " ")}
	return out
}
