package stages

import (
	"context"
	"regexp"
	"strings"

	"github.com/wirebotio/wirebot/internal/message"
	"github.com/wirebotio/wirebot/internal/pipeline"
)

// FilterLevel is the outcome of one content filter over one text.
type FilterLevel int

const (
	// Pass leaves the text unchanged.
	Pass FilterLevel = iota
	// Masked replaces the text and continues.
	Masked
	// Block stops the query.
	Block
)

// FilterResult is one filter's verdict.
type FilterResult struct {
	Level         FilterLevel
	Replacement   string
	UserNotice    string
	ConsoleNotice string
}

var thinkTagRe = regexp.MustCompile(`(?s)<think>.*?</think>\s*`)

// ContentFilter is the pre-runner filter stage: it blocks empty input,
// enforces ignore rules, and masks ban words in the user text.
type ContentFilter struct{}

// NewContentFilter builds the stage.
func NewContentFilter() *ContentFilter { return &ContentFilter{} }

// Process implements pipeline.Stage.
func (s *ContentFilter) Process(_ context.Context, q *pipeline.Query, _ string) pipeline.StageResult {
	text := q.MessageChain.PlainText()

	if strings.TrimSpace(text) == "" && q.MessageChain.IsEmpty() {
		return pipeline.StageResult{Kind: pipeline.Interrupt, DebugNotice: "empty input blocked"}
	}
	if res := ignoreRules(q.PipelineConfig.Trigger.IgnoreRules, text); res.Level == Block {
		return pipeline.StageResult{Kind: pipeline.Interrupt, DebugNotice: "input matched ignore rules"}
	}

	// Masking applies per text part so non-text elements survive intact.
	banRes := FilterResult{Level: Pass}
	masked := q.MessageChain.Copy()
	for i, el := range masked {
		t, ok := el.(message.Text)
		if !ok {
			continue
		}
		if res := banWordMask(q.PipelineConfig.Safety.BanWords, t.Text); res.Level == Masked {
			masked[i] = message.Text{Text: res.Replacement}
			banRes = res
		}
	}
	if banRes.Level == Masked {
		q.MessageChain = masked
		return pipeline.StageResult{Kind: pipeline.Continue, ConsoleNotice: banRes.ConsoleNotice}
	}
	return pipeline.StageResult{Kind: pipeline.Continue}
}

// ApplyOutputFilters runs the post-runner filters over one model output.
// Any Block wins; otherwise the last Masked replacement is returned.
func ApplyOutputFilters(cfg pipeline.Config, text string) (string, FilterResult) {
	out := text
	last := FilterResult{Level: Pass}

	if res := banWordBlock(cfg.Safety.BanWords, out); res.Level == Block {
		return "", res
	}
	if cfg.Output.Misc.RemoveThink {
		if stripped := thinkTagRe.ReplaceAllString(out, ""); stripped != out {
			out = stripped
			last = FilterResult{Level: Masked, Replacement: out}
		}
	}
	return out, last
}

func ignoreRules(cfg pipeline.IgnoreRulesConfig, text string) FilterResult {
	for _, prefix := range cfg.Prefix {
		if prefix != "" && strings.HasPrefix(text, prefix) {
			return FilterResult{Level: Block}
		}
	}
	for _, expr := range cfg.Regexp {
		re, err := regexp.Compile(expr)
		if err != nil {
			continue
		}
		if re.MatchString(text) {
			return FilterResult{Level: Block}
		}
	}
	return FilterResult{Level: Pass}
}

// banWordMask replaces ban-word matches in user input with asterisks.
func banWordMask(words []string, text string) FilterResult {
	out := text
	for _, expr := range words {
		re, err := regexp.Compile(expr)
		if err != nil {
			continue
		}
		out = re.ReplaceAllStringFunc(out, func(m string) string {
			return strings.Repeat("*", len([]rune(m)))
		})
	}
	if out == text {
		return FilterResult{Level: Pass}
	}
	return FilterResult{Level: Masked, Replacement: out, ConsoleNotice: "ban word masked in user input"}
}

// banWordBlock rejects model output containing a ban word. Output is
// blocked rather than masked so partial leaks never reach the user.
func banWordBlock(words []string, text string) FilterResult {
	for _, expr := range words {
		re, err := regexp.Compile(expr)
		if err != nil {
			continue
		}
		if re.MatchString(text) {
			return FilterResult{
				Level:         Block,
				UserNotice:    "The response was withheld by the content filter.",
				ConsoleNotice: "ban word blocked model output",
			}
		}
	}
	return FilterResult{Level: Pass}
}
