package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config is the typed view of a pipeline definition's nested config map.
// Stages read an immutable snapshot; nothing writes it after parse.
type Config struct {
	Trigger TriggerConfig `json:"trigger"`
	Safety  SafetyConfig  `json:"safety"`
	AI      AIConfig      `json:"ai"`
	Output  OutputConfig  `json:"output"`
}

type TriggerConfig struct {
	AccessControl     AccessControlConfig `json:"access-control"`
	GroupRespondRules RespondRulesConfig  `json:"group-respond-rules"`
	IgnoreRules       IgnoreRulesConfig   `json:"ignore-rules"`
}

// AccessControlConfig holds launcher-key patterns of the form
// "{person|group|*}_{id|*}".
type AccessControlConfig struct {
	Mode      string   `json:"mode"`
	Whitelist []string `json:"whitelist"`
	Blacklist []string `json:"blacklist"`
}

type RespondRulesConfig struct {
	At     bool     `json:"at"`
	Prefix []string `json:"prefix"`
	Random float64  `json:"random"`
	Regexp []string `json:"regexp"`
}

type IgnoreRulesConfig struct {
	Prefix []string `json:"prefix"`
	Regexp []string `json:"regexp"`
}

type SafetyConfig struct {
	RateLimit RateLimitConfig `json:"rate-limit"`
	BanWords  []string        `json:"ban-words"`
}

type RateLimitConfig struct {
	Algo         string `json:"algo"`
	WindowLength int    `json:"window-length"`
	Limitation   int    `json:"limitation"`
	Strategy     string `json:"strategy"`
}

// Window returns the configured window length as a duration.
func (c RateLimitConfig) Window() time.Duration {
	if c.WindowLength <= 0 {
		return time.Minute
	}
	return time.Duration(c.WindowLength) * time.Second
}

type AIConfig struct {
	Runner         string  `json:"runner"`
	Model          string  `json:"model"`
	BaseURL        string  `json:"base-url"`
	APIKey         string  `json:"api-key"`
	SystemPrompt   string  `json:"system-prompt"`
	TimeoutSeconds int     `json:"timeout-seconds"`
	Temperature    float64 `json:"temperature"`
	Stream         bool    `json:"stream"`
}

// Timeout returns the runner call budget.
func (c AIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type OutputConfig struct {
	Misc MiscOutputConfig `json:"misc"`
}

type MiscOutputConfig struct {
	RemoveThink bool `json:"remove-think"`
}

// ParseConfig converts a definition's nested map into the typed Config.
func ParseConfig(raw map[string]any) (Config, error) {
	if raw == nil {
		return Config{}, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return Config{}, fmt.Errorf("encode pipeline config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode pipeline config: %w", err)
	}
	return cfg, nil
}
