// Package stages holds the built-in pipeline stage implementations.
package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/wirebotio/wirebot/internal/pipeline"
)

// AccessControl gates queries on launcher-key patterns. Patterns have
// the form "{person|group|*}_{id|*}"; "*" wildcards either position.
type AccessControl struct{}

// NewAccessControl builds the stage.
func NewAccessControl() *AccessControl { return &AccessControl{} }

// Process implements pipeline.Stage.
func (s *AccessControl) Process(_ context.Context, q *pipeline.Query, _ string) pipeline.StageResult {
	cfg := q.PipelineConfig.Trigger.AccessControl
	if !Allow(cfg.Mode, patterns(cfg), q.LauncherType, q.LauncherID) {
		return pipeline.StageResult{
			Kind:        pipeline.Interrupt,
			DebugNotice: fmt.Sprintf("access denied for %s", q.LauncherKey()),
		}
	}
	return pipeline.StageResult{Kind: pipeline.Continue}
}

func patterns(cfg pipeline.AccessControlConfig) []string {
	if cfg.Mode == "blacklist" {
		return cfg.Blacklist
	}
	return cfg.Whitelist
}

// Allow decides admission for a launcher under the given mode and
// pattern list. An empty or unknown mode admits everything.
func Allow(mode string, list []string, launcherType, launcherID string) bool {
	switch mode {
	case "whitelist":
		return matchAny(list, launcherType, launcherID)
	case "blacklist":
		return !matchAny(list, launcherType, launcherID)
	default:
		return true
	}
}

func matchAny(list []string, launcherType, launcherID string) bool {
	for _, pattern := range list {
		if matchPattern(pattern, launcherType, launcherID) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, launcherType, launcherID string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "*" {
		return true
	}
	ptype, pid, ok := strings.Cut(pattern, "_")
	if !ok {
		return false
	}
	if ptype != "*" && ptype != launcherType {
		return false
	}
	return pid == "*" || pid == launcherID
}
