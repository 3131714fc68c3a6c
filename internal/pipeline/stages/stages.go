package stages

import (
	"log/slog"

	"github.com/wirebotio/wirebot/internal/pipeline"
	"github.com/wirebotio/wirebot/internal/runner"
)

// DefaultSet wires every built-in stage under its well-known name. The
// rate-limit stage instance is shared by both bracket slots so they see
// the same limiter cache.
func DefaultSet(logger *slog.Logger, runners *runner.Registry) pipeline.Stages {
	rl := NewRateLimit()
	return pipeline.Stages{
		pipeline.StageAccessControl:    NewAccessControl(),
		pipeline.StageRateLimitRequire: rl,
		pipeline.StageRateLimitRelease: rl,
		pipeline.StageRespondRule:      NewRespondRule(),
		pipeline.StagePreContentFilter: NewContentFilter(),
		pipeline.StageRunner:           NewRunner(logger, runners),
	}
}
