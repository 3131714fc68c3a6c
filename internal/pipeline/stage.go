package pipeline

import (
	"context"

	"github.com/wirebotio/wirebot/internal/message"
)

// ResultKind is the three-way outcome of a stage.
type ResultKind int

const (
	// Continue advances to the next stage.
	Continue ResultKind = iota
	// Interrupt stops the pipeline without an error.
	Interrupt
	// Error stops the pipeline and surfaces the error notice to the user.
	Error
)

// StageResult carries a stage's outcome and any notices it produced.
type StageResult struct {
	Kind ResultKind
	// NewQuery, when set, replaces the pipeline's current query.
	NewQuery *Query
	// UserNotice is sent to the user on Interrupt.
	UserNotice message.Chain
	// ErrorNotice is sent to the user on Error.
	ErrorNotice string
	// ConsoleNotice is logged at info level.
	ConsoleNotice string
	// DebugNotice is logged at debug level.
	DebugNotice string
}

// Stage is a single pipeline step. Stages are stateless across queries
// except where documented; they may suspend on I/O and must not retain
// the query after returning.
type Stage interface {
	Process(ctx context.Context, q *Query, stageName string) StageResult
}

// StageFunc adapts a function to the Stage interface.
type StageFunc func(ctx context.Context, q *Query, stageName string) StageResult

// Process implements Stage.
func (f StageFunc) Process(ctx context.Context, q *Query, stageName string) StageResult {
	return f(ctx, q, stageName)
}

// Stages maps stage names to implementations; the manager resolves
// pipeline definitions against it.
type Stages map[string]Stage

// Well-known stage names used by pipeline definitions.
const (
	StageAccessControl    = "access-control"
	StageRateLimitRequire = "rate-limit-require"
	StageRespondRule      = "respond-rule"
	StagePreContentFilter = "pre-content-filter"
	StageRunner           = "runner"
	StageRateLimitRelease = "rate-limit-release"
)

// DefaultStageOrder is the stage list used when a definition omits one.
func DefaultStageOrder() []string {
	return []string{
		StageAccessControl,
		StageRateLimitRequire,
		StageRespondRule,
		StagePreContentFilter,
		StageRunner,
		StageRateLimitRelease,
	}
}
