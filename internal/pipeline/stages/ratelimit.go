package stages

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wirebotio/wirebot/internal/message"
	"github.com/wirebotio/wirebot/internal/pipeline"
	"github.com/wirebotio/wirebot/internal/ratelimit"
)

// RateLimit serves both the require and release stage slots. Limiters
// are cached per config shape so pipelines with identical settings
// share window buckets; the require key includes the bot uuid, so
// different bots never contend for the same bucket.
type RateLimit struct {
	mu       sync.Mutex
	limiters map[string]ratelimit.Limiter
}

// NewRateLimit builds the stage with an empty limiter cache.
func NewRateLimit() *RateLimit {
	return &RateLimit{limiters: map[string]ratelimit.Limiter{}}
}

// Process implements pipeline.Stage for both bracket halves.
func (s *RateLimit) Process(ctx context.Context, q *pipeline.Query, stageName string) pipeline.StageResult {
	switch stageName {
	case pipeline.StageRateLimitRequire:
		return s.require(ctx, q)
	case pipeline.StageRateLimitRelease:
		return s.release(q)
	default:
		return pipeline.StageResult{Kind: pipeline.Continue}
	}
}

func (s *RateLimit) require(ctx context.Context, q *pipeline.Query) pipeline.StageResult {
	limiter := s.limiterFor(q.PipelineConfig.Safety.RateLimit)
	key := q.BotUUID + "/" + q.LauncherKey()

	ok, err := limiter.Require(ctx, key)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return pipeline.StageResult{Kind: pipeline.Interrupt, DebugNotice: "rate limit wait aborted"}
		}
		return pipeline.StageResult{Kind: pipeline.Error, ErrorNotice: "rate limiting failed, please try again later"}
	}
	if !ok {
		return pipeline.StageResult{
			Kind:          pipeline.Interrupt,
			UserNotice:    message.Of(message.Text{Text: "You are sending messages too fast, please slow down."}),
			ConsoleNotice: fmt.Sprintf("rate limit dropped query for %s", key),
		}
	}

	// Admitted. The release stage and the pipeline's finisher both point
	// at the same once-func, so the slot is returned exactly once no
	// matter which path terminates the query.
	releaseOnce := sync.OnceFunc(func() { limiter.Release(key) })
	q.Variables[pipeline.VarRateLimitRelease] = releaseOnce
	q.OnFinish(releaseOnce)
	return pipeline.StageResult{Kind: pipeline.Continue}
}

func (s *RateLimit) release(q *pipeline.Query) pipeline.StageResult {
	if fn, ok := q.Variables[pipeline.VarRateLimitRelease].(func()); ok {
		fn()
	}
	return pipeline.StageResult{Kind: pipeline.Continue}
}

func (s *RateLimit) limiterFor(cfg pipeline.RateLimitConfig) ratelimit.Limiter {
	sig := fmt.Sprintf("%s/%d/%d/%s", cfg.Algo, cfg.WindowLength, cfg.Limitation, cfg.Strategy)
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[sig]; ok {
		return l
	}
	l := ratelimit.NewFixedWindow(cfg.Window(), cfg.Limitation, ratelimit.Strategy(cfg.Strategy))
	s.limiters[sig] = l
	return l
}
