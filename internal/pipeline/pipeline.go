package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/wirebotio/wirebot/internal/message"
)

// Plugin event names emitted while a query runs.
const (
	EventInboundMessage  = "inbound_message"
	EventPreRunner       = "pre_runner"
	EventPostRunner      = "post_runner"
	EventOutboundMessage = "outbound_message"
)

// EventContext is what a plugin bus receives for one event emission.
// Handlers may flag PreventDefault to stop the pipeline and optionally
// set ReplyChain to answer the user directly.
type EventContext struct {
	Name       string
	QueryID    string
	BotUUID    string
	Launcher   string
	Chain      message.Chain
	Variables  map[string]any
	RunnerText string

	PreventDefault bool
	ReplyChain     message.Chain
}

// Bus delivers pipeline events to plugins. Emit blocks until every
// interested handler returns; implementations own their timeouts.
type Bus interface {
	Emit(ctx context.Context, ec *EventContext) error
}

// NopBus is the Bus used when no plugin endpoint is configured.
type NopBus struct{}

func (NopBus) Emit(context.Context, *EventContext) error { return nil }

// RuntimePipeline is one resolved pipeline: an ordered stage list bound
// to a parsed config. Instances are immutable after New and safe for
// concurrent Run calls.
type RuntimePipeline struct {
	UUID   string
	Name   string
	Config Config

	stageNames []string
	stages     []Stage
	bus        Bus
	pool       *Pool
	logger     *slog.Logger
}

// New resolves a stage-name list against the registered stage set. The
// rate-limit bracket is enforced here: a require without a release (or
// the reverse) is a definition error, and a definition naming neither
// gets neither.
func New(logger *slog.Logger, uuid, name string, stageNames []string, cfg Config, set Stages, bus Bus, pool *Pool) (*RuntimePipeline, error) {
	if len(stageNames) == 0 {
		stageNames = DefaultStageOrder()
	}
	hasRequire := slices.Contains(stageNames, StageRateLimitRequire)
	hasRelease := slices.Contains(stageNames, StageRateLimitRelease)
	if hasRequire != hasRelease {
		return nil, fmt.Errorf("pipeline %q: rate-limit-require and rate-limit-release must appear together", name)
	}
	if bus == nil {
		bus = NopBus{}
	}
	stages := make([]Stage, 0, len(stageNames))
	for _, sn := range stageNames {
		st, ok := set[sn]
		if !ok {
			return nil, fmt.Errorf("pipeline %q: unknown stage %q", name, sn)
		}
		stages = append(stages, st)
	}
	return &RuntimePipeline{
		UUID:       uuid,
		Name:       name,
		Config:     cfg,
		stageNames: append([]string(nil), stageNames...),
		stages:     stages,
		bus:        bus,
		pool:       pool,
		logger:     logger.With(slog.String("component", "pipeline"), slog.String("pipeline", name)),
	}, nil
}

// StageNames returns the resolved stage order.
func (p *RuntimePipeline) StageNames() []string {
	return append([]string(nil), p.stageNames...)
}

// Run executes the query through every stage. It always removes the
// query from the pool and runs its finishers before returning, panics
// included, so a rate-limit slot can never leak.
func (p *RuntimePipeline) Run(ctx context.Context, q *Query) {
	log := p.logger.With(slog.String("query_id", q.ID), slog.String("launcher", q.LauncherKey()))

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panicked", slog.Any("panic", r))
		}
		q.runFinishers()
		p.pool.Remove(q.ID)
	}()

	if stop := p.emit(ctx, log, q, EventInboundMessage, ""); stop {
		return
	}

	for i, st := range p.stages {
		name := p.stageNames[i]
		if name == StageRunner {
			if stop := p.emit(ctx, log, q, EventPreRunner, ""); stop {
				return
			}
		}

		res := st.Process(ctx, q, name)
		if res.ConsoleNotice != "" {
			log.Info(res.ConsoleNotice, slog.String("stage", name))
		}
		if res.DebugNotice != "" {
			log.Debug(res.DebugNotice, slog.String("stage", name))
		}

		switch res.Kind {
		case Continue:
			if res.NewQuery != nil {
				res.NewQuery.ID = q.ID
				res.NewQuery.adoptFinishers(q)
				q = res.NewQuery
				p.pool.Replace(q)
				log = p.logger.With(slog.String("query_id", q.ID), slog.String("launcher", q.LauncherKey()))
			}
		case Interrupt:
			if !res.UserNotice.IsEmpty() {
				p.reply(ctx, log, q, res.UserNotice)
			}
			log.Debug("pipeline interrupted", slog.String("stage", name))
			return
		case Error:
			notice := res.ErrorNotice
			if notice == "" {
				notice = "something went wrong, please try again later"
			}
			p.reply(ctx, log, q, message.Of(message.Text{Text: notice}))
			log.Warn("pipeline errored", slog.String("stage", name), slog.String("notice", res.ErrorNotice))
			return
		}

		if name == StageRunner {
			var runnerText string
			if n := len(q.RespMessages); n > 0 {
				runnerText = q.RespMessages[n-1].PlainText()
			}
			if stop := p.emit(ctx, log, q, EventPostRunner, runnerText); stop {
				return
			}
		}
	}

	if len(q.RespMessages) > 0 {
		p.emit(ctx, log, q, EventOutboundMessage, q.RespMessages[len(q.RespMessages)-1].PlainText())
	}
}

// emit raises one plugin event; returns true when a handler prevented
// the default flow.
func (p *RuntimePipeline) emit(ctx context.Context, log *slog.Logger, q *Query, name, runnerText string) bool {
	ec := &EventContext{
		Name:       name,
		QueryID:    q.ID,
		BotUUID:    q.BotUUID,
		Launcher:   q.LauncherKey(),
		Chain:      q.MessageChain,
		Variables:  q.Variables,
		RunnerText: runnerText,
	}
	if err := p.bus.Emit(ctx, ec); err != nil {
		log.Warn("plugin event delivery failed", slog.String("event", name), slog.Any("error", err))
		return false
	}
	if !ec.PreventDefault {
		return false
	}
	if !ec.ReplyChain.IsEmpty() {
		p.reply(ctx, log, q, ec.ReplyChain)
	}
	log.Debug("pipeline stopped by plugin", slog.String("event", name))
	return true
}

func (p *RuntimePipeline) reply(ctx context.Context, log *slog.Logger, q *Query, chain message.Chain) {
	if q.Adapter == nil || q.MessageEvent == nil {
		return
	}
	if err := q.Adapter.ReplyMessage(ctx, q.MessageEvent, chain, false); err != nil {
		log.Warn("reply failed", slog.Any("error", err))
	}
}
