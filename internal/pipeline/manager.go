package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/wirebotio/wirebot/internal/adapter"
	"github.com/wirebotio/wirebot/internal/event"
	"github.com/wirebotio/wirebot/internal/session"
	"github.com/wirebotio/wirebot/internal/store"
)

// Manager loads pipeline definitions from the store and dispatches
// inbound events through them.
type Manager struct {
	logger   *slog.Logger
	store    store.Store
	sessions *session.Store
	stages   Stages
	bus      Bus
	pool     *Pool

	mu        sync.RWMutex
	pipelines map[string]*RuntimePipeline
}

// NewManager builds an empty manager; call LoadAll before dispatching.
func NewManager(logger *slog.Logger, st store.Store, sessions *session.Store, stages Stages, bus Bus, pool *Pool) *Manager {
	return &Manager{
		logger:    logger.With(slog.String("component", "pipeline-manager")),
		store:     st,
		sessions:  sessions,
		stages:    stages,
		bus:       bus,
		pool:      pool,
		pipelines: map[string]*RuntimePipeline{},
	}
}

// Pool exposes the in-flight query registry.
func (m *Manager) Pool() *Pool { return m.pool }

// LoadAll loads every definition from the store. Definitions that fail
// to resolve are skipped with a log entry rather than failing startup.
func (m *Manager) LoadAll(ctx context.Context) error {
	defs, err := m.store.GetPipelines(ctx)
	if err != nil {
		return fmt.Errorf("load pipelines: %w", err)
	}
	for _, def := range defs {
		if err := m.Load(def); err != nil {
			m.logger.Warn("skipping pipeline", slog.String("name", def.Name), slog.Any("error", err))
		}
	}
	m.logger.Info("pipelines loaded", slog.Int("count", m.Len()))
	return nil
}

// Load resolves one definition and registers it, replacing any previous
// pipeline with the same uuid.
func (m *Manager) Load(def store.PipelineDef) error {
	cfg, err := ParseConfig(def.Config)
	if err != nil {
		return fmt.Errorf("pipeline %q: %w", def.Name, err)
	}
	p, err := New(m.logger, def.UUID, def.Name, def.Stages, cfg, m.stages, m.bus, m.pool)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.pipelines[def.UUID] = p
	m.mu.Unlock()
	return nil
}

// GetByUUID returns the pipeline registered under id.
func (m *Manager) GetByUUID(id string) (*RuntimePipeline, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pipelines[id]
	return p, ok
}

// Remove drops a pipeline. In-flight queries keep their resolved
// pipeline and run to completion.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.pipelines, id)
	m.mu.Unlock()
}

// ReloadAll re-reads every definition from the store.
func (m *Manager) ReloadAll(ctx context.Context) error {
	defs, err := m.store.GetPipelines(ctx)
	if err != nil {
		return fmt.Errorf("reload pipelines: %w", err)
	}
	next := map[string]*RuntimePipeline{}
	for _, def := range defs {
		cfg, err := ParseConfig(def.Config)
		if err != nil {
			m.logger.Warn("skipping pipeline", slog.String("name", def.Name), slog.Any("error", err))
			continue
		}
		p, err := New(m.logger, def.UUID, def.Name, def.Stages, cfg, m.stages, m.bus, m.pool)
		if err != nil {
			m.logger.Warn("skipping pipeline", slog.String("name", def.Name), slog.Any("error", err))
			continue
		}
		next[def.UUID] = p
	}
	m.mu.Lock()
	m.pipelines = next
	m.mu.Unlock()
	m.logger.Info("pipelines reloaded", slog.Int("count", len(next)))
	return nil
}

// Len reports how many pipelines are registered.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pipelines)
}

// Dispatch builds a query for one inbound event and runs the bot's
// pipeline over it. It blocks until the pipeline finishes; adapters
// call it from their own goroutines.
func (m *Manager) Dispatch(ctx context.Context, ev *event.Event, bot store.Bot, a adapter.Adapter) error {
	p, ok := m.GetByUUID(bot.PipelineUUID)
	if !ok {
		return fmt.Errorf("bot %q: pipeline %s not loaded", bot.Name, bot.PipelineUUID)
	}
	q := &Query{
		ID:             uuid.NewString(),
		BotUUID:        bot.UUID,
		LauncherType:   ev.LauncherType(),
		LauncherID:     ev.LauncherID(),
		SenderID:       ev.Sender.ID,
		MessageEvent:   ev,
		MessageChain:   ev.Chain.Copy(),
		PipelineConfig: p.Config,
		Variables:      map[string]any{VarBotName: bot.Name},
		Session:        m.sessions.GetOrCreate(ev.LauncherType(), ev.LauncherID()),
		Adapter:        a,
	}
	m.pool.Add(q)
	p.Run(ctx, q)
	return nil
}
