// Package store exposes the persistence surface the gateway needs:
// pipeline and bot definitions plus an opaque binary key/value space.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// PipelineDef is one persisted pipeline definition.
type PipelineDef struct {
	UUID       string         `json:"uuid" yaml:"uuid"`
	Name       string         `json:"name" yaml:"name"`
	Stages     []string       `json:"stages" yaml:"stages"`
	Config     map[string]any `json:"config" yaml:"config"`
	Extensions map[string]any `json:"extensions" yaml:"extensions"`
}

// Bot binds a platform adapter to a pipeline.
type Bot struct {
	UUID         string `json:"uuid" yaml:"uuid"`
	Name         string `json:"name" yaml:"name"`
	Adapter      string `json:"adapter" yaml:"adapter"`
	PipelineUUID string `json:"pipeline_uuid" yaml:"pipeline_uuid"`
	Enabled      bool   `json:"enabled" yaml:"enabled"`
}

// Store is the repository interface the core depends on. Implementations
// are interchangeable; the core never sees the schema.
type Store interface {
	GetPipelines(ctx context.Context) ([]PipelineDef, error)
	GetBots(ctx context.Context) ([]Bot, error)
	GetBotByUUID(ctx context.Context, id string) (Bot, error)
	SetBinary(ctx context.Context, key, owner string, data []byte) error
	GetBinary(ctx context.Context, key, owner string) ([]byte, error)
}
