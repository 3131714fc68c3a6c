package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// GetPipelines loads every pipeline definition.
func (p *Postgres) GetPipelines(ctx context.Context) ([]PipelineDef, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT uuid, name, stages, config, extensions FROM pipelines ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query pipelines: %w", err)
	}
	defer rows.Close()
	var defs []PipelineDef
	for rows.Next() {
		var def PipelineDef
		var stages, config, extensions []byte
		if err := rows.Scan(&def.UUID, &def.Name, &stages, &config, &extensions); err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		if err := json.Unmarshal(stages, &def.Stages); err != nil {
			return nil, fmt.Errorf("decode pipeline stages: %w", err)
		}
		if len(config) > 0 {
			if err := json.Unmarshal(config, &def.Config); err != nil {
				return nil, fmt.Errorf("decode pipeline config: %w", err)
			}
		}
		if len(extensions) > 0 {
			if err := json.Unmarshal(extensions, &def.Extensions); err != nil {
				return nil, fmt.Errorf("decode pipeline extensions: %w", err)
			}
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// GetBots loads every bot.
func (p *Postgres) GetBots(ctx context.Context) ([]Bot, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT uuid, name, adapter, pipeline_uuid, enabled FROM bots ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query bots: %w", err)
	}
	defer rows.Close()
	var bots []Bot
	for rows.Next() {
		var b Bot
		if err := rows.Scan(&b.UUID, &b.Name, &b.Adapter, &b.PipelineUUID, &b.Enabled); err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// GetBotByUUID loads one bot by id.
func (p *Postgres) GetBotByUUID(ctx context.Context, id string) (Bot, error) {
	var b Bot
	err := p.pool.QueryRow(ctx,
		`SELECT uuid, name, adapter, pipeline_uuid, enabled FROM bots WHERE uuid = $1`, id).
		Scan(&b.UUID, &b.Name, &b.Adapter, &b.PipelineUUID, &b.Enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return Bot{}, ErrNotFound
	}
	if err != nil {
		return Bot{}, fmt.Errorf("query bot: %w", err)
	}
	return b, nil
}

// SetBinary upserts one opaque blob.
func (p *Postgres) SetBinary(ctx context.Context, key, owner string, data []byte) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO binaries (key, owner, data) VALUES ($1, $2, $3)
		 ON CONFLICT (key, owner) DO UPDATE SET data = EXCLUDED.data`,
		key, owner, data)
	if err != nil {
		return fmt.Errorf("set binary: %w", err)
	}
	return nil
}

// GetBinary loads one opaque blob.
func (p *Postgres) GetBinary(ctx context.Context, key, owner string) ([]byte, error) {
	var data []byte
	err := p.pool.QueryRow(ctx,
		`SELECT data FROM binaries WHERE key = $1 AND owner = $2`, key, owner).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get binary: %w", err)
	}
	return data, nil
}
