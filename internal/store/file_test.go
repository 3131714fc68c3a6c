package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const seedYAML = `
pipelines:
  - uuid: p1
    name: default
    stages:
      - access-control
      - runner
    config:
      ai:
        model: gpt-4o
bots:
  - uuid: b1
    name: helper
    adapter: wecombot
    pipeline_uuid: p1
    enabled: true
  - uuid: b2
    name: disabled-bot
    adapter: telegram
    pipeline_uuid: p1
    enabled: false
`

func newSeededStore(t *testing.T) *FileStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wirebot.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	fs, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	return fs
}

func TestFileStoreLoadsSeed(t *testing.T) {
	t.Parallel()

	fs := newSeededStore(t)
	ctx := context.Background()

	pipelines, err := fs.GetPipelines(ctx)
	if err != nil {
		t.Fatalf("get pipelines: %v", err)
	}
	if len(pipelines) != 1 || pipelines[0].UUID != "p1" {
		t.Fatalf("pipelines = %+v", pipelines)
	}
	if len(pipelines[0].Stages) != 2 || pipelines[0].Stages[1] != "runner" {
		t.Fatalf("stages = %v", pipelines[0].Stages)
	}
	ai, ok := pipelines[0].Config["ai"].(map[string]any)
	if !ok || ai["model"] != "gpt-4o" {
		t.Fatalf("config = %+v", pipelines[0].Config)
	}

	bots, err := fs.GetBots(ctx)
	if err != nil {
		t.Fatalf("get bots: %v", err)
	}
	if len(bots) != 2 || !bots[0].Enabled || bots[1].Enabled {
		t.Fatalf("bots = %+v", bots)
	}
}

func TestFileStoreGetBotByUUID(t *testing.T) {
	t.Parallel()

	fs := newSeededStore(t)
	ctx := context.Background()

	bot, err := fs.GetBotByUUID(ctx, "b1")
	if err != nil {
		t.Fatalf("get bot: %v", err)
	}
	if bot.Name != "helper" || bot.PipelineUUID != "p1" {
		t.Fatalf("bot = %+v", bot)
	}

	if _, err := fs.GetBotByUUID(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStoreBinaries(t *testing.T) {
	t.Parallel()

	fs := newSeededStore(t)
	ctx := context.Background()

	if _, err := fs.GetBinary(ctx, "k", "owner"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	payload := []byte{1, 2, 3}
	if err := fs.SetBinary(ctx, "k", "owner", payload); err != nil {
		t.Fatalf("set binary: %v", err)
	}
	got, err := fs.GetBinary(ctx, "k", "owner")
	if err != nil {
		t.Fatalf("get binary: %v", err)
	}
	if len(got) != 3 || got[0] != 1 {
		t.Fatalf("binary = %v", got)
	}

	// Stored bytes are isolated from the caller's slice.
	payload[0] = 9
	got, _ = fs.GetBinary(ctx, "k", "owner")
	if got[0] != 1 {
		t.Fatalf("binary shares caller memory")
	}

	// Owners are namespaced.
	if _, err := fs.GetBinary(ctx, "k", "other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("owner namespace leaked: %v", err)
	}
}

func TestNewFileStoreErrors(t *testing.T) {
	t.Parallel()

	if _, err := NewFileStore(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("missing file must fail")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("{not yaml"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewFileStore(path); err == nil {
		t.Fatalf("malformed yaml must fail")
	}
}
