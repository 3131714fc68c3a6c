package store

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileStore serves definitions from a YAML seed file, for local runs
// without a database. Binaries live in memory only.
type FileStore struct {
	pipelines []PipelineDef
	bots      []Bot

	mu       sync.Mutex
	binaries map[string][]byte
}

type fileDoc struct {
	Pipelines []PipelineDef `yaml:"pipelines"`
	Bots      []Bot         `yaml:"bots"`
}

// NewFileStore loads the seed file at path.
func NewFileStore(path string) (*FileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode store file: %w", err)
	}
	return &FileStore{
		pipelines: doc.Pipelines,
		bots:      doc.Bots,
		binaries:  map[string][]byte{},
	}, nil
}

func (f *FileStore) GetPipelines(context.Context) ([]PipelineDef, error) {
	return append([]PipelineDef(nil), f.pipelines...), nil
}

func (f *FileStore) GetBots(context.Context) ([]Bot, error) {
	return append([]Bot(nil), f.bots...), nil
}

func (f *FileStore) GetBotByUUID(_ context.Context, id string) (Bot, error) {
	for _, b := range f.bots {
		if b.UUID == id {
			return b, nil
		}
	}
	return Bot{}, ErrNotFound
}

func (f *FileStore) SetBinary(_ context.Context, key, owner string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binaries[owner+"/"+key] = append([]byte(nil), data...)
	return nil
}

func (f *FileStore) GetBinary(_ context.Context, key, owner string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.binaries[owner+"/"+key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}
