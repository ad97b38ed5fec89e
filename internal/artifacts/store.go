package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"sensor-fdd/internal/models"
)

// ErrNotFound артефакт еще не сохранен
var ErrNotFound = errors.New("artifact not found")

// Имена документов FileStore
const (
	CorrelationsFile = "correlations.yaml"
	PatternsFile     = "patterns.yaml"
)

// Store хранилище выученных артефактов
type Store interface {
	SaveCorrelations(ctx context.Context, correlations models.CorrelationMap) error
	LoadCorrelations(ctx context.Context) (models.CorrelationMap, error)
	SavePatternPairs(ctx context.Context, pairs models.PatternPairMap) error
	LoadPatternPairs(ctx context.Context) (models.PatternPairMap, error)
}

// FileStore хранит артефакты в двух YAML документах в одной директории
type FileStore struct {
	dir string
}

// NewFileStore создает файловое хранилище, директория создается при необходимости
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// SaveCorrelations пишет correlations.yaml
func (s *FileStore) SaveCorrelations(_ context.Context, correlations models.CorrelationMap) error {
	return s.write(CorrelationsFile, correlations)
}

// LoadCorrelations читает correlations.yaml
func (s *FileStore) LoadCorrelations(_ context.Context) (models.CorrelationMap, error) {
	var correlations models.CorrelationMap
	if err := s.read(CorrelationsFile, &correlations); err != nil {
		return nil, err
	}
	return correlations, nil
}

// SavePatternPairs пишет patterns.yaml
func (s *FileStore) SavePatternPairs(_ context.Context, pairs models.PatternPairMap) error {
	return s.write(PatternsFile, pairs)
}

// LoadPatternPairs читает patterns.yaml
func (s *FileStore) LoadPatternPairs(_ context.Context) (models.PatternPairMap, error) {
	var pairs models.PatternPairMap
	if err := s.read(PatternsFile, &pairs); err != nil {
		return nil, err
	}
	return pairs, nil
}

func (s *FileStore) write(name string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	// пишем во временный файл и переименовываем, чтобы читатель не увидел половину документа
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) read(name string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}
