package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"basegraph.app/intake/internal/model"
)

const maxExampleQueryRunes = 500

// FewShotStore keeps a bounded FIFO of strong-model classifications per
// domain for use as weak-model prompt examples.
type FewShotStore interface {
	// Examples returns up to limit examples for domain, newest first.
	Examples(ctx context.Context, domain model.Domain, limit int) ([]model.FewShotExample, error)
	// Add appends ex to its domain's list, evicting the oldest past the bound.
	Add(ctx context.Context, ex model.FewShotExample) error
}

// FileFewShotStore keeps every domain's examples in one JSON file. Each Add
// reads the file, appends, trims and rewrites it through a temp file and
// rename. Writes within one process are serialized; across processes the
// last writer wins, so use the Redis store when several workers teach.
type FileFewShotStore struct {
	path        string
	maxExamples int

	mu sync.Mutex
}

type fewShotFile map[model.Domain][]model.FewShotExample

func NewFileFewShotStore(path string, maxExamples int) (*FileFewShotStore, error) {
	if path == "" {
		return nil, errors.New("few-shot file path is required")
	}
	if maxExamples <= 0 {
		return nil, fmt.Errorf("few-shot max examples must be positive, got %d", maxExamples)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating few-shot directory: %w", err)
	}
	return &FileFewShotStore{path: path, maxExamples: maxExamples}, nil
}

func (s *FileFewShotStore) Examples(_ context.Context, domain model.Domain, limit int) ([]model.FewShotExample, error) {
	if limit <= 0 {
		return []model.FewShotExample{}, nil
	}

	s.mu.Lock()
	data, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	list := data[domain]
	out := make([]model.FewShotExample, 0, min(limit, len(list)))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func (s *FileFewShotStore) Add(_ context.Context, ex model.FewShotExample) error {
	ex.Query = truncateQuery(ex.Query)

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}

	list := append(data[ex.Domain], ex)
	if len(list) > s.maxExamples {
		list = list[len(list)-s.maxExamples:]
	}
	data[ex.Domain] = list

	return s.save(data)
}

func (s *FileFewShotStore) load() (fewShotFile, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return fewShotFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading few-shot file: %w", err)
	}
	if len(raw) == 0 {
		return fewShotFile{}, nil
	}

	data := fewShotFile{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decoding few-shot file %s: %w", s.path, err)
	}
	return data, nil
}

func (s *FileFewShotStore) save(data fewShotFile) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding few-shot file: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o644); err != nil {
		return fmt.Errorf("writing few-shot file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming few-shot file: %w", err)
	}
	return nil
}

func truncateQuery(q string) string {
	if utf8.RuneCountInString(q) <= maxExampleQueryRunes {
		return q
	}
	return string([]rune(q)[:maxExampleQueryRunes])
}
