package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"feedKeeper/internal/model"
)

// JsonlStorage appends records to a JSONL file.
type JsonlStorage struct {
	path string
	mu   sync.Mutex
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path}
}

// Path returns the file the storage appends to.
func (s *JsonlStorage) Path() string {
	return s.path
}

// Record appends one dead letter.
func (s *JsonlStorage) Record(_ context.Context, letter model.DeadLetter) error {
	return s.appendLines([]any{letter})
}

// PutObservations appends decoded observations.
func (s *JsonlStorage) PutObservations(_ context.Context, observations []model.Observation) error {
	return s.appendLines(boxed(observations))
}

// PutDecodeErrors appends decode failures.
func (s *JsonlStorage) PutDecodeErrors(_ context.Context, failures []model.DecodeError) error {
	return s.appendLines(boxed(failures))
}

func (s *JsonlStorage) appendLines(records []any) error {
	if len(records) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	encoder := json.NewEncoder(writer)
	encoder.SetEscapeHTML(false)
	for i, record := range records {
		if err := encoder.Encode(record); err != nil {
			return fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	return nil
}

// ObservationFiles writes observations and decode errors to separate JSONL files.
type ObservationFiles struct {
	Observations *JsonlStorage
	Errors       *JsonlStorage
}

var _ ObservationSink = ObservationFiles{}

func (f ObservationFiles) PutObservations(ctx context.Context, observations []model.Observation) error {
	return f.Observations.PutObservations(ctx, observations)
}

func (f ObservationFiles) PutDecodeErrors(ctx context.Context, failures []model.DecodeError) error {
	return f.Errors.PutDecodeErrors(ctx, failures)
}

func boxed[T any](items []T) []any {
	out := make([]any, len(items))
	for i := range items {
		out[i] = items[i]
	}
	return out
}
