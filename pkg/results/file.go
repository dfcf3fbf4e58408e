package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// FileSink keeps results as a JSON array in one file, appending on each
// write. The file is replaced atomically so a crash never leaves it half
// written.
type FileSink struct {
	path   string
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewFileSink returns a sink writing to path. The file is created on first
// write.
func NewFileSink(path string, logger zerolog.Logger) (*FileSink, error) {
	if path == "" {
		return nil, errors.New("results file path is required")
	}
	return &FileSink{
		path:   path,
		logger: logger.With().Str("component", "FileSink").Str("path", path).Logger(),
	}, nil
}

// Write appends res to the array stored in the file.
func (f *FileSink) Write(_ context.Context, res RunResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := ReadFile(f.path)
	if err != nil {
		return err
	}
	all = append(all, res)

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".results-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp results file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write results: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace results file: %w", err)
	}

	f.logger.Info().Str("run_id", res.RunID).Int("total", len(all)).Msg("Saved run result.")
	return nil
}

func (f *FileSink) Close() error { return nil }

// ReadFile loads the results stored at path. A missing file holds no results.
func ReadFile(path string) ([]RunResult, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read results file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var all []RunResult
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("results file %s is not a JSON array of results: %w", path, err)
	}
	return all, nil
}
