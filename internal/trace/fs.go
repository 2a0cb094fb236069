package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/webwraith/wraith/internal/agent"
)

// FSStore persists traces under a root directory, one JSON file per run.
type FSStore struct {
	root string
}

// NewFSStore creates the store, making the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) Save(_ context.Context, customerID, sessionID string, summary agent.RunSummary) error {
	path := filepath.Join(s.root, filepath.FromSlash(Key(customerID, sessionID, summary.RunID)))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create trace path: %w", err)
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}

	// Write-then-rename so readers never see a partial trace.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize trace: %w", err)
	}
	return nil
}

func (s *FSStore) Load(_ context.Context, customerID, sessionID, runID string) (agent.RunSummary, error) {
	path := filepath.Join(s.root, filepath.FromSlash(Key(customerID, sessionID, runID)))
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return agent.RunSummary{}, ErrNotFound
		}
		return agent.RunSummary{}, fmt.Errorf("read trace: %w", err)
	}
	var summary agent.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return agent.RunSummary{}, fmt.Errorf("decode trace: %w", err)
	}
	return summary, nil
}
