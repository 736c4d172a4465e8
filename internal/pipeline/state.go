package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"gopkg.in/yaml.v3"
)

// RunStatus is the overall state of a date's run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// State is the persisted record of a run, stored as run_state.yaml in the
// date's processed directory.
type State struct {
	Date        domain.Date           `yaml:"date"`
	RunID       string                `yaml:"run_id"`
	Status      RunStatus             `yaml:"status"`
	StartedAt   time.Time             `yaml:"started_at"`
	UpdatedAt   time.Time             `yaml:"updated_at"`
	CompletedAt time.Time             `yaml:"completed_at,omitempty"`
	Steps       map[string]*StepState `yaml:"steps"`
	Composite   *domain.LayerStats    `yaml:"composite,omitempty"`
}

// StepState records the last execution of one step.
type StepState struct {
	Status      StepOutcome `yaml:"status"`
	Output      string      `yaml:"output"`
	SHA256      string      `yaml:"sha256,omitempty"`
	Size        int64       `yaml:"size,omitempty"`
	CompletedAt time.Time   `yaml:"completed_at,omitempty"`
	DurationMS  int64       `yaml:"duration_ms,omitempty"`
	// Adopted marks an output found on disk without a record and accepted after decoding.
	Adopted bool   `yaml:"adopted,omitempty"`
	Error   string `yaml:"error,omitempty"`
}

// LoadState reads the state record at path. A missing file yields an empty state.
func LoadState(path string) (*State, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &State{Steps: make(map[string]*StepState)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", path, err)
	}
	var s State
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	if s.Steps == nil {
		s.Steps = make(map[string]*StepState)
	}
	return &s, nil
}

// Save writes the record atomically.
func (s *State) Save(path string) error {
	b, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write state %s: %w", path, err)
	}
	tmp := f.Name()
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write state %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write state %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write state %s: %w", path, err)
	}
	return nil
}
