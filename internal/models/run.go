package models

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Run status values.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run records one CLI invocation (cleanup, verify, setup, warmup, ...).
type Run struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"` // "cleanup", "agents", "setup", etc.
	BaseURL    string     `json:"base_url"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	Output     []string   `json:"output"`
	Report     *Report    `json:"report,omitempty"`
	mu         sync.Mutex
}

// NewRun starts a run, assigning it a UUID.
func NewRun(runType, baseURL string) *Run {
	return &Run{
		ID:        uuid.New().String(),
		Type:      runType,
		BaseURL:   baseURL,
		Status:    RunRunning,
		StartedAt: time.Now(),
		Output:    []string{},
	}
}

// AppendLog adds a line to the run output.
func (r *Run) AppendLog(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Output = append(r.Output, line)
}

// Complete marks the run as completed and attaches its report.
func (r *Run) Complete(report *Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = RunCompleted
	r.Report = report
	now := time.Now()
	r.FinishedAt = &now
}

// Fail marks the run as failed with an error message.
func (r *Run) Fail(err string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = RunFailed
	r.Error = err
	now := time.Now()
	r.FinishedAt = &now
}

// WriteFile writes the run record as indented JSON.
func (r *Run) WriteFile(path string) error {
	r.mu.Lock()
	b, err := json.MarshalIndent(r, "", "  ")
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
