// Package jobs tracks generation jobs: their records, where records are
// stored and the worker pool that runs them.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// ErrNotFound is returned when a job record does not exist.
var ErrNotFound = errors.New("job not found")

// Job is one runnable job built from a record.
type Job interface {
	// Type returns the job type identifier.
	Type() string

	// Execute runs the job. It must respect ctx and be safe to rerun on a
	// job that was interrupted by a restart. Dependencies come from
	// DepsFromContext(ctx).
	Execute(ctx context.Context) error

	// Status reports progress as key-value pairs, or nil.
	Status(ctx context.Context) (map[string]string, error)
}

// Factory builds a job from its stored record.
type Factory func(rec *Record) (Job, error)

// Dependencies provides shared resources to executing jobs.
type Dependencies struct {
	Manager *Manager
	Logger  *slog.Logger
}

type depsKey struct{}

// ContextWithDeps returns a new context with Dependencies attached.
func ContextWithDeps(ctx context.Context, deps Dependencies) context.Context {
	return context.WithValue(ctx, depsKey{}, deps)
}

// DepsFromContext retrieves Dependencies from the context.
func DepsFromContext(ctx context.Context) Dependencies {
	deps, ok := ctx.Value(depsKey{}).(Dependencies)
	if !ok {
		return Dependencies{}
	}
	return deps
}

// Status is a job's position in the generation pipeline.
type Status string

const (
	StatusSubmitted         Status = "submitted"
	StatusQueued            Status = "queued"
	StatusExtractingText    Status = "extracting-text"
	StatusTextReady         Status = "text-ready"
	StatusSynthesizingAudio Status = "synthesizing-audio"
	StatusMixing            Status = "mixing"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
)

// IsTerminal reports whether no further transitions happen.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusSubmitted, StatusQueued, StatusExtractingText, StatusTextReady,
		StatusSynthesizingAudio, StatusMixing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Record is a stored job.
type Record struct {
	ID          string          `json:"id"`
	JobType     string          `json:"job_type"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// NewRecord creates a record for submission.
func NewRecord(jobType string, input json.RawMessage) *Record {
	now := time.Now().UTC()
	return &Record{
		JobType:   jobType,
		Status:    StatusSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
		Input:     input,
	}
}

// applyStatus updates status and its timestamps in place.
func (r *Record) applyStatus(status Status, errMsg string, now time.Time) {
	r.Status = status
	r.UpdatedAt = now
	switch {
	case status.IsTerminal():
		r.CompletedAt = &now
	case status != StatusSubmitted && status != StatusQueued && r.StartedAt == nil:
		r.StartedAt = &now
	}
	if errMsg != "" {
		r.Error = errMsg
	}
}
