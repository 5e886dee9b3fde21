package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Manager handles job record CRUD over a Store. It does not execute jobs;
// the Runner does that and reports progress through the manager.
type Manager struct {
	store  Store
	logger *slog.Logger
}

// NewManager creates a new job manager.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger}
}

// Create stores a submitted job whose input is marshalled from input.
func (m *Manager) Create(ctx context.Context, jobType string, input any) (string, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job input: %w", err)
	}

	id, err := m.store.Create(ctx, NewRecord(jobType, raw))
	if err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	m.logger.Info("job created", "job_id", id, "type", jobType)
	return id, nil
}

// Get returns a job record by ID.
func (m *Manager) Get(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

// List returns jobs matching the filter, newest first.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	return m.store.List(ctx, filter)
}

// UpdateStatus moves a job to status. errMsg is recorded when non-empty.
func (m *Manager) UpdateStatus(ctx context.Context, jobID string, status Status, errMsg string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid job status %q", status)
	}
	if err := m.store.UpdateStatus(ctx, jobID, status, errMsg); err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	if status == StatusFailed {
		m.logger.Warn("job failed", "job_id", jobID, "error", errMsg)
	} else {
		m.logger.Debug("job status", "job_id", jobID, "status", status)
	}
	return nil
}

// UpdateMetadata replaces a job's progress metadata.
func (m *Manager) UpdateMetadata(ctx context.Context, jobID string, metadata map[string]any) error {
	return m.store.UpdateMetadata(ctx, jobID, metadata)
}

// SetResult stores the marshalled result on a job.
func (m *Manager) SetResult(ctx context.Context, jobID string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %w", err)
	}
	return m.store.SetResult(ctx, jobID, raw)
}

// Delete removes a job record.
func (m *Manager) Delete(ctx context.Context, jobID string) error {
	if err := m.store.Delete(ctx, jobID); err != nil {
		return err
	}
	m.logger.Info("job deleted", "job_id", jobID)
	return nil
}

// HealthCheck reports whether the store is reachable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.store.HealthCheck(ctx)
}

// Close closes the store.
func (m *Manager) Close() error {
	return m.store.Close()
}
