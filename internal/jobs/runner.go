package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrUnknownJobType is returned when no factory is registered for a type.
var ErrUnknownJobType = errors.New("unknown job type")

// RunnerStatus reports pool occupancy.
type RunnerStatus struct {
	Workers    int `json:"workers"`
	InFlight   int `json:"in_flight"`
	QueueDepth int `json:"queue_depth"`
}

// Runner executes jobs on a bounded pool of workers.
type Runner struct {
	manager   *Manager
	logger    *slog.Logger
	workers   int
	factories map[string]Factory

	queue chan string

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	inFlight int

	wg      sync.WaitGroup
	started bool
}

// NewRunner creates a runner with the given number of workers (at least 1).
func NewRunner(manager *Manager, workers int, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	workers = max(workers, 1)
	return &Runner{
		manager:   manager,
		logger:    logger,
		workers:   workers,
		factories: make(map[string]Factory),
		queue:     make(chan string, 1024),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// RegisterFactory binds a job type to its factory. Call before Start.
func (r *Runner) RegisterFactory(jobType string, f Factory) {
	r.factories[jobType] = f
}

// Start launches the workers and requeues jobs left unfinished by a
// previous run. Workers stop when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("runner already started")
	}
	r.started = true
	r.mu.Unlock()

	for range r.workers {
		r.wg.Add(1)
		go r.work(ctx)
	}

	return r.resume(ctx)
}

// Wait blocks until all workers have exited.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Submit creates a job record and queues it.
func (r *Runner) Submit(ctx context.Context, jobType string, input any) (string, error) {
	if _, ok := r.factories[jobType]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownJobType, jobType)
	}
	id, err := r.manager.Create(ctx, jobType, input)
	if err != nil {
		return "", err
	}
	if err := r.enqueue(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

// Cancel stops a running job. It reports whether one was running.
func (r *Runner) Cancel(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[jobID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Status returns pool occupancy.
func (r *Runner) Status() RunnerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RunnerStatus{Workers: r.workers, InFlight: r.inFlight, QueueDepth: len(r.queue)}
}

func (r *Runner) enqueue(ctx context.Context, id string) error {
	if err := r.manager.UpdateStatus(ctx, id, StatusQueued, ""); err != nil {
		return err
	}
	select {
	case r.queue <- id:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) resume(ctx context.Context) error {
	pending, err := r.manager.List(ctx, ListFilter{
		Statuses: []Status{StatusSubmitted, StatusQueued, StatusExtractingText, StatusTextReady, StatusSynthesizingAudio, StatusMixing},
		Limit:    cap(r.queue),
	})
	if err != nil {
		return fmt.Errorf("failed to list unfinished jobs: %w", err)
	}
	// oldest first
	for i := len(pending) - 1; i >= 0; i-- {
		if _, ok := r.factories[pending[i].JobType]; !ok {
			continue
		}
		r.logger.Info("resuming job", "job_id", pending[i].ID, "status", pending[i].Status)
		if err := r.enqueue(ctx, pending[i].ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) work(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.queue:
			r.run(ctx, id)
		}
	}
}

func (r *Runner) run(ctx context.Context, id string) {
	rec, err := r.manager.Get(ctx, id)
	if err != nil {
		// deleted while queued
		if !errors.Is(err, ErrNotFound) {
			r.logger.Error("failed to load job", "job_id", id, "error", err)
		}
		return
	}
	if rec.Status.IsTerminal() {
		return
	}

	factory, ok := r.factories[rec.JobType]
	if !ok {
		r.fail(ctx, id, fmt.Errorf("%w: %s", ErrUnknownJobType, rec.JobType))
		return
	}
	job, err := factory(rec)
	if err != nil {
		r.fail(ctx, id, err)
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancels[id] = cancel
	r.inFlight++
	r.mu.Unlock()
	defer func() {
		cancel()
		r.mu.Lock()
		delete(r.cancels, id)
		r.inFlight--
		r.mu.Unlock()
	}()

	logger := r.logger.With("job_id", id, "type", rec.JobType)
	logger.Info("job started")
	jobCtx = ContextWithDeps(jobCtx, Dependencies{Manager: r.manager, Logger: logger})

	if err := job.Execute(jobCtx); err != nil {
		if ctx.Err() != nil {
			// shutting down; the job resumes on next start
			return
		}
		if errors.Is(jobCtx.Err(), context.Canceled) {
			logger.Info("job cancelled")
			return
		}
		r.fail(ctx, id, err)
		return
	}

	cur, err := r.manager.Get(ctx, id)
	if err != nil {
		return
	}
	if !cur.Status.IsTerminal() {
		if err := r.manager.UpdateStatus(ctx, id, StatusCompleted, ""); err != nil {
			logger.Error("failed to complete job", "error", err)
			return
		}
	}
	logger.Info("job finished")
}

func (r *Runner) fail(ctx context.Context, id string, err error) {
	if uerr := r.manager.UpdateStatus(ctx, id, StatusFailed, err.Error()); uerr != nil && !errors.Is(uerr, ErrNotFound) {
		r.logger.Error("failed to record job failure", "job_id", id, "error", uerr)
	}
}
