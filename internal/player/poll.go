package player

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/audiodoc/internal/jobs"
)

// JobStatus is the status document the server returns for a job.
type JobStatus struct {
	Status jobs.Status     `json:"status"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// StatusFetcher reads the current status of one job.
type StatusFetcher func(ctx context.Context) (*JobStatus, error)

// maxPollErrors is how many consecutive fetch failures Poll tolerates.
const maxPollErrors = 3

// Poll fetches the status every interval until the job is terminal.
// onChange is called whenever the status differs from the previous one.
// A failed job is returned with a nil error; the caller decides.
func Poll(ctx context.Context, interval time.Duration, fetch StatusFetcher, onChange func(*JobStatus), logger *slog.Logger) (*JobStatus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last     jobs.Status
		failures int
	)
	for {
		st, err := fetch(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures++
			if failures >= maxPollErrors {
				return nil, fmt.Errorf("status unavailable after %d attempts: %w", failures, err)
			}
			logger.Warn("status poll failed", "attempt", failures, "error", err)
		default:
			failures = 0
			if st.Status != last {
				last = st.Status
				if onChange != nil {
					onChange(st)
				}
			}
			if st.Status.IsTerminal() {
				return st, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
