package player

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackzampolin/audiodoc/internal/jobs"
)

func scripted(steps ...any) StatusFetcher {
	i := 0
	return func(context.Context) (*JobStatus, error) {
		step := steps[min(i, len(steps)-1)]
		i++
		if err, ok := step.(error); ok {
			return nil, err
		}
		return &JobStatus{Status: step.(jobs.Status)}, nil
	}
}

func TestPoll(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	transient := errors.New("connection refused")

	tests := []struct {
		name    string
		steps   []any
		want    jobs.Status
		changes int
		wantErr bool
	}{
		{
			name:    "completes",
			steps:   []any{jobs.StatusQueued, jobs.StatusQueued, jobs.StatusSynthesizingAudio, jobs.StatusCompleted},
			want:    jobs.StatusCompleted,
			changes: 3,
		},
		{
			name:    "failed is terminal",
			steps:   []any{jobs.StatusExtractingText, jobs.StatusFailed},
			want:    jobs.StatusFailed,
			changes: 2,
		},
		{
			name:    "recovers from transient errors",
			steps:   []any{transient, transient, jobs.StatusMixing, transient, jobs.StatusCompleted},
			want:    jobs.StatusCompleted,
			changes: 2,
		},
		{
			name:    "gives up",
			steps:   []any{transient},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changes := 0
			st, err := Poll(context.Background(), time.Millisecond, scripted(tt.steps...), func(*JobStatus) { changes++ }, quiet)
			if tt.wantErr {
				if err == nil || !errors.Is(err, transient) {
					t.Fatalf("Poll() error = %v, want wrapped transient", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Poll() error = %v", err)
			}
			if st.Status != tt.want {
				t.Errorf("status = %s, want %s", st.Status, tt.want)
			}
			if changes != tt.changes {
				t.Errorf("onChange called %d times, want %d", changes, tt.changes)
			}
		})
	}
}

func TestPollCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetch := func(context.Context) (*JobStatus, error) {
		cancel()
		return &JobStatus{Status: jobs.StatusQueued}, nil
	}
	if _, err := Poll(ctx, time.Hour, fetch, nil, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Poll() error = %v, want context.Canceled", err)
	}
}
