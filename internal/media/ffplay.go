package media

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// FFplayOutput plays a file through ffplay without a display.
type FFplayOutput struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewFFplayOutput creates an output for path.
func NewFFplayOutput(path string, logger *slog.Logger) *FFplayOutput {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFplayOutput{path: path, logger: logger}
}

// Start launches ffplay at position. A running instance is stopped first.
func (o *FFplayOutput) Start(position, rate, volume float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, "ffplay", ffplayArgs(o.path, position, rate, volume)...)
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start ffplay: %w", err)
	}
	o.cancel = cancel

	go func() {
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			o.logger.Debug("ffplay exited", "path", o.path, "error", err)
		}
	}()
	return nil
}

// Stop kills the running instance, if any.
func (o *FFplayOutput) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
}

func (o *FFplayOutput) stopLocked() {
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
}

func ffplayArgs(path string, position, rate, volume float64) []string {
	args := []string{
		"-ss", strconv.FormatFloat(position, 'f', 3, 64),
		"-autoexit",
		"-nodisp",
		"-loglevel", "quiet",
		"-volume", strconv.Itoa(int(volume * 100)),
	}
	if rate != 1 {
		args = append(args, "-af", atempoFilter(rate))
	}
	return append(args, path)
}

// atempoFilter chains atempo stages so each stays within [0.5, 2].
func atempoFilter(rate float64) string {
	var stages []float64
	for rate > 0 && rate < 0.5 {
		stages = append(stages, 0.5)
		rate /= 0.5
	}
	for rate > 2 {
		stages = append(stages, 2)
		rate /= 2
	}
	stages = append(stages, rate)

	parts := make([]string, len(stages))
	for i, r := range stages {
		parts[i] = "atempo=" + strconv.FormatFloat(r, 'f', 2, 64)
	}
	return strings.Join(parts, ",")
}
