// Package media provides the media elements the player drives and the
// tooling around them.
package media

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ProbeDuration uses ffprobe to read the duration of a media file or URL in
// seconds.
func ProbeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}
	return parseDuration(string(output))
}

func parseDuration(output string) (float64, error) {
	var seconds float64
	if _, err := fmt.Sscanf(strings.TrimSpace(output), "%f", &seconds); err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", strings.TrimSpace(output), err)
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("non-positive duration %v", seconds)
	}
	return seconds, nil
}

// CheckFFprobeAvailable checks that ffprobe is on PATH.
func CheckFFprobeAvailable() error {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return nil
}

// CheckFFplayAvailable checks that ffplay is on PATH.
func CheckFFplayAvailable() error {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return fmt.Errorf("ffplay not found in PATH: %w", err)
	}
	return nil
}
