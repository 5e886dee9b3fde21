package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/audiodoc/internal/api"
	"github.com/jackzampolin/audiodoc/internal/generate"
	"github.com/jackzampolin/audiodoc/internal/jobs"
	"github.com/jackzampolin/audiodoc/internal/media"
	"github.com/jackzampolin/audiodoc/internal/player"
)

var (
	playAudible  bool
	playAutoplay bool
	playVerbose  bool
)

var playCmd = &cobra.Command{
	Use:   "play <job-id>",
	Short: "Wait for a job and play its narration in the terminal",
	Long: `Wait for a job to finish, download its narration and background media,
and play them in sync with the spoken words highlighted.

Commands (one per line):
  p          play / pause
  s <0..1>   seek to a fraction of the narration
  r <rate>   playback speed
  v <0..1>   narration volume
  m <0..1>   music volume
  f          toggle fullscreen
  q          quit

ffprobe is required to measure media; --audible also needs ffplay.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		level := slog.LevelWarn
		if playVerbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		h, err := getHome()
		if err != nil {
			return err
		}
		cm, err := loadConfig(h, logger)
		if err != nil {
			return err
		}
		cfg := cm.Get()

		if err := media.CheckFFprobeAvailable(); err != nil {
			return err
		}
		audible := playAudible || cfg.Player.Audible
		if audible {
			if err := media.CheckFFplayAvailable(); err != nil {
				return err
			}
		}

		client := api.NewClient(getServerURL())
		jobID := args[0]
		fetch := func(ctx context.Context) (*player.JobStatus, error) {
			var st player.JobStatus
			err := client.Get(ctx, "/api/jobs/"+url.PathEscape(jobID)+"/status", &st)
			return &st, err
		}
		st, err := player.Poll(ctx, cfg.Defaults.PollInterval, fetch, func(st *player.JobStatus) {
			fmt.Fprintf(os.Stderr, "job %s: %s\n", jobID, st.Status)
		}, logger)
		if err != nil {
			return err
		}
		if st.Status == jobs.StatusFailed {
			return fmt.Errorf("job failed: %s", st.Error)
		}

		var res generate.Result
		if err := json.Unmarshal(st.Result, &res); err != nil {
			return fmt.Errorf("invalid job result: %w", err)
		}

		dir := h.CacheDir()
		narration, err := download(ctx, client, res.AudioURL, dir, "."+res.AudioFormat)
		if err != nil {
			return fmt.Errorf("failed to download narration: %w", err)
		}
		video, err := download(ctx, client, res.VideoURL, dir, "")
		if err != nil {
			narration.Close()
			return fmt.Errorf("failed to download video %s: %w", res.VideoID, err)
		}
		var music *player.Track
		if res.MusicURL != "" {
			blob, err := download(ctx, client, res.MusicURL, dir, "")
			if err != nil {
				logger.Warn("playing without music", "music", res.MusicID, "error", err)
			} else {
				music = &player.Track{Path: blob.Path(), Resource: blob}
			}
		}

		session := player.NewSession(player.SessionConfig{
			Logger:     logger,
			ResultID:   jobID,
			Alignment:  res.Alignment,
			Narration:  player.Track{Path: narration.Path(), Resource: narration},
			Video:      player.Track{Path: video.Path(), Resource: video},
			Music:      music,
			Audible:    audible,
			Autoplay:   playAutoplay,
			Throttle:   cfg.Player.ThrottleInterval,
			WindowSize: cfg.Player.WindowSize,
			Interval:   cfg.Player.TickInterval,
			Out:        os.Stdout,
			Probe:      media.ProbeDuration,
		})
		return session.Run(ctx, os.Stdin)
	},
}

// download streams a server path into a transient blob.
func download(ctx context.Context, client *api.Client, path, dir, ext string) (*media.Blob, error) {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(client.Download(ctx, path, pw))
	}()
	blob, err := media.NewBlob(dir, ext, pr)
	pr.Close()
	return blob, err
}

func init() {
	playCmd.Flags().BoolVar(&playAudible, "audible", false, "Play sound through ffplay")
	playCmd.Flags().BoolVar(&playAutoplay, "autoplay", true, "Start playing once media is ready")
	playCmd.Flags().BoolVarP(&playVerbose, "verbose", "v", false, "Debug logging")
	rootCmd.AddCommand(playCmd)
}
