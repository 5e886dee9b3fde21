package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/audiodoc/internal/api"
	"github.com/jackzampolin/audiodoc/internal/config"
	"github.com/jackzampolin/audiodoc/internal/home"
	"github.com/jackzampolin/audiodoc/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	serverURL    string
)

var rootCmd = &cobra.Command{
	Use:   "audiodoc",
	Short: "Turn PDFs and text into narrated, word-highlighted videos",
	Long: `audiodoc turns a PDF or a block of text into a narrated video.

The server extracts the text (Mistral OCR for PDFs), synthesizes speech with
word timing (ElevenLabs) and pairs it with a background video and optional
music. The player shows the narration in sync, highlighting the words being
spoken.`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.audiodoc/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "audiodoc home directory (default: ~/.audiodoc)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&serverURL, "server", "", "server URL (default: from config, http://127.0.0.1:5001)",
	)

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}
}

// getHome returns the home directory, creating it if needed.
func getHome() (*home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, fmt.Errorf("failed to create home directory: %w", err)
	}
	return h, nil
}

// loadConfig reads the config for commands that need it.
func loadConfig(h *home.Dir, logger *slog.Logger) (*config.Manager, error) {
	return config.NewManager(cfgFile, h.Path(), logger)
}

// getServerURL resolves --server lazily, after flag parsing.
func getServerURL() string {
	if serverURL != "" {
		return serverURL
	}
	h, err := home.New(homeDir)
	if err != nil {
		return config.DefaultConfig().ServerURL()
	}
	cm, err := loadConfig(h, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		return config.DefaultConfig().ServerURL()
	}
	return cm.Get().ServerURL()
}
