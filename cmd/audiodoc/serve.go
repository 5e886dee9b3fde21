package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/audiodoc/internal/media"
	"github.com/jackzampolin/audiodoc/internal/server"
)

var (
	serveHost    string
	servePort    string
	serveVerbose bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the audiodoc server",
	Long: `Start the audiodoc HTTP server and its job workers.

Jobs are stored according to store.backend: sqlite (default, in
~/.audiodoc/data), defra (a DefraDB container started and stopped with the
server) or memory. Jobs interrupted by a restart resume on the next start.

Editing the config file while the server runs reloads providers and the
media catalog.

Examples:
  audiodoc serve                    # Listen on 127.0.0.1:5001
  audiodoc serve --port 3000        # Custom port
  audiodoc serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if serveVerbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

		h, err := getHome()
		if err != nil {
			return err
		}
		cm, err := loadConfig(h, logger)
		if err != nil {
			return err
		}
		if f := cm.File(); f != "" {
			logger.Info("using config file", "path", f)
		} else {
			logger.Warn("no config file found, using defaults (run 'audiodoc config init')")
		}
		if err := media.CheckFFprobeAvailable(); err != nil {
			logger.Warn("narration length will be estimated", "error", err)
		}

		srv, err := server.New(server.Config{
			ConfigManager: cm,
			Home:          h,
			Host:          serveHost,
			Port:          servePort,
			Logger:        logger,
		})
		if err != nil {
			return err
		}
		return srv.Start(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default from config)")
	serveCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(serveCmd)
}
