package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/audiodoc/internal/defra"
)

var defraCmd = &cobra.Command{
	Use:   "defra",
	Short: "Manage the DefraDB job store container",
	Long: `Manage the DefraDB container used when store.backend is "defra".

"audiodoc serve" starts and stops the container itself. These commands are
for inspecting it or running it on its own. Data persists to
~/.audiodoc/defradb/.

Examples:
  audiodoc defra start
  audiodoc defra status
  audiodoc defra logs --tail 50`,
}

// withNode runs fn against the configured node and closes it.
func withNode(cmd *cobra.Command, fn func(n *defra.Node) error) error {
	h, err := getHome()
	if err != nil {
		return err
	}
	cm, err := loadConfig(h, nil)
	if err != nil {
		return err
	}
	c := cm.Get().Defra
	if err := os.MkdirAll(h.DefraPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	n, err := defra.NewNode(defra.NodeConfig{
		ContainerName: c.ContainerName,
		Image:         c.Image,
		HostPort:      c.Port,
		DataPath:      h.DefraPath(),
	})
	if err != nil {
		return err
	}
	defer n.Close()
	return fn(n)
}

var defraStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Create or start the DefraDB container",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNode(cmd, func(n *defra.Node) error {
			fmt.Println("Starting DefraDB...")
			if err := n.Start(cmd.Context()); err != nil {
				return fmt.Errorf("failed to start DefraDB: %w", err)
			}
			fmt.Printf("DefraDB is running at %s\n", n.URL())
			return nil
		})
	},
}

var defraStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the DefraDB container (data preserved)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNode(cmd, func(n *defra.Node) error {
			if err := n.Stop(cmd.Context()); err != nil {
				return fmt.Errorf("failed to stop DefraDB: %w", err)
			}
			fmt.Println("DefraDB stopped")
			return nil
		})
	},
}

var defraStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show DefraDB container status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNode(cmd, func(n *defra.Node) error {
			ctx := cmd.Context()
			state, err := n.State(ctx)
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			switch state {
			case defra.NodeRunning:
				fmt.Printf("Status: %s\n", state)
				fmt.Printf("URL: %s\n", n.URL())
				if err := defra.NewClient(n.URL()).HealthCheck(ctx); err != nil {
					fmt.Printf("Health: unhealthy (%v)\n", err)
				} else {
					fmt.Println("Health: healthy")
				}
			case defra.NodeStopped:
				fmt.Printf("Status: %s (use 'audiodoc defra start' to start)\n", state)
			case defra.NodeMissing:
				fmt.Printf("Status: %s (use 'audiodoc defra start' to create)\n", state)
			default:
				fmt.Printf("Status: %s\n", state)
			}
			return nil
		})
	},
}

var logsTail string

var defraLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show DefraDB container logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNode(cmd, func(n *defra.Node) error {
			logs, err := n.Logs(cmd.Context(), logsTail)
			if err != nil {
				return err
			}
			fmt.Print(logs)
			return nil
		})
	},
}

var defraRemoveCmd = &cobra.Command{
	Use:     "rm",
	Aliases: []string{"remove"},
	Short:   "Remove the DefraDB container (data in the home directory is kept)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNode(cmd, func(n *defra.Node) error {
			if err := n.Remove(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("DefraDB container removed (data preserved)")
			return nil
		})
	},
}

var defraWaitTimeout time.Duration

var defraWaitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for DefraDB to accept connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNode(cmd, func(n *defra.Node) error {
			fmt.Printf("Waiting for DefraDB (timeout: %s)...\n", defraWaitTimeout)
			if err := n.WaitReady(cmd.Context(), defraWaitTimeout); err != nil {
				return fmt.Errorf("DefraDB not ready: %w", err)
			}
			fmt.Println("DefraDB is ready")
			return nil
		})
	},
}

func init() {
	defraCmd.AddCommand(defraStartCmd, defraStopCmd, defraStatusCmd, defraLogsCmd, defraRemoveCmd, defraWaitCmd)
	defraLogsCmd.Flags().StringVar(&logsTail, "tail", "100", "Number of lines to show from the end")
	defraWaitCmd.Flags().DurationVar(&defraWaitTimeout, "timeout", 30*time.Second, "Timeout waiting for DefraDB")
	rootCmd.AddCommand(defraCmd)
}
