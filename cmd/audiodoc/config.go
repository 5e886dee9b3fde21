package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/audiodoc/internal/api"
	"github.com/jackzampolin/audiodoc/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and create the configuration file",
}

var configForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config to the home directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := getHome()
		if err != nil {
			return err
		}
		path := cfgFile
		if path == "" {
			path = h.ConfigPath()
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Show effective config values and their defaults",
	Long: `Show the effective value of a dotted config key next to its default,
or every documented key when none is given.

Examples:
  audiodoc config get
  audiodoc config get defaults.max_workers`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := getHome()
		if err != nil {
			return err
		}
		cm, err := loadConfig(h, nil)
		if err != nil {
			return err
		}

		type row struct {
			Key         string `json:"key" yaml:"key"`
			Value       any    `json:"value" yaml:"value"`
			Default     any    `json:"default" yaml:"default"`
			Description string `json:"description,omitempty" yaml:"description,omitempty"`
		}
		toRow := func(e config.Entry) row {
			v, _ := cm.Lookup(e.Key)
			return row{Key: e.Key, Value: v, Default: e.Value, Description: e.Description}
		}

		if len(args) == 1 {
			e, err := config.GetDefault(args[0])
			if err != nil {
				v, ok := cm.Lookup(args[0])
				if !ok {
					return err
				}
				return api.Output(row{Key: args[0], Value: v})
			}
			return api.Output(toRow(*e))
		}

		var rows []row
		for _, e := range config.DefaultEntries() {
			rows = append(rows, toRow(e))
		}
		return api.Output(rows)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configGetCmd)
	rootCmd.AddCommand(configCmd)
}
