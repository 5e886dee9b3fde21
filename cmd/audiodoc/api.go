package main

import (
	"github.com/jackzampolin/audiodoc/internal/api"
	"github.com/jackzampolin/audiodoc/internal/server/endpoints"
)

func init() {
	registry := api.NewRegistry()
	registry.Register(endpoints.All()...)
	rootCmd.AddCommand(registry.BuildCommands(getServerURL))

	// submit is common enough to live at the top level too
	rootCmd.AddCommand((&endpoints.SubmitJobEndpoint{}).Command(getServerURL))
}
