package main

import (
	"github.com/marginalia-app/marginalia/internal/api"
	"github.com/marginalia-app/marginalia/internal/server/endpoints"
)

var serverURL string

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	registry := api.NewRegistry()
	for _, ep := range endpoints.All() {
		registry.Register(ep)
	}

	apiCmd := registry.BuildCommands(getServerURL)
	// Persistent so every endpoint subcommand inherits it.
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8580", "Server URL",
	)

	rootCmd.AddCommand(apiCmd)
}
