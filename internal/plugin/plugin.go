// Package plugin provides the plugin interface and lifecycle management for
// optional tally extensions such as the receipt ledger.
package plugin

import (
	"context"

	"github.com/soyeahso/tally/internal/hooks"
	"github.com/soyeahso/tally/internal/logging"
)

// Plugin is implemented by every tally extension.
type Plugin interface {
	// ID returns a unique identifier for the plugin (e.g., "ledger").
	ID() string

	// Name returns a human-readable name.
	Name() string

	// Version returns the plugin version string.
	Version() string

	// Init subscribes the plugin to hooks and acquires its resources.
	Init(ctx context.Context, api API) error

	// Close releases resources. It is only called after a successful Init.
	Close() error
}

// API is what a plugin gets to work with during Init.
type API struct {
	Hooks *hooks.Manager
	Log   *logging.Logger
}

// PluginInfo holds summary data about a plugin.
type PluginInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Initialized bool   `json:"initialized"`
}
