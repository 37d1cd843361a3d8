// Package host provides in-memory implementations of the collaborators a
// plugin context delegates to: the CoT bus, map renderer, location
// provider and UI shell. They back the CLI's run command and tests.
package host

import (
	"net/http"
	"time"

	"github.com/omnitak/pluginhost/internal/logging"
	"github.com/omnitak/pluginhost/internal/plugin/api"
)

// Config configures a Host.
type Config struct {
	HistorySize int
	HistoryTTL  time.Duration
	Center      api.Coordinate
	Zoom        float64

	// HTTP is the client plugins' network requests use. Nil uses
	// http.DefaultClient.
	HTTP api.HTTPDoer
}

// Host bundles one of each collaborator.
type Host struct {
	CoT      *CoTBus
	Map      *MapView
	Location *LocationState
	UI       *UIShell

	http api.HTTPDoer
}

// New creates a host.
func New(cfg Config, logger *logging.Logger) *Host {
	doer := cfg.HTTP
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Host{
		CoT:      NewCoTBus(cfg.HistorySize, cfg.HistoryTTL),
		Map:      NewMapView(cfg.Center, cfg.Zoom),
		Location: NewLocationState(),
		UI:       NewUIShell(logger),
		http:     doer,
	}
}

// Providers returns the collaborators for plugin contexts.
func (h *Host) Providers() api.Providers {
	return api.Providers{
		CoT:      h.CoT,
		Map:      h.Map,
		Location: h.Location,
		UI:       h.UI,
		HTTP:     h.http,
	}
}
