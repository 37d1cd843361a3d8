package api

import (
	"net/http"
)

// The interfaces below are the host collaborators a Context delegates to.
// Implementations are shared across plugins and must serialize their own
// writes.

// CoTBus is the host's Cursor-on-Target transport.
type CoTBus interface {
	// Send hands msg to the outbound path.
	Send(msg CoTMessage) error

	// Query answers a filtered query over recent history.
	Query(filter CoTFilter) ([]CoTMessage, error)

	// Subscribe registers fn for inbound messages under key.
	// The returned function removes the subscription.
	Subscribe(key string, fn func(CoTMessage)) (unsubscribe func())
}

// MapRenderer is the host map engine. Layer and marker ids are scoped by
// plugin id so two plugins may use the same id.
type MapRenderer interface {
	AddLayer(pluginID string, layer Layer) error
	RemoveLayer(pluginID, layerID string) error
	AddMarker(pluginID string, marker Marker) error
	RemoveMarker(pluginID, markerID string) error

	// Center returns the current map center.
	Center() (Coordinate, error)

	// Zoom returns the current zoom level.
	Zoom() (float64, error)
}

// LocationProvider reports and accepts device positions.
type LocationProvider interface {
	CurrentLocation() (Location, error)
	UpdateLocation(loc Location) error
}

// UIShell hosts plugin toolbar items, panels and alerts.
type UIShell interface {
	AddToolbarItem(pluginID string, item ToolbarItem) error
	RemoveToolbarItem(pluginID, itemID string) error
	AddPanel(pluginID string, panel Panel) error
	RemovePanel(pluginID, panelID string) error
	ShowAlert(alert Alert) error
}

// HTTPDoer performs HTTP requests. *http.Client satisfies it and has the
// host policy applied to each redirect. Other implementations should not
// follow redirects: only the final URL of their response is checked.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Providers bundles the collaborators handed to every Context. Nil fields
// are allowed: operations needing a missing collaborator fail with a
// runtime error, except where noted on the manager.
type Providers struct {
	CoT      CoTBus
	Map      MapRenderer
	Location LocationProvider
	UI       UIShell
	HTTP     HTTPDoer
}
