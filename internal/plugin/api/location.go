package api

import (
	"github.com/omnitak/pluginhost/internal/plugin/perr"
	"github.com/omnitak/pluginhost/internal/plugin/security"
)

// LocationManager is a thin gated accessor over the host location provider.
type LocationManager struct {
	ctx *Context
}

func newLocationManager(ctx *Context) *LocationManager {
	return &LocationManager{ctx: ctx}
}

// GetCurrentLocation returns the device's current location.
// Requires location.read.
func (m *LocationManager) GetCurrentLocation() (Location, error) {
	if err := m.ctx.authorize(security.LocationRead, "location", "getCurrentLocation"); err != nil {
		return Location{}, err
	}
	p := m.ctx.providers.Location
	if p == nil {
		return Location{}, perr.Runtime("location.getCurrentLocation: no location provider")
	}
	loc, err := p.CurrentLocation()
	if err != nil {
		return Location{}, perr.WrapRuntime(err, "location.getCurrentLocation")
	}
	m.ctx.logger.Debug("location read: %.5f,%.5f", loc.Lat, loc.Lon)
	return loc, nil
}

// UpdateLocation forwards loc to the host location state.
// Requires location.write.
func (m *LocationManager) UpdateLocation(loc Location) error {
	if err := m.ctx.authorize(security.LocationWrite, "location", "updateLocation"); err != nil {
		return err
	}
	if !loc.Coordinate.Valid() {
		return perr.Runtime("location.updateLocation: position out of range: %v", loc.Coordinate)
	}
	p := m.ctx.providers.Location
	if p == nil {
		return perr.Runtime("location.updateLocation: no location provider")
	}
	if err := p.UpdateLocation(loc); err != nil {
		return perr.WrapRuntime(err, "location.updateLocation")
	}

	m.ctx.logger.Debug("location updated to %.5f,%.5f", loc.Lat, loc.Lon)
	return nil
}
