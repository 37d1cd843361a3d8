package api

import (
	"errors"
	"sort"
	"sync"

	"github.com/omnitak/pluginhost/internal/plugin/perr"
	"github.com/omnitak/pluginhost/internal/plugin/security"
)

// MapManager owns the layers and markers a plugin has put on the map.
// Ids are unique per kind: adding an existing id replaces the value.
//
// With no MapRenderer configured, layer and marker operations only update
// plugin-local state and center/zoom reads fail.
type MapManager struct {
	ctx *Context

	mu      sync.Mutex
	layers  map[string]Layer
	markers map[string]Marker
}

func newMapManager(ctx *Context) *MapManager {
	return &MapManager{
		ctx:     ctx,
		layers:  make(map[string]Layer),
		markers: make(map[string]Marker),
	}
}

// AddLayer adds or replaces a layer. Requires map.write.
func (m *MapManager) AddLayer(layer Layer) error {
	if err := m.ctx.authorize(security.MapWrite, "map", "addLayer"); err != nil {
		return err
	}
	if layer.ID == "" {
		return perr.Runtime("map.addLayer: layer id is empty")
	}

	if r := m.ctx.providers.Map; r != nil {
		if err := r.AddLayer(m.ctx.pluginID, layer); err != nil {
			return perr.WrapRuntime(err, "map.addLayer")
		}
	}

	m.mu.Lock()
	_, replaced := m.layers[layer.ID]
	m.layers[layer.ID] = layer
	m.mu.Unlock()

	m.ctx.logger.Debug("layer %s added (replaced=%t)", layer.ID, replaced)
	return nil
}

// RemoveLayer removes a layer. Removing an unknown id is a no-op.
// Requires map.write.
func (m *MapManager) RemoveLayer(id string) error {
	if err := m.ctx.authorize(security.MapWrite, "map", "removeLayer"); err != nil {
		return err
	}

	m.mu.Lock()
	_, ok := m.layers[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if r := m.ctx.providers.Map; r != nil {
		if err := r.RemoveLayer(m.ctx.pluginID, id); err != nil {
			return perr.WrapRuntime(err, "map.removeLayer")
		}
	}

	m.mu.Lock()
	delete(m.layers, id)
	m.mu.Unlock()

	m.ctx.logger.Debug("layer %s removed", id)
	return nil
}

// AddMarker adds or replaces a marker. Requires map.write.
func (m *MapManager) AddMarker(marker Marker) error {
	if err := m.ctx.authorize(security.MapWrite, "map", "addMarker"); err != nil {
		return err
	}
	if marker.ID == "" {
		return perr.Runtime("map.addMarker: marker id is empty")
	}
	if !marker.Position.Valid() {
		return perr.Runtime("map.addMarker: position out of range: %v", marker.Position)
	}

	if r := m.ctx.providers.Map; r != nil {
		if err := r.AddMarker(m.ctx.pluginID, marker); err != nil {
			return perr.WrapRuntime(err, "map.addMarker")
		}
	}

	m.mu.Lock()
	_, replaced := m.markers[marker.ID]
	m.markers[marker.ID] = marker
	m.mu.Unlock()

	m.ctx.logger.Debug("marker %s added (replaced=%t)", marker.ID, replaced)
	return nil
}

// RemoveMarker removes a marker. Removing an unknown id is a no-op.
// Requires map.write.
func (m *MapManager) RemoveMarker(id string) error {
	if err := m.ctx.authorize(security.MapWrite, "map", "removeMarker"); err != nil {
		return err
	}

	m.mu.Lock()
	_, ok := m.markers[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if r := m.ctx.providers.Map; r != nil {
		if err := r.RemoveMarker(m.ctx.pluginID, id); err != nil {
			return perr.WrapRuntime(err, "map.removeMarker")
		}
	}

	m.mu.Lock()
	delete(m.markers, id)
	m.mu.Unlock()

	m.ctx.logger.Debug("marker %s removed", id)
	return nil
}

// GetMapCenter returns the current map center. Requires map.read.
func (m *MapManager) GetMapCenter() (Coordinate, error) {
	if err := m.ctx.authorize(security.MapRead, "map", "getMapCenter"); err != nil {
		return Coordinate{}, err
	}
	r := m.ctx.providers.Map
	if r == nil {
		return Coordinate{}, perr.Runtime("map.getMapCenter: no map renderer")
	}
	c, err := r.Center()
	if err != nil {
		return Coordinate{}, perr.WrapRuntime(err, "map.getMapCenter")
	}
	m.ctx.logger.Debug("map center read: %.5f,%.5f", c.Lat, c.Lon)
	return c, nil
}

// GetZoomLevel returns the current zoom level. Requires map.read.
func (m *MapManager) GetZoomLevel() (float64, error) {
	if err := m.ctx.authorize(security.MapRead, "map", "getZoomLevel"); err != nil {
		return 0, err
	}
	r := m.ctx.providers.Map
	if r == nil {
		return 0, perr.Runtime("map.getZoomLevel: no map renderer")
	}
	z, err := r.Zoom()
	if err != nil {
		return 0, perr.WrapRuntime(err, "map.getZoomLevel")
	}
	m.ctx.logger.Debug("map zoom read: %g", z)
	return z, nil
}

// Layer returns one of the plugin's own layers.
func (m *MapManager) Layer(id string) (Layer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.layers[id]
	return l, ok
}

// Layers returns the plugin's own layers sorted by id.
func (m *MapManager) Layers() []Layer {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Layer, 0, len(m.layers))
	for _, l := range m.layers {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Marker returns one of the plugin's own markers.
func (m *MapManager) Marker(id string) (Marker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mk, ok := m.markers[id]
	return mk, ok
}

// Markers returns the plugin's own markers sorted by id.
func (m *MapManager) Markers() []Marker {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Marker, 0, len(m.markers))
	for _, mk := range m.markers {
		out = append(out, mk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LayerCount returns the number of layers the plugin owns.
func (m *MapManager) LayerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.layers)
}

// MarkerCount returns the number of markers the plugin owns.
func (m *MapManager) MarkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.markers)
}

func (m *MapManager) release() error {
	m.mu.Lock()
	layers, markers := m.layers, m.markers
	m.layers = make(map[string]Layer)
	m.markers = make(map[string]Marker)
	m.mu.Unlock()

	r := m.ctx.providers.Map
	if r == nil {
		return nil
	}

	var errs []error
	for id := range markers {
		if err := r.RemoveMarker(m.ctx.pluginID, id); err != nil {
			errs = append(errs, err)
		}
	}
	for id := range layers {
		if err := r.RemoveLayer(m.ctx.pluginID, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
