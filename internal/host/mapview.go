package host

import (
	"fmt"
	"sort"
	"sync"

	"github.com/omnitak/pluginhost/internal/plugin/api"
)

// Zoom bounds accepted by SetZoom.
const (
	MinZoom = 0
	MaxZoom = 22
)

// MapView is an in-memory map renderer. Layers and markers are kept per
// plugin so ids only collide within one plugin.
type MapView struct {
	mu      sync.RWMutex
	center  api.Coordinate
	zoom    float64
	layers  map[string]map[string]api.Layer
	markers map[string]map[string]api.Marker
}

// NewMapView creates a view centered on center at zoom.
func NewMapView(center api.Coordinate, zoom float64) *MapView {
	return &MapView{
		center:  center,
		zoom:    zoom,
		layers:  make(map[string]map[string]api.Layer),
		markers: make(map[string]map[string]api.Marker),
	}
}

// AddLayer implements api.MapRenderer.
func (v *MapView) AddLayer(pluginID string, layer api.Layer) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.layers[pluginID] == nil {
		v.layers[pluginID] = make(map[string]api.Layer)
	}
	v.layers[pluginID][layer.ID] = layer
	return nil
}

// RemoveLayer implements api.MapRenderer.
func (v *MapView) RemoveLayer(pluginID, layerID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.layers[pluginID], layerID)
	if len(v.layers[pluginID]) == 0 {
		delete(v.layers, pluginID)
	}
	return nil
}

// AddMarker implements api.MapRenderer.
func (v *MapView) AddMarker(pluginID string, marker api.Marker) error {
	if !marker.Position.Valid() {
		return fmt.Errorf("marker %s: position out of range", marker.ID)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.markers[pluginID] == nil {
		v.markers[pluginID] = make(map[string]api.Marker)
	}
	v.markers[pluginID][marker.ID] = marker
	return nil
}

// RemoveMarker implements api.MapRenderer.
func (v *MapView) RemoveMarker(pluginID, markerID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.markers[pluginID], markerID)
	if len(v.markers[pluginID]) == 0 {
		delete(v.markers, pluginID)
	}
	return nil
}

// Center implements api.MapRenderer.
func (v *MapView) Center() (api.Coordinate, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.center, nil
}

// Zoom implements api.MapRenderer.
func (v *MapView) Zoom() (float64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.zoom, nil
}

// SetCenter moves the map.
func (v *MapView) SetCenter(c api.Coordinate) error {
	if !c.Valid() {
		return fmt.Errorf("center %v out of range", c)
	}
	v.mu.Lock()
	v.center = c
	v.mu.Unlock()
	return nil
}

// SetZoom changes the zoom level.
func (v *MapView) SetZoom(z float64) error {
	if z < MinZoom || z > MaxZoom {
		return fmt.Errorf("zoom %v outside [%d, %d]", z, MinZoom, MaxZoom)
	}
	v.mu.Lock()
	v.zoom = z
	v.mu.Unlock()
	return nil
}

// Layers returns pluginID's layers sorted by id.
func (v *MapView) Layers(pluginID string) []api.Layer {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]api.Layer, 0, len(v.layers[pluginID]))
	for _, l := range v.layers[pluginID] {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Markers returns pluginID's markers sorted by id.
func (v *MapView) Markers(pluginID string) []api.Marker {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]api.Marker, 0, len(v.markers[pluginID]))
	for _, m := range v.markers[pluginID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counts returns the total number of layers and markers across plugins.
func (v *MapView) Counts() (layers, markers int) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	for _, ls := range v.layers {
		layers += len(ls)
	}
	for _, ms := range v.markers {
		markers += len(ms)
	}
	return layers, markers
}
