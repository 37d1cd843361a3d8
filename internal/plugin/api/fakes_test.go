package api

import (
	"errors"
	"sync"

	"github.com/omnitak/pluginhost/internal/plugin/security"
)

var errFake = errors.New("collaborator failed")

type fakeBus struct {
	mu       sync.Mutex
	sent     []CoTMessage
	history  []CoTMessage
	subs     map[string]func(CoTMessage)
	sendErr  error
	unsubbed int

	// onSubscribe runs before a subscription is recorded.
	onSubscribe func()
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: make(map[string]func(CoTMessage))}
}

func (b *fakeBus) Send(msg CoTMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, msg)
	return nil
}

func (b *fakeBus) Query(CoTFilter) ([]CoTMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]CoTMessage(nil), b.history...), nil
}

func (b *fakeBus) Subscribe(key string, fn func(CoTMessage)) func() {
	if b.onSubscribe != nil {
		b.onSubscribe()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[key] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, key)
		b.unsubbed++
	}
}

func (b *fakeBus) deliver(msg CoTMessage) {
	b.mu.Lock()
	subs := make([]func(CoTMessage), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()
	for _, fn := range subs {
		fn(msg)
	}
}

func (b *fakeBus) subCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *fakeBus) sentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

type fakeMap struct {
	mu      sync.Mutex
	layers  map[string]Layer
	markers map[string]Marker
	calls   []string
	center  Coordinate
	zoom    float64
	addErr  error
}

func newFakeMap() *fakeMap {
	return &fakeMap{
		layers:  make(map[string]Layer),
		markers: make(map[string]Marker),
		center:  Coordinate{Lat: 38.8977, Lon: -77.0365},
		zoom:    12,
	}
}

func (f *fakeMap) AddLayer(pluginID string, layer Layer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "addLayer:"+layer.ID)
	if f.addErr != nil {
		return f.addErr
	}
	f.layers[pluginID+"/"+layer.ID] = layer
	return nil
}

func (f *fakeMap) RemoveLayer(pluginID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "removeLayer:"+id)
	delete(f.layers, pluginID+"/"+id)
	return nil
}

func (f *fakeMap) AddMarker(pluginID string, marker Marker) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "addMarker:"+marker.ID)
	if f.addErr != nil {
		return f.addErr
	}
	f.markers[pluginID+"/"+marker.ID] = marker
	return nil
}

func (f *fakeMap) RemoveMarker(pluginID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "removeMarker:"+id)
	delete(f.markers, pluginID+"/"+id)
	return nil
}

func (f *fakeMap) Center() (Coordinate, error) { return f.center, nil }
func (f *fakeMap) Zoom() (float64, error)      { return f.zoom, nil }

func (f *fakeMap) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeLocation struct {
	mu      sync.Mutex
	current Location
	updates []Location
}

func (f *fakeLocation) CurrentLocation() (Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeLocation) UpdateLocation(loc Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, loc)
	f.current = loc
	return nil
}

type fakeShell struct {
	mu       sync.Mutex
	toolbar  map[string]ToolbarItem
	panels   map[string]Panel
	alerts   []Alert
	alertErr error
	panelErr error
}

func newFakeShell() *fakeShell {
	return &fakeShell{
		toolbar: make(map[string]ToolbarItem),
		panels:  make(map[string]Panel),
	}
}

func (s *fakeShell) AddToolbarItem(pluginID string, item ToolbarItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolbar[pluginID+"/"+item.ID] = item
	return nil
}

func (s *fakeShell) RemoveToolbarItem(pluginID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.toolbar, pluginID+"/"+id)
	return nil
}

func (s *fakeShell) AddPanel(pluginID string, panel Panel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panelErr != nil {
		return s.panelErr
	}
	s.panels[pluginID+"/"+panel.ID] = panel
	return nil
}

func (s *fakeShell) RemovePanel(pluginID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.panels, pluginID+"/"+id)
	return nil
}

func (s *fakeShell) ShowAlert(alert Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alertErr != nil {
		return s.alertErr
	}
	s.alerts = append(s.alerts, alert)
	return nil
}

type fixture struct {
	bus      *fakeBus
	mapView  *fakeMap
	location *fakeLocation
	shell    *fakeShell
}

func newFixture() *fixture {
	return &fixture{
		bus:      newFakeBus(),
		mapView:  newFakeMap(),
		location: &fakeLocation{current: Location{Coordinate: Coordinate{Lat: 38.9, Lon: -77.0}, Accuracy: 5}},
		shell:    newFakeShell(),
	}
}

func (f *fixture) providers() Providers {
	return Providers{CoT: f.bus, Map: f.mapView, Location: f.location, UI: f.shell}
}

// contextWith builds a context for com.example.test granted perms.
func (f *fixture) contextWith(perms ...security.Permission) *Context {
	return NewContext("com.example.test", "ios", security.NewPermissionSet(perms...), WithProviders(f.providers()))
}
