package api

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnitak/pluginhost/internal/logging"
	"github.com/omnitak/pluginhost/internal/metrics"
	"github.com/omnitak/pluginhost/internal/plugin/perr"
	"github.com/omnitak/pluginhost/internal/plugin/security"
)

func allExcept(p security.Permission) []security.Permission {
	var out []security.Permission
	for _, q := range security.All() {
		if q != p {
			out = append(out, q)
		}
	}
	return out
}

// Every gated operation, the permission it needs, and a check that the
// collaborators were not touched.
func gatedOperations() []struct {
	name string
	perm security.Permission
	call func(c *Context) error
} {
	return []struct {
		name string
		perm security.Permission
		call func(c *Context) error
	}{
		{"cot.registerHandler", security.CoTRead, func(c *Context) error {
			_, err := c.CoT().RegisterHandler(CoTHandlerFunc(func(CoTMessage) {}))
			return err
		}},
		{"cot.unregisterHandler", security.CoTRead, func(c *Context) error {
			return c.CoT().UnregisterHandler("x")
		}},
		{"cot.queryMessages", security.CoTRead, func(c *Context) error {
			_, err := c.CoT().QueryMessages(CoTFilter{})
			return err
		}},
		{"cot.sendMessage", security.CoTWrite, func(c *Context) error {
			return c.CoT().SendMessage(CoTMessage{UID: "u", Type: "a-f-G"})
		}},
		{"map.addLayer", security.MapWrite, func(c *Context) error {
			return c.Map().AddLayer(Layer{ID: "l"})
		}},
		{"map.removeLayer", security.MapWrite, func(c *Context) error {
			return c.Map().RemoveLayer("l")
		}},
		{"map.addMarker", security.MapWrite, func(c *Context) error {
			return c.Map().AddMarker(Marker{ID: "m"})
		}},
		{"map.removeMarker", security.MapWrite, func(c *Context) error {
			return c.Map().RemoveMarker("m")
		}},
		{"map.getMapCenter", security.MapRead, func(c *Context) error {
			_, err := c.Map().GetMapCenter()
			return err
		}},
		{"map.getZoomLevel", security.MapRead, func(c *Context) error {
			_, err := c.Map().GetZoomLevel()
			return err
		}},
		{"location.getCurrentLocation", security.LocationRead, func(c *Context) error {
			_, err := c.Location().GetCurrentLocation()
			return err
		}},
		{"location.updateLocation", security.LocationWrite, func(c *Context) error {
			return c.Location().UpdateLocation(Location{Coordinate: Coordinate{Lat: 1, Lon: 1}})
		}},
		{"ui.registerProvider", security.UICreate, func(c *Context) error {
			return c.UI().RegisterProvider(staticProvider{item: &ToolbarItem{Title: "t"}})
		}},
		{"ui.showAlert", security.UICreate, func(c *Context) error {
			return c.UI().ShowAlert("t", "m")
		}},
		{"network.request", security.NetworkAccess, func(c *Context) error {
			_, err := c.Network().Request(context.Background(), Request{URL: "https://example.com"})
			return err
		}},
	}
}

func TestOperationsRequirePermission(t *testing.T) {
	for _, op := range gatedOperations() {
		t.Run(op.name, func(t *testing.T) {
			f := newFixture()
			c := f.contextWith(allExcept(op.perm)...)

			err := op.call(c)
			require.Error(t, err)
			assert.True(t, errors.Is(err, perr.ErrPermissionDenied), "error = %v", err)

			pe, ok := perr.As(err)
			require.True(t, ok)
			assert.Equal(t, op.perm.String(), pe.Permission)
			assert.Equal(t, "com.example.test", pe.PluginID)

			// No observable mutation.
			assert.Empty(t, f.bus.sent)
			assert.Empty(t, f.bus.subs)
			assert.Zero(t, f.mapView.callCount())
			assert.Empty(t, f.location.updates)
			assert.Empty(t, f.shell.toolbar)
			assert.Empty(t, f.shell.alerts)
			assert.Zero(t, c.CoT().HandlerCount())
			assert.Zero(t, c.Map().LayerCount())
			assert.Zero(t, c.Map().MarkerCount())
			assert.Empty(t, c.UI().ToolbarItems())
		})
	}
}

func TestOperationsAfterClose(t *testing.T) {
	for _, op := range gatedOperations() {
		t.Run(op.name, func(t *testing.T) {
			f := newFixture()
			c := f.contextWith(security.All()...)
			require.NoError(t, c.Close())

			err := op.call(c)
			require.Error(t, err)
			assert.Equal(t, perr.KindRuntime, perr.KindOf(err))
			assert.Contains(t, err.Error(), "closed")
		})
	}
}

func TestDenialDoesNotAffectOtherPermissions(t *testing.T) {
	f := newFixture()
	c := f.contextWith(security.MapRead)

	err := c.Map().AddLayer(Layer{ID: "weather"})
	require.ErrorIs(t, err, perr.ErrPermissionDenied)

	center, err := c.Map().GetMapCenter()
	require.NoError(t, err)
	assert.Equal(t, f.mapView.center, center)

	zoom, err := c.Map().GetZoomLevel()
	require.NoError(t, err)
	assert.Equal(t, 12.0, zoom)
}

func TestContextAccessors(t *testing.T) {
	perms := security.NewPermissionSet(security.CoTRead, security.UICreate)
	c := NewContext("com.example.weather", "android", perms)

	assert.Equal(t, "com.example.weather", c.PluginID())
	assert.Equal(t, "android", c.Platform())
	assert.Equal(t, perms, c.Permissions())
	assert.True(t, c.Has(security.CoTRead))
	assert.False(t, c.Has(security.CoTWrite))
	assert.True(t, c.hasNamed("ui.create"))
	assert.False(t, c.hasNamed("filesystem.read"))
	assert.NotNil(t, c.Logger())
	assert.False(t, c.Closed())
}

func TestContextManagersAreStable(t *testing.T) {
	c := NewContext("p", "ios", security.PermissionSet{})

	assert.Same(t, c.CoT(), c.CoT())
	assert.Same(t, c.Map(), c.Map())
	assert.Same(t, c.Network(), c.Network())
	assert.Same(t, c.Location(), c.Location())
	assert.Same(t, c.UI(), c.UI())
}

func TestContextCloseReleasesState(t *testing.T) {
	f := newFixture()
	c := f.contextWith(security.All()...)

	_, err := c.CoT().RegisterHandler(CoTHandlerFunc(func(CoTMessage) {}))
	require.NoError(t, err)
	require.NoError(t, c.Map().AddLayer(Layer{ID: "radar"}))
	require.NoError(t, c.Map().AddMarker(Marker{ID: "hq", Position: Coordinate{Lat: 1, Lon: 2}}))
	require.NoError(t, c.UI().RegisterProvider(staticProvider{
		item:  &ToolbarItem{ID: "btn", Title: "Weather"},
		panel: &Panel{ID: "pane", Title: "Forecast"},
	}))

	require.Len(t, f.bus.subs, 1)
	require.Len(t, f.mapView.layers, 1)
	require.Len(t, f.shell.toolbar, 1)

	require.NoError(t, c.Close())
	assert.True(t, c.Closed())

	assert.Empty(t, f.bus.subs)
	assert.Empty(t, f.mapView.layers)
	assert.Empty(t, f.mapView.markers)
	assert.Empty(t, f.shell.toolbar)
	assert.Empty(t, f.shell.panels)
	assert.Zero(t, c.CoT().HandlerCount())
	assert.Zero(t, c.Map().LayerCount())
	assert.Empty(t, c.UI().Panels())

	// Idempotent.
	require.NoError(t, c.Close())
	assert.Equal(t, 1, f.bus.unsubbed)
}

func TestDenialIsLoggedAndCounted(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Config{Level: logging.LevelWarn, Output: &buf})
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	c := NewContext("com.example.audit", "ios", security.PermissionSet{},
		WithLogger(logger), WithMetrics(m))

	require.Error(t, c.CoT().SendMessage(CoTMessage{UID: "u", Type: "t"}))
	require.Error(t, c.CoT().SendMessage(CoTMessage{UID: "u", Type: "t"}))

	out := buf.String()
	assert.Contains(t, out, "permission denied: cot.write")
	assert.Contains(t, out, "plugin=com.example.audit")
	assert.Equal(t, 2, strings.Count(out, "permission denied"))

	n, err := testutil.GatherAndCount(reg, "omnitak_plugin_permission_denied_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReadsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.Config{Level: logging.LevelDebug, Output: &buf})

	f := newFixture()
	c := NewContext("com.example.reader", "ios",
		security.NewPermissionSet(security.MapRead, security.LocationRead),
		WithProviders(f.providers()), WithLogger(logger))
	defer c.Close()

	_, err := c.Map().GetMapCenter()
	require.NoError(t, err)
	_, err = c.Map().GetZoomLevel()
	require.NoError(t, err)
	_, err = c.Location().GetCurrentLocation()
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "map center read")
	assert.Contains(t, out, "map zoom read")
	assert.Contains(t, out, "location read: 38.90000,-77.00000")
}
