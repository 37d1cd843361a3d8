package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnitak/pluginhost/internal/plugin/perr"
	"github.com/omnitak/pluginhost/internal/plugin/security"
)

func TestLocationReadWrite(t *testing.T) {
	f := newFixture()
	c := f.contextWith(security.LocationRead, security.LocationWrite)

	loc, err := c.Location().GetCurrentLocation()
	require.NoError(t, err)
	assert.Equal(t, 38.9, loc.Lat)

	next := Location{Coordinate: Coordinate{Lat: 51.5, Lon: -0.12}, Heading: 90}
	require.NoError(t, c.Location().UpdateLocation(next))
	require.Len(t, f.location.updates, 1)

	loc, err = c.Location().GetCurrentLocation()
	require.NoError(t, err)
	assert.Equal(t, next, loc)
}

func TestLocationUpdateValidation(t *testing.T) {
	f := newFixture()
	c := f.contextWith(security.LocationWrite)

	err := c.Location().UpdateLocation(Location{Coordinate: Coordinate{Lat: 0, Lon: 181}})
	assert.Equal(t, perr.KindRuntime, perr.KindOf(err))
	assert.Empty(t, f.location.updates)
}

func TestLocationWithoutProvider(t *testing.T) {
	c := NewContext("p", "ios", security.NewPermissionSet(security.LocationRead, security.LocationWrite))

	_, err := c.Location().GetCurrentLocation()
	assert.Equal(t, perr.KindRuntime, perr.KindOf(err))
	assert.Equal(t, perr.KindRuntime, perr.KindOf(c.Location().UpdateLocation(Location{})))
}

func TestCoordinateValid(t *testing.T) {
	tests := []struct {
		c    Coordinate
		want bool
	}{
		{Coordinate{}, true},
		{Coordinate{Lat: 90, Lon: 180}, true},
		{Coordinate{Lat: -90, Lon: -180}, true},
		{Coordinate{Lat: 90.1}, false},
		{Coordinate{Lon: -180.5}, false},
	}
	for _, tt := range tests {
		if got := tt.c.Valid(); got != tt.want {
			t.Errorf("%v.Valid() = %v, want %v", tt.c, got, tt.want)
		}
	}
}
