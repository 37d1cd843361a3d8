package host

import (
	"errors"
	"sync"
	"time"

	"github.com/omnitak/pluginhost/internal/plugin/api"
)

// ErrNoFix is returned when no location has been reported yet.
var ErrNoFix = errors.New("no location fix")

// LocationState holds the device position.
type LocationState struct {
	mu      sync.RWMutex
	current api.Location
	hasFix  bool
	updates int
	now     func() time.Time
}

// NewLocationState creates an empty state.
func NewLocationState() *LocationState {
	return &LocationState{now: time.Now}
}

// CurrentLocation implements api.LocationProvider.
func (s *LocationState) CurrentLocation() (api.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.hasFix {
		return api.Location{}, ErrNoFix
	}
	return s.current, nil
}

// UpdateLocation implements api.LocationProvider. A zero time is stamped
// with the current time.
func (s *LocationState) UpdateLocation(loc api.Location) error {
	if loc.Time.IsZero() {
		loc.Time = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = loc
	s.hasFix = true
	s.updates++
	return nil
}

// Updates returns how many updates have been accepted.
func (s *LocationState) Updates() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updates
}
