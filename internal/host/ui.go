package host

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/omnitak/pluginhost/internal/logging"
	"github.com/omnitak/pluginhost/internal/plugin/api"
)

// UIShell records what plugins put in the host UI. Alerts are logged.
type UIShell struct {
	logger *logging.Logger

	mu      sync.Mutex
	toolbar map[string]api.ToolbarItem
	panels  map[string]api.Panel
	alerts  []api.Alert
}

// NewUIShell creates an empty shell. A nil logger discards alerts.
func NewUIShell(logger *logging.Logger) *UIShell {
	if logger == nil {
		logger = logging.Discard()
	}
	return &UIShell{
		logger:  logger.WithComponent("ui"),
		toolbar: make(map[string]api.ToolbarItem),
		panels:  make(map[string]api.Panel),
	}
}

func scoped(pluginID, id string) string {
	return pluginID + "/" + id
}

// AddToolbarItem implements api.UIShell.
func (s *UIShell) AddToolbarItem(pluginID string, item api.ToolbarItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolbar[scoped(pluginID, item.ID)] = item
	return nil
}

// RemoveToolbarItem implements api.UIShell.
func (s *UIShell) RemoveToolbarItem(pluginID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.toolbar, scoped(pluginID, itemID))
	return nil
}

// AddPanel implements api.UIShell.
func (s *UIShell) AddPanel(pluginID string, panel api.Panel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panels[scoped(pluginID, panel.ID)] = panel
	return nil
}

// RemovePanel implements api.UIShell.
func (s *UIShell) RemovePanel(pluginID, panelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.panels, scoped(pluginID, panelID))
	return nil
}

// ShowAlert implements api.UIShell.
func (s *UIShell) ShowAlert(alert api.Alert) error {
	s.mu.Lock()
	s.alerts = append(s.alerts, alert)
	s.mu.Unlock()

	titles := make([]string, len(alert.Actions))
	for i, a := range alert.Actions {
		titles[i] = a.Title
	}
	s.logger.WithPlugin(alert.PluginID).Info("alert %q: %s [%s]", alert.Title, alert.Message, strings.Join(titles, ", "))
	return nil
}

// Tap runs a toolbar item's action.
func (s *UIShell) Tap(pluginID, itemID string) error {
	s.mu.Lock()
	item, ok := s.toolbar[scoped(pluginID, itemID)]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("no toolbar item %s", scoped(pluginID, itemID))
	}
	if item.Action != nil {
		item.Action()
	}
	return nil
}

// ToolbarItems returns every item keyed "pluginID/itemID", sorted by key.
func (s *UIShell) ToolbarItems() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.toolbar))
	for k := range s.toolbar {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Panels returns every panel keyed "pluginID/panelID", sorted by key.
func (s *UIShell) Panels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.panels))
	for k := range s.panels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Alerts returns the alerts shown so far.
func (s *UIShell) Alerts() []api.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Alert(nil), s.alerts...)
}
