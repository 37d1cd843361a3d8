package api

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/omnitak/pluginhost/internal/plugin/perr"
	"github.com/omnitak/pluginhost/internal/plugin/security"
)

// UIProvider is asked for the plugin's UI contributions. Either method may
// return nil to contribute nothing.
type UIProvider interface {
	ToolbarItem() *ToolbarItem
	Panel() *Panel
}

// UIManager owns the toolbar items and panels a plugin has registered.
type UIManager struct {
	ctx *Context

	mu      sync.Mutex
	toolbar []ToolbarItem
	panels  []Panel
}

func newUIManager(ctx *Context) *UIManager {
	return &UIManager{ctx: ctx}
}

// RegisterProvider asks p for at most one toolbar item and one panel and
// appends whichever are present. Nothing is registered unless both reach
// the shell. Requires ui.create.
func (m *UIManager) RegisterProvider(p UIProvider) error {
	if err := m.ctx.authorize(security.UICreate, "ui", "registerProvider"); err != nil {
		return err
	}
	if p == nil {
		return perr.Runtime("ui.registerProvider: nil provider")
	}

	var item *ToolbarItem
	if it := p.ToolbarItem(); it != nil {
		cp := *it
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		item = &cp
	}
	var panel *Panel
	if pn := p.Panel(); pn != nil {
		cp := *pn
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		panel = &cp
	}

	if shell := m.ctx.providers.UI; shell != nil {
		if item != nil {
			if err := shell.AddToolbarItem(m.ctx.pluginID, *item); err != nil {
				return perr.WrapRuntime(err, "ui.registerProvider")
			}
		}
		if panel != nil {
			if err := shell.AddPanel(m.ctx.pluginID, *panel); err != nil {
				if item != nil {
					if rerr := shell.RemoveToolbarItem(m.ctx.pluginID, item.ID); rerr != nil {
						m.ctx.logger.Warn("toolbar item %s rollback: %v", item.ID, rerr)
					}
				}
				return perr.WrapRuntime(err, "ui.registerProvider")
			}
		}
	}

	m.mu.Lock()
	if item != nil {
		m.toolbar = append(m.toolbar, *item)
	}
	if panel != nil {
		m.panels = append(m.panels, *panel)
	}
	m.mu.Unlock()

	if item != nil {
		m.ctx.logger.Debug("toolbar item %s registered", item.ID)
	}
	if panel != nil {
		m.ctx.logger.Debug("panel %s registered", panel.ID)
	}
	return nil
}

// ShowAlert asks the UI shell to present an alert. It is fire and forget:
// only authorization failures are returned, shell errors are logged.
// Requires ui.create.
func (m *UIManager) ShowAlert(title, message string, actions ...AlertAction) error {
	if err := m.ctx.authorize(security.UICreate, "ui", "showAlert"); err != nil {
		return err
	}

	shell := m.ctx.providers.UI
	if shell == nil {
		m.ctx.logger.Warn("alert %q dropped: no UI shell", title)
		return nil
	}

	if len(actions) == 0 {
		actions = []AlertAction{{Title: "OK", Style: AlertDefault}}
	}
	alert := Alert{
		ID:       uuid.NewString(),
		PluginID: m.ctx.pluginID,
		Title:    title,
		Message:  message,
		Actions:  actions,
	}
	if err := shell.ShowAlert(alert); err != nil {
		m.ctx.logger.Warn("alert %q failed: %v", title, err)
	}
	return nil
}

// ToolbarItems returns the registered toolbar items in order.
func (m *UIManager) ToolbarItems() []ToolbarItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ToolbarItem(nil), m.toolbar...)
}

// Panels returns the registered panels in order.
func (m *UIManager) Panels() []Panel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Panel(nil), m.panels...)
}

func (m *UIManager) release() error {
	m.mu.Lock()
	toolbar, panels := m.toolbar, m.panels
	m.toolbar, m.panels = nil, nil
	m.mu.Unlock()

	shell := m.ctx.providers.UI
	if shell == nil {
		return nil
	}

	var errs []error
	for _, it := range toolbar {
		if err := shell.RemoveToolbarItem(m.ctx.pluginID, it.ID); err != nil {
			errs = append(errs, err)
		}
	}
	for _, p := range panels {
		if err := shell.RemovePanel(m.ctx.pluginID, p.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
