package api

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/omnitak/pluginhost/internal/plugin/perr"
	"github.com/omnitak/pluginhost/internal/plugin/security"
)

// CoTHandler receives inbound CoT messages.
type CoTHandler interface {
	HandleCoT(msg CoTMessage)
}

// CoTHandlerFunc adapts a function to CoTHandler.
type CoTHandlerFunc func(msg CoTMessage)

// HandleCoT calls f.
func (f CoTHandlerFunc) HandleCoT(msg CoTMessage) {
	f(msg)
}

type cotRegistration struct {
	id      string
	handler CoTHandler
}

// CoTManager gives a plugin access to Cursor-on-Target traffic.
type CoTManager struct {
	ctx *Context

	mu          sync.Mutex
	handlers    []cotRegistration
	unsubscribe func()
}

func newCoTManager(ctx *Context) *CoTManager {
	return &CoTManager{ctx: ctx}
}

// RegisterHandler appends h to the plugin's handler list and returns a
// registration id. Inbound messages reach handlers in registration order.
// Requires cot.read.
func (m *CoTManager) RegisterHandler(h CoTHandler) (string, error) {
	if err := m.ctx.authorize(security.CoTRead, "cot", "registerHandler"); err != nil {
		return "", err
	}
	if h == nil {
		return "", perr.Runtime("cot.registerHandler: nil handler")
	}

	id := uuid.NewString()

	m.mu.Lock()
	if m.ctx.Closed() {
		m.mu.Unlock()
		return "", perr.Runtime("cot.registerHandler: plugin context is closed").WithPlugin(m.ctx.pluginID)
	}
	m.handlers = append(m.handlers, cotRegistration{id: id, handler: h})
	subscribe := m.unsubscribe == nil && m.ctx.providers.CoT != nil
	m.mu.Unlock()

	if subscribe {
		unsub := m.ctx.providers.CoT.Subscribe(m.ctx.pluginID, m.Dispatch)
		// Close may have released the manager while subscribing.
		m.mu.Lock()
		closed := m.ctx.Closed()
		if m.unsubscribe == nil && !closed {
			m.unsubscribe = unsub
			unsub = nil
		}
		m.mu.Unlock()
		if unsub != nil {
			unsub()
		}
		if closed {
			return "", perr.Runtime("cot.registerHandler: plugin context is closed").WithPlugin(m.ctx.pluginID)
		}
	}

	m.ctx.logger.Debug("registered CoT handler %s", id)
	return id, nil
}

// UnregisterHandler removes a handler. Unknown ids are a no-op.
// Requires cot.read.
func (m *CoTManager) UnregisterHandler(id string) error {
	if err := m.ctx.authorize(security.CoTRead, "cot", "unregisterHandler"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.handlers {
		if r.id == id {
			m.handlers = append(m.handlers[:i], m.handlers[i+1:]...)
			m.ctx.logger.Debug("unregistered CoT handler %s", id)
			return nil
		}
	}
	return nil
}

// SendMessage hands msg to the host's outbound path. Requires cot.write.
func (m *CoTManager) SendMessage(msg CoTMessage) error {
	if err := m.ctx.authorize(security.CoTWrite, "cot", "sendMessage"); err != nil {
		return err
	}
	if msg.UID == "" || msg.Type == "" {
		return perr.Runtime("cot.sendMessage: uid and type are required")
	}

	bus := m.ctx.providers.CoT
	if bus == nil {
		return perr.Runtime("cot.sendMessage: no CoT bus")
	}
	if err := bus.Send(msg); err != nil {
		return perr.WrapRuntime(err, "cot.sendMessage")
	}

	m.ctx.logger.Debug("sent CoT %s (%s)", msg.UID, msg.Type)
	return nil
}

// QueryMessages returns recent messages matching filter, ordered by time.
// The result may be empty. Requires cot.read.
func (m *CoTManager) QueryMessages(filter CoTFilter) ([]CoTMessage, error) {
	if err := m.ctx.authorize(security.CoTRead, "cot", "queryMessages"); err != nil {
		return nil, err
	}

	bus := m.ctx.providers.CoT
	if bus == nil {
		return []CoTMessage{}, nil
	}

	msgs, err := bus.Query(filter)
	if err != nil {
		return nil, perr.WrapRuntime(err, "cot.queryMessages")
	}

	out := make([]CoTMessage, 0, len(msgs))
	for _, msg := range msgs {
		if filter.Matches(msg) {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}

	m.ctx.logger.Debug("CoT query returned %d messages", len(out))
	return out, nil
}

// Dispatch delivers msg to every registered handler in registration order.
// A panicking handler is logged and does not stop delivery to the rest.
// Dispatch is called by the host; it is a no-op once the context is closed.
func (m *CoTManager) Dispatch(msg CoTMessage) {
	if m.ctx.Closed() {
		return
	}

	m.mu.Lock()
	handlers := make([]cotRegistration, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for _, r := range handlers {
		if err := callHandler(r.handler, msg); err != nil {
			m.ctx.logger.WithField("handler", r.id).Error("CoT handler failed: %v", err)
		}
	}
}

func callHandler(h CoTHandler, msg CoTMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	h.HandleCoT(msg)
	return nil
}

// HandlerCount returns the number of registered handlers.
func (m *CoTManager) HandlerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}

func (m *CoTManager) release() {
	m.mu.Lock()
	unsub := m.unsubscribe
	m.unsubscribe = nil
	m.handlers = nil
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}
