package api

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/omnitak/pluginhost/internal/logging"
	plua "github.com/omnitak/pluginhost/internal/plugin/lua"
)

// raise turns a Go error into a Lua error. It does not return.
func raise(L *lua.LState, op string, err error) int {
	L.RaiseError("%s: %s", op, err.Error())
	return 0
}

// logModule implements omnitak.log.
type logModule struct {
	ctx *Context
}

func (m *logModule) Name() string { return "log" }

func (m *logModule) Register(L *lua.LState, mod *lua.LTable) error {
	for name, level := range map[string]logging.Level{
		"debug": logging.LevelDebug,
		"info":  logging.LevelInfo,
		"warn":  logging.LevelWarn,
		"error": logging.LevelError,
	} {
		level := level
		L.SetField(mod, name, L.NewFunction(func(L *lua.LState) int {
			m.ctx.logger.WithField("source", "script").Log(level, L.CheckString(1))
			return 0
		}))
	}
	return nil
}

// cotModule implements omnitak.cot.
type cotModule struct {
	ctx  *Context
	call LuaCaller
}

func (m *cotModule) Name() string { return "cot" }

func (m *cotModule) Register(L *lua.LState, mod *lua.LTable) error {
	L.SetField(mod, "register_handler", L.NewFunction(m.registerHandler))
	L.SetField(mod, "unregister_handler", L.NewFunction(m.unregisterHandler))
	L.SetField(mod, "send", L.NewFunction(m.send))
	L.SetField(mod, "query", L.NewFunction(m.query))
	return nil
}

// register_handler(fn) -> id
// fn is called with a message table for every inbound message.
func (m *cotModule) registerHandler(L *lua.LState) int {
	fn := L.CheckFunction(1)
	call := m.call

	id, err := m.ctx.CoT().RegisterHandler(CoTHandlerFunc(func(msg CoTMessage) {
		if call == nil {
			return
		}
		err := call(func(L *lua.LState) error {
			_, err := plua.NewBridge(L).CallFunc(fn, msg)
			return err
		})
		if err != nil {
			m.ctx.logger.Error("script CoT handler: %v", err)
		}
	}))
	if err != nil {
		return raise(L, "cot.register_handler", err)
	}
	L.Push(lua.LString(id))
	return 1
}

// unregister_handler(id)
func (m *cotModule) unregisterHandler(L *lua.LState) int {
	if err := m.ctx.CoT().UnregisterHandler(L.CheckString(1)); err != nil {
		return raise(L, "cot.unregister_handler", err)
	}
	return 0
}

// send({uid, type, lat, lon, hae?, how?, stale_seconds?, detail?})
func (m *cotModule) send(L *lua.LState) int {
	t := L.CheckTable(1)
	b := plua.NewBridge(L)

	now := time.Now().UTC()
	msg := CoTMessage{Time: now, Start: now, Stale: now.Add(5 * time.Minute)}
	msg.UID, _ = b.GetTableString(t, "uid")
	msg.Type, _ = b.GetTableString(t, "type")
	msg.How, _ = b.GetTableString(t, "how")
	msg.Point.Lat, _ = b.GetTableNumber(t, "lat")
	msg.Point.Lon, _ = b.GetTableNumber(t, "lon")
	msg.HAE, _ = b.GetTableNumber(t, "hae")
	if s, ok := b.GetTableNumber(t, "stale_seconds"); ok && s > 0 {
		msg.Stale = now.Add(time.Duration(s * float64(time.Second)))
	}
	msg.Detail = b.GetTableStringMap(t, "detail")

	if err := m.ctx.CoT().SendMessage(msg); err != nil {
		return raise(L, "cot.send", err)
	}
	return 0
}

// query({type?, uid?, since?, until?, bbox?, limit?}) -> {msg...}
func (m *cotModule) query(L *lua.LState) int {
	b := plua.NewBridge(L)

	var f CoTFilter
	if t, ok := L.Get(1).(*lua.LTable); ok {
		f.Type, _ = b.GetTableString(t, "type")
		f.UID, _ = b.GetTableString(t, "uid")
		if s, ok := b.GetTableNumber(t, "since"); ok {
			f.Since = time.Unix(int64(s), 0)
		}
		if u, ok := b.GetTableNumber(t, "until"); ok {
			f.Until = time.Unix(int64(u), 0)
		}
		if bt, ok := b.GetTableTable(t, "bbox"); ok {
			box := BoundingBox{}
			box.MinLat, _ = b.GetTableNumber(bt, "min_lat")
			box.MinLon, _ = b.GetTableNumber(bt, "min_lon")
			box.MaxLat, _ = b.GetTableNumber(bt, "max_lat")
			box.MaxLon, _ = b.GetTableNumber(bt, "max_lon")
			f.BBox = &box
		}
		f.Limit, _ = b.GetTableInt(t, "limit")
	}

	msgs, err := m.ctx.CoT().QueryMessages(f)
	if err != nil {
		return raise(L, "cot.query", err)
	}
	L.Push(b.ToLuaValue(msgs))
	return 1
}

// mapModule implements omnitak.map.
type mapModule struct {
	ctx *Context
}

func (m *mapModule) Name() string { return "map" }

func (m *mapModule) Register(L *lua.LState, mod *lua.LTable) error {
	L.SetField(mod, "add_layer", L.NewFunction(m.addLayer))
	L.SetField(mod, "remove_layer", L.NewFunction(m.removeLayer))
	L.SetField(mod, "add_marker", L.NewFunction(m.addMarker))
	L.SetField(mod, "remove_marker", L.NewFunction(m.removeMarker))
	L.SetField(mod, "center", L.NewFunction(m.center))
	L.SetField(mod, "zoom", L.NewFunction(m.zoom))
	return nil
}

// add_layer({id, name?, kind?, source?, visible?, opacity?, props?})
func (m *mapModule) addLayer(L *lua.LState) int {
	t := L.CheckTable(1)
	b := plua.NewBridge(L)

	layer := Layer{Visible: true, Opacity: 1}
	layer.ID, _ = b.GetTableString(t, "id")
	layer.Name, _ = b.GetTableString(t, "name")
	layer.Kind, _ = b.GetTableString(t, "kind")
	layer.Source, _ = b.GetTableString(t, "source")
	if v, ok := b.GetTableBool(t, "visible"); ok {
		layer.Visible = v
	}
	if o, ok := b.GetTableNumber(t, "opacity"); ok {
		layer.Opacity = o
	}
	layer.Props = b.GetTableStringMap(t, "props")

	if err := m.ctx.Map().AddLayer(layer); err != nil {
		return raise(L, "map.add_layer", err)
	}
	return 0
}

// remove_layer(id)
func (m *mapModule) removeLayer(L *lua.LState) int {
	if err := m.ctx.Map().RemoveLayer(L.CheckString(1)); err != nil {
		return raise(L, "map.remove_layer", err)
	}
	return 0
}

// add_marker({id, title?, icon?, lat, lon, props?})
func (m *mapModule) addMarker(L *lua.LState) int {
	t := L.CheckTable(1)
	b := plua.NewBridge(L)

	var mk Marker
	mk.ID, _ = b.GetTableString(t, "id")
	mk.Title, _ = b.GetTableString(t, "title")
	mk.Icon, _ = b.GetTableString(t, "icon")
	mk.Position.Lat, _ = b.GetTableNumber(t, "lat")
	mk.Position.Lon, _ = b.GetTableNumber(t, "lon")
	mk.Props = b.GetTableStringMap(t, "props")

	if err := m.ctx.Map().AddMarker(mk); err != nil {
		return raise(L, "map.add_marker", err)
	}
	return 0
}

// remove_marker(id)
func (m *mapModule) removeMarker(L *lua.LState) int {
	if err := m.ctx.Map().RemoveMarker(L.CheckString(1)); err != nil {
		return raise(L, "map.remove_marker", err)
	}
	return 0
}

// center() -> lat, lon
func (m *mapModule) center(L *lua.LState) int {
	c, err := m.ctx.Map().GetMapCenter()
	if err != nil {
		return raise(L, "map.center", err)
	}
	L.Push(lua.LNumber(c.Lat))
	L.Push(lua.LNumber(c.Lon))
	return 2
}

// zoom() -> level
func (m *mapModule) zoom(L *lua.LState) int {
	z, err := m.ctx.Map().GetZoomLevel()
	if err != nil {
		return raise(L, "map.zoom", err)
	}
	L.Push(lua.LNumber(z))
	return 1
}

// locationModule implements omnitak.location.
type locationModule struct {
	ctx *Context
}

func (m *locationModule) Name() string { return "location" }

func (m *locationModule) Register(L *lua.LState, mod *lua.LTable) error {
	L.SetField(mod, "current", L.NewFunction(m.current))
	L.SetField(mod, "update", L.NewFunction(m.update))
	return nil
}

// current() -> {lat, lon, altitude, accuracy, heading, speed, time}
func (m *locationModule) current(L *lua.LState) int {
	loc, err := m.ctx.Location().GetCurrentLocation()
	if err != nil {
		return raise(L, "location.current", err)
	}
	L.Push(plua.NewBridge(L).ToLuaValue(loc))
	return 1
}

// update({lat, lon, altitude?, accuracy?, heading?, speed?})
func (m *locationModule) update(L *lua.LState) int {
	t := L.CheckTable(1)
	b := plua.NewBridge(L)

	loc := Location{Time: time.Now().UTC()}
	loc.Lat, _ = b.GetTableNumber(t, "lat")
	loc.Lon, _ = b.GetTableNumber(t, "lon")
	loc.Altitude, _ = b.GetTableNumber(t, "altitude")
	loc.Accuracy, _ = b.GetTableNumber(t, "accuracy")
	loc.Heading, _ = b.GetTableNumber(t, "heading")
	loc.Speed, _ = b.GetTableNumber(t, "speed")

	if err := m.ctx.Location().UpdateLocation(loc); err != nil {
		return raise(L, "location.update", err)
	}
	return 0
}

// uiModule implements omnitak.ui.
type uiModule struct {
	ctx  *Context
	call LuaCaller
}

func (m *uiModule) Name() string { return "ui" }

func (m *uiModule) Register(L *lua.LState, mod *lua.LTable) error {
	L.SetField(mod, "register", L.NewFunction(m.register))
	L.SetField(mod, "alert", L.NewFunction(m.alert))
	return nil
}

// staticProvider is a UIProvider built from a script table.
type staticProvider struct {
	item  *ToolbarItem
	panel *Panel
}

func (p staticProvider) ToolbarItem() *ToolbarItem { return p.item }
func (p staticProvider) Panel() *Panel             { return p.panel }

// register({toolbar = {id?, title, icon?, action?}, panel = {id?, title, content?}})
func (m *uiModule) register(L *lua.LState) int {
	t := L.CheckTable(1)
	b := plua.NewBridge(L)

	var p staticProvider
	if tt, ok := b.GetTableTable(t, "toolbar"); ok {
		item := &ToolbarItem{}
		item.ID, _ = b.GetTableString(tt, "id")
		item.Title, _ = b.GetTableString(tt, "title")
		item.Icon, _ = b.GetTableString(tt, "icon")
		if fn, ok := b.GetTableFunc(tt, "action"); ok && m.call != nil {
			call := m.call
			item.Action = func() {
				err := call(func(L *lua.LState) error {
					_, err := plua.NewBridge(L).CallFunc(fn)
					return err
				})
				if err != nil {
					m.ctx.logger.Error("script toolbar action: %v", err)
				}
			}
		}
		p.item = item
	}
	if pt, ok := b.GetTableTable(t, "panel"); ok {
		panel := &Panel{}
		panel.ID, _ = b.GetTableString(pt, "id")
		panel.Title, _ = b.GetTableString(pt, "title")
		panel.Content, _ = b.GetTableString(pt, "content")
		p.panel = panel
	}

	if err := m.ctx.UI().RegisterProvider(p); err != nil {
		return raise(L, "ui.register", err)
	}
	return 0
}

// alert(title, message, actions?)
// actions is a list of titles or {title, style} tables.
func (m *uiModule) alert(L *lua.LState) int {
	title := L.CheckString(1)
	message := L.OptString(2, "")
	b := plua.NewBridge(L)

	var actions []AlertAction
	if t, ok := L.Get(3).(*lua.LTable); ok {
		t.ForEach(func(_, v lua.LValue) {
			switch a := v.(type) {
			case lua.LString:
				actions = append(actions, AlertAction{Title: string(a), Style: AlertDefault})
			case *lua.LTable:
				action := AlertAction{Style: AlertDefault}
				action.Title, _ = b.GetTableString(a, "title")
				if s, ok := b.GetTableString(a, "style"); ok {
					action.Style = AlertStyle(s)
				}
				actions = append(actions, action)
			}
		})
	}

	if err := m.ctx.UI().ShowAlert(title, message, actions...); err != nil {
		return raise(L, "ui.alert", err)
	}
	return 0
}

// networkModule implements omnitak.network.
type networkModule struct {
	ctx *Context
}

func (m *networkModule) Name() string { return "network" }

func (m *networkModule) Register(L *lua.LState, mod *lua.LTable) error {
	L.SetField(mod, "request", L.NewFunction(m.request))
	return nil
}

// request({url, method?, headers?, body?}) -> {status, headers, body}
// Blocks the script until the response arrives or the script's own
// execution deadline passes.
func (m *networkModule) request(L *lua.LState) int {
	t := L.CheckTable(1)
	b := plua.NewBridge(L)

	var req Request
	req.URL, _ = b.GetTableString(t, "url")
	req.Method, _ = b.GetTableString(t, "method")
	req.Headers = b.GetTableStringMap(t, "headers")
	if body, ok := b.GetTableString(t, "body"); ok {
		req.Body = []byte(body)
	}

	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := m.ctx.Network().Do(ctx, req)
	if err != nil {
		return raise(L, "network.request", err)
	}

	out := L.NewTable()
	L.SetField(out, "status", lua.LNumber(resp.StatusCode))
	L.SetField(out, "body", lua.LString(resp.Body))
	headers := L.NewTable()
	for k := range resp.Headers {
		L.SetField(headers, k, lua.LString(resp.Headers.Get(k)))
	}
	L.SetField(out, "headers", headers)
	L.Push(out)
	return 1
}
