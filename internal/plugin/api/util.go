package api

import (
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	lua "github.com/yuin/gopher-lua"

	plua "github.com/omnitak/pluginhost/internal/plugin/lua"
)

// utilModule implements omnitak.util. Nothing here needs a permission.
type utilModule struct{}

func (m *utilModule) Name() string { return "util" }

func (m *utilModule) Register(L *lua.LState, mod *lua.LTable) error {
	L.SetField(mod, "split", L.NewFunction(m.split))
	L.SetField(mod, "trim", L.NewFunction(m.trim))
	L.SetField(mod, "starts_with", L.NewFunction(m.startsWith))
	L.SetField(mod, "join", L.NewFunction(m.join))
	L.SetField(mod, "uuid", L.NewFunction(m.uuid))
	L.SetField(mod, "distance", L.NewFunction(m.distance))
	L.SetField(mod, "bearing", L.NewFunction(m.bearing))
	L.SetField(mod, "json_valid", L.NewFunction(m.jsonValid))
	L.SetField(mod, "json_get", L.NewFunction(m.jsonGet))
	return nil
}

// split(str, sep) -> {parts}
func (m *utilModule) split(L *lua.LState) int {
	parts := strings.Split(L.CheckString(1), L.CheckString(2))
	tbl := L.NewTable()
	for i, part := range parts {
		tbl.RawSetInt(i+1, lua.LString(part))
	}
	L.Push(tbl)
	return 1
}

// trim(str) -> string
func (m *utilModule) trim(L *lua.LState) int {
	L.Push(lua.LString(strings.TrimSpace(L.CheckString(1))))
	return 1
}

// starts_with(str, prefix) -> bool
func (m *utilModule) startsWith(L *lua.LState) int {
	L.Push(lua.LBool(strings.HasPrefix(L.CheckString(1), L.CheckString(2))))
	return 1
}

// join(list, sep) -> string
func (m *utilModule) join(L *lua.LState) int {
	tbl := L.CheckTable(1)
	sep := L.OptString(2, "")

	parts := make([]string, 0, tbl.Len())
	for i := 1; i <= tbl.Len(); i++ {
		parts = append(parts, L.ToStringMeta(tbl.RawGetInt(i)).String())
	}
	L.Push(lua.LString(strings.Join(parts, sep)))
	return 1
}

// uuid() -> string
func (m *utilModule) uuid(L *lua.LState) int {
	L.Push(lua.LString(uuid.NewString()))
	return 1
}

func checkCoordinate(L *lua.LState, latIdx int) Coordinate {
	return Coordinate{Lat: float64(L.CheckNumber(latIdx)), Lon: float64(L.CheckNumber(latIdx + 1))}
}

// distance(lat1, lon1, lat2, lon2) -> meters
func (m *utilModule) distance(L *lua.LState) int {
	L.Push(lua.LNumber(Distance(checkCoordinate(L, 1), checkCoordinate(L, 3))))
	return 1
}

// bearing(lat1, lon1, lat2, lon2) -> degrees
func (m *utilModule) bearing(L *lua.LState) int {
	L.Push(lua.LNumber(Bearing(checkCoordinate(L, 1), checkCoordinate(L, 3))))
	return 1
}

// json_valid(str) -> bool
func (m *utilModule) jsonValid(L *lua.LState) int {
	L.Push(lua.LBool(gjson.Valid(L.CheckString(1))))
	return 1
}

// json_get(str, path) -> value or nil
// path uses gjson syntax, e.g. "properties.periods.0.temperature".
func (m *utilModule) jsonGet(L *lua.LState) int {
	res := gjson.Get(L.CheckString(1), L.CheckString(2))
	if !res.Exists() {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(plua.NewBridge(L).ToLuaValue(res.Value()))
	return 1
}
