package lua

import (
	"reflect"
	"testing"
	"time"

	glua "github.com/yuin/gopher-lua"
)

func TestBridgeToGoValue(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L)

	tests := []struct {
		name     string
		input    glua.LValue
		expected interface{}
	}{
		{"nil", glua.LNil, nil},
		{"true", glua.LTrue, true},
		{"integer", glua.LNumber(42), int64(42)},
		{"float", glua.LNumber(38.5), 38.5},
		{"string", glua.LString("a-f-G"), "a-f-G"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := bridge.ToGoValue(tt.input)
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("ToGoValue(%v) = %v (%T), want %v (%T)",
					tt.input, result, result, tt.expected, tt.expected)
			}
		})
	}
}

func TestBridgeToGoValueTable(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L)

	t.Run("array", func(t *testing.T) {
		tbl := L.NewTable()
		tbl.RawSetInt(1, glua.LString("a"))
		tbl.RawSetInt(2, glua.LString("b"))

		want := []interface{}{"a", "b"}
		if got := bridge.ToGoValue(tbl); !reflect.DeepEqual(got, want) {
			t.Errorf("ToGoValue(array) = %v, want %v", got, want)
		}
	})

	t.Run("map", func(t *testing.T) {
		tbl := L.NewTable()
		tbl.RawSetString("uid", glua.LString("ANDROID-1"))
		tbl.RawSetString("hae", glua.LNumber(12))

		want := map[string]interface{}{"uid": "ANDROID-1", "hae": int64(12)}
		if got := bridge.ToGoValue(tbl); !reflect.DeepEqual(got, want) {
			t.Errorf("ToGoValue(map) = %v, want %v", got, want)
		}
	})

	t.Run("sparse array is a map", func(t *testing.T) {
		tbl := L.NewTable()
		tbl.RawSetInt(1, glua.LString("a"))
		tbl.RawSetInt(3, glua.LString("c"))

		if _, ok := bridge.ToGoValue(tbl).(map[string]interface{}); !ok {
			t.Errorf("ToGoValue(sparse) = %T, want map", bridge.ToGoValue(tbl))
		}
	})

	t.Run("cycle", func(t *testing.T) {
		tbl := L.NewTable()
		tbl.RawSetString("self", tbl)

		m, ok := bridge.ToGoValue(tbl).(map[string]interface{})
		if !ok {
			t.Fatalf("ToGoValue(cycle) = %T, want map", bridge.ToGoValue(tbl))
		}
		if m["self"] != nil {
			t.Errorf("self = %v, want nil", m["self"])
		}
	})
}

func TestBridgeToLuaValueScalars(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L)

	type style string

	tests := []struct {
		name  string
		input interface{}
		want  glua.LValue
	}{
		{"nil", nil, glua.LNil},
		{"bool", true, glua.LTrue},
		{"int", 7, glua.LNumber(7)},
		{"uint16", uint16(7), glua.LNumber(7)},
		{"float", 2.5, glua.LNumber(2.5)},
		{"string", "ok", glua.LString("ok")},
		{"bytes", []byte("raw"), glua.LString("raw")},
		{"named string", style("cancel"), glua.LString("cancel")},
		{"duration", 1500 * time.Millisecond, glua.LNumber(1.5)},
		{"zero time", time.Time{}, glua.LNil},
		{"time", time.Unix(1700000000, 0), glua.LNumber(1700000000)},
		{"func", func() {}, glua.LNil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bridge.ToLuaValue(tt.input); got != tt.want {
				t.Errorf("ToLuaValue(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestBridgeToLuaValueCollections(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L)

	tbl, ok := bridge.ToLuaValue([]string{"cot.read", "map.read"}).(*glua.LTable)
	if !ok {
		t.Fatal("[]string did not convert to a table")
	}
	if tbl.Len() != 2 || tbl.RawGetInt(2).String() != "map.read" {
		t.Errorf("[]string table = len %d, [2]=%v", tbl.Len(), tbl.RawGetInt(2))
	}

	tbl, ok = bridge.ToLuaValue(map[string]string{"callsign": "VIPER"}).(*glua.LTable)
	if !ok {
		t.Fatal("map[string]string did not convert to a table")
	}
	if got := tbl.RawGetString("callsign").String(); got != "VIPER" {
		t.Errorf("callsign = %q, want VIPER", got)
	}

	tbl, ok = bridge.ToLuaValue(map[string]interface{}{"n": 1, "list": []interface{}{"x"}}).(*glua.LTable)
	if !ok {
		t.Fatal("map[string]interface{} did not convert to a table")
	}
	if _, ok := tbl.RawGetString("list").(*glua.LTable); !ok {
		t.Error("nested list was not converted to a table")
	}
}

type point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type fix struct {
	point
	Accuracy float64   `json:"accuracy"`
	Time     time.Time `json:"time"`
	Secret   string    `json:"-"`
	Plain    string
	hidden   int
}

type Embedded struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type exportedFix struct {
	Embedded
	Source string `json:"source,omitempty"`
}

func TestBridgeToLuaValueStruct(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L)

	in := exportedFix{Embedded: Embedded{Lat: 38.9, Lon: -77.0}, Source: "gps"}
	tbl, ok := bridge.ToLuaValue(in).(*glua.LTable)
	if !ok {
		t.Fatalf("ToLuaValue(struct) = %T, want table", bridge.ToLuaValue(in))
	}

	if got := tbl.RawGetString("lat"); got != glua.LNumber(38.9) {
		t.Errorf("lat = %v, want 38.9 (embedded fields flatten)", got)
	}
	if got := tbl.RawGetString("source"); got != glua.LString("gps") {
		t.Errorf("source = %v, want gps (omitempty stripped from tag)", got)
	}
	if got := tbl.RawGetString("Embedded"); got != glua.LNil {
		t.Errorf("Embedded = %v, want nil", got)
	}

	// Pointers dereference.
	if _, ok := bridge.ToLuaValue(&in).(*glua.LTable); !ok {
		t.Error("pointer to struct did not convert to a table")
	}
	var nilFix *exportedFix
	if got := bridge.ToLuaValue(nilFix); got != glua.LNil {
		t.Errorf("nil pointer = %v, want nil", got)
	}
}

func TestBridgeToLuaValueStructTags(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L)

	in := fix{Accuracy: 5, Time: time.Unix(100, 0), Secret: "s", Plain: "p", hidden: 1}
	tbl := bridge.ToLuaValue(in).(*glua.LTable)

	if got := tbl.RawGetString("accuracy"); got != glua.LNumber(5) {
		t.Errorf("accuracy = %v, want 5", got)
	}
	if got := tbl.RawGetString("time"); got != glua.LNumber(100) {
		t.Errorf("time = %v, want 100", got)
	}
	if got := tbl.RawGetString("Secret"); got != glua.LNil {
		t.Errorf("Secret = %v, want nil for json:\"-\"", got)
	}
	if got := tbl.RawGetString("Plain"); got != glua.LString("p") {
		t.Errorf("Plain = %v, want p", got)
	}
	if got := tbl.RawGetString("hidden"); got != glua.LNil {
		t.Errorf("hidden = %v, want nil", got)
	}
}

func TestBridgeToLuaValueStructSlice(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L)

	tbl := bridge.ToLuaValue([]point{{Lat: 1}, {Lat: 2}}).(*glua.LTable)
	if tbl.Len() != 2 {
		t.Fatalf("len = %d, want 2", tbl.Len())
	}
	second := tbl.RawGetInt(2).(*glua.LTable)
	if got := second.RawGetString("lat"); got != glua.LNumber(2) {
		t.Errorf("[2].lat = %v, want 2", got)
	}
}

func TestBridgeGetTable(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L)

	if err := L.DoString(`
		msg = {
			uid = "ANDROID-1",
			lat = 38.5,
			limit = 10,
			visible = false,
			detail = { callsign = "VIPER", speed = 12, ok = true, [1] = "skip", nested = {} },
			fn = function() end,
			bbox = {},
		}
	`); err != nil {
		t.Fatal(err)
	}
	tbl := L.GetGlobal("msg").(*glua.LTable)

	if s, ok := bridge.GetTableString(tbl, "uid"); !ok || s != "ANDROID-1" {
		t.Errorf("GetTableString(uid) = %q, %v", s, ok)
	}
	if _, ok := bridge.GetTableString(tbl, "lat"); ok {
		t.Error("GetTableString(lat) ok = true for a number")
	}
	if n, ok := bridge.GetTableNumber(tbl, "lat"); !ok || n != 38.5 {
		t.Errorf("GetTableNumber(lat) = %v, %v", n, ok)
	}
	if _, ok := bridge.GetTableNumber(tbl, "missing"); ok {
		t.Error("GetTableNumber(missing) ok = true")
	}
	if n, ok := bridge.GetTableInt(tbl, "limit"); !ok || n != 10 {
		t.Errorf("GetTableInt(limit) = %v, %v", n, ok)
	}
	if v, ok := bridge.GetTableBool(tbl, "visible"); !ok || v {
		t.Errorf("GetTableBool(visible) = %v, %v", v, ok)
	}
	if _, ok := bridge.GetTableFunc(tbl, "fn"); !ok {
		t.Error("GetTableFunc(fn) ok = false")
	}
	if _, ok := bridge.GetTableTable(tbl, "bbox"); !ok {
		t.Error("GetTableTable(bbox) ok = false")
	}

	detail := bridge.GetTableStringMap(tbl, "detail")
	want := map[string]string{"callsign": "VIPER", "speed": "12", "ok": "true"}
	if !reflect.DeepEqual(detail, want) {
		t.Errorf("GetTableStringMap(detail) = %v, want %v", detail, want)
	}
	if m := bridge.GetTableStringMap(tbl, "missing"); m != nil {
		t.Errorf("GetTableStringMap(missing) = %v, want nil", m)
	}
}

func TestBridgeCallFunc(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L)

	if err := L.DoString(`
		function describe(msg)
			return msg.uid .. "@" .. msg.lat, 2
		end
		function fail() error("nope") end
	`); err != nil {
		t.Fatal(err)
	}

	fn := L.GetGlobal("describe").(*glua.LFunction)
	top := L.GetTop()
	results, err := bridge.CallFunc(fn, map[string]interface{}{"uid": "u1", "lat": 1})
	if err != nil {
		t.Fatalf("CallFunc() error = %v", err)
	}
	if want := []interface{}{"u1@1", int64(2)}; !reflect.DeepEqual(results, want) {
		t.Errorf("CallFunc() = %v, want %v", results, want)
	}
	if L.GetTop() != top {
		t.Errorf("stack top = %d, want %d", L.GetTop(), top)
	}

	if _, err := bridge.CallFunc(L.GetGlobal("fail").(*glua.LFunction)); err == nil {
		t.Error("CallFunc(fail) should return error")
	}
}
