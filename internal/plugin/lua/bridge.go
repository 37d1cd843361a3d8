package lua

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Bridge converts values between Go and Lua. Structs become tables keyed
// by their json tag; time.Time becomes Unix seconds.
type Bridge struct {
	L *lua.LState
}

// NewBridge creates a new Bridge for the given Lua state.
func NewBridge(L *lua.LState) *Bridge {
	return &Bridge{L: L}
}

// ToGoValue converts a Lua value to a Go value. Whole numbers become
// int64, sequences become []any and other tables map[string]any. A table
// reached twice converts to nil the second time.
func (b *Bridge) ToGoValue(lv lua.LValue) any {
	return b.toGo(lv, make(map[*lua.LTable]bool))
}

func (b *Bridge) toGo(lv lua.LValue, seen map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		if f := float64(v); f == float64(int64(f)) {
			return int64(f)
		}
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LUserData:
		return v.Value
	case *lua.LTable:
		if seen[v] {
			return nil
		}
		seen[v] = true
		return b.tableToGo(v, seen)
	}
	return nil
}

func (b *Bridge) tableToGo(t *lua.LTable, seen map[*lua.LTable]bool) any {
	if n := sequenceLen(t); n > 0 {
		arr := make([]any, n)
		for i := range n {
			arr[i] = b.toGo(t.RawGetInt(i+1), seen)
		}
		return arr
	}

	m := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		key := k.String()
		if n, ok := k.(lua.LNumber); ok {
			key = strconv.FormatFloat(float64(n), 'g', -1, 64)
		}
		m[key] = b.toGo(v, seen)
	})
	return m
}

// sequenceLen returns n when t holds exactly the keys 1..n, and 0
// otherwise.
func sequenceLen(t *lua.LTable) int {
	count, maxN := 0, 0
	seq := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		n, ok := k.(lua.LNumber)
		if !ok || n < 1 || float64(n) != float64(int(n)) {
			seq = false
			return
		}
		maxN = max(maxN, int(n))
	})
	if !seq || count != maxN {
		return 0
	}
	return maxN
}

// ToLuaValue converts a Go value to a Lua value. Numbers, slices, maps,
// structs and pointers go through reflection; funcs become nil.
func (b *Bridge) ToLuaValue(v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case []byte:
		return lua.LString(val)
	case time.Time:
		if val.IsZero() {
			return lua.LNil
		}
		return lua.LNumber(float64(val.UnixNano()) / 1e9)
	case time.Duration:
		return lua.LNumber(val.Seconds())
	}
	return b.reflectToLua(reflect.ValueOf(v))
}

func (b *Bridge) reflectToLua(rv reflect.Value) lua.LValue {
	switch rv.Kind() {
	case reflect.Invalid, reflect.Func, reflect.Chan:
		return lua.LNil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return lua.LNil
		}
		return b.ToLuaValue(rv.Elem().Interface())
	case reflect.Bool:
		return lua.LBool(rv.Bool())
	case reflect.String:
		return lua.LString(rv.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return lua.LNumber(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float())
	case reflect.Slice, reflect.Array:
		t := b.L.CreateTable(rv.Len(), 0)
		for i := range rv.Len() {
			t.RawSetInt(i+1, b.ToLuaValue(rv.Index(i).Interface()))
		}
		return t
	case reflect.Map:
		t := b.L.CreateTable(0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			t.RawSet(b.ToLuaValue(iter.Key().Interface()), b.ToLuaValue(iter.Value().Interface()))
		}
		return t
	case reflect.Struct:
		t := b.L.NewTable()
		b.fillStruct(t, rv)
		return t
	}

	ud := b.L.NewUserData()
	ud.Value = rv.Interface()
	return ud
}

// fillStruct copies exported fields of rv into t. Embedded structs are
// flattened into the same table.
func (b *Bridge) fillStruct(t *lua.LTable, rv reflect.Value) {
	rt := rv.Type()
	for i := range rt.NumField() {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			b.fillStruct(t, rv.Field(i))
			continue
		}

		name := field.Name
		if tag, _, _ := strings.Cut(field.Tag.Get("json"), ","); tag == "-" {
			continue
		} else if tag != "" {
			name = tag
		}
		t.RawSetString(name, b.ToLuaValue(rv.Field(i).Interface()))
	}
}

// tableField reads key from t when it holds a T.
func tableField[T lua.LValue](t *lua.LTable, key string) (T, bool) {
	v, ok := t.RawGetString(key).(T)
	return v, ok
}

// GetTableString gets a string field from a Lua table.
func (b *Bridge) GetTableString(t *lua.LTable, key string) (string, bool) {
	s, ok := tableField[lua.LString](t, key)
	return string(s), ok
}

// GetTableInt gets a numeric field truncated to an int.
func (b *Bridge) GetTableInt(t *lua.LTable, key string) (int, bool) {
	n, ok := tableField[lua.LNumber](t, key)
	return int(n), ok
}

// GetTableNumber gets a numeric field from a Lua table.
func (b *Bridge) GetTableNumber(t *lua.LTable, key string) (float64, bool) {
	n, ok := tableField[lua.LNumber](t, key)
	return float64(n), ok
}

// GetTableBool gets a bool field from a Lua table.
func (b *Bridge) GetTableBool(t *lua.LTable, key string) (bool, bool) {
	v, ok := tableField[lua.LBool](t, key)
	return bool(v), ok
}

// GetTableFunc gets a function field from a Lua table.
func (b *Bridge) GetTableFunc(t *lua.LTable, key string) (*lua.LFunction, bool) {
	return tableField[*lua.LFunction](t, key)
}

// GetTableTable gets a table field from a Lua table.
func (b *Bridge) GetTableTable(t *lua.LTable, key string) (*lua.LTable, bool) {
	return tableField[*lua.LTable](t, key)
}

// GetTableStringMap reads a table of string values, as used for CoT
// detail and HTTP headers. Numbers and bools are stringified; other keys
// and values are skipped. Returns nil when the field is absent.
func (b *Bridge) GetTableStringMap(t *lua.LTable, key string) map[string]string {
	sub, ok := tableField[*lua.LTable](t, key)
	if !ok {
		return nil
	}
	m := make(map[string]string)
	sub.ForEach(func(k, v lua.LValue) {
		ks, ok := k.(lua.LString)
		if !ok {
			return
		}
		switch v.(type) {
		case lua.LString, lua.LNumber, lua.LBool:
			m[string(ks)] = v.String()
		}
	})
	return m
}

// CallFunc calls fn in protected mode and returns its results as Go
// values. The stack is left as it was found.
func (b *Bridge) CallFunc(fn *lua.LFunction, args ...any) ([]any, error) {
	top := b.L.GetTop()

	b.L.Push(fn)
	for _, arg := range args {
		b.L.Push(b.ToLuaValue(arg))
	}
	if err := b.L.PCall(len(args), lua.MultRet, nil); err != nil {
		b.L.SetTop(top)
		return nil, err
	}

	n := b.L.GetTop() - top
	if n <= 0 {
		return nil, nil
	}
	results := make([]any, n)
	for i := range n {
		results[i] = b.ToGoValue(b.L.Get(top + i + 1))
	}
	b.L.SetTop(top)
	return results, nil
}
