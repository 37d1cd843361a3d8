package config

import (
	"reflect"
	"testing"
)

func TestDeepMerge(t *testing.T) {
	dst := map[string]any{
		"platform": "ios",
		"log":      map[string]any{"level": "info", "json": false},
		"paths":    []any{"a"},
	}
	src := map[string]any{
		"log":   map[string]any{"level": "debug"},
		"paths": []any{"b", "c"},
		"watch": true,
	}

	got := DeepMerge(dst, src)
	want := map[string]any{
		"platform": "ios",
		"log":      map[string]any{"level": "debug", "json": false},
		"paths":    []any{"b", "c"},
		"watch":    true,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DeepMerge = %#v", got)
	}

	// src is copied, not shared
	src["paths"].([]any)[0] = "z"
	if got["paths"].([]any)[0] != "b" {
		t.Error("merged slice aliases src")
	}

	if DeepMerge(nil, nil) == nil {
		t.Error("DeepMerge(nil, nil) returned nil")
	}
}

func TestPathAccess(t *testing.T) {
	m := map[string]any{}
	SetByPath(m, "plugins.wx.units", "metric")
	SetByPath(m, "platform", "ios")

	if v, ok := GetByPath(m, "plugins.wx.units"); !ok || v != "metric" {
		t.Errorf("GetByPath = %v, %t", v, ok)
	}
	if _, ok := GetByPath(m, "platform.sub"); ok {
		t.Error("walked through a scalar")
	}
	if _, ok := GetByPath(nil, "x"); ok {
		t.Error("found a value in nil map")
	}
}
